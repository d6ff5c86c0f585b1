package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testInstrument() *Instrument {
	return &Instrument{
		Symbol:  "TEST",
		LotSize: LotSize{MaxQty: 100, MinQty: 1, StepSize: 1},
		Precision: Precision{
			Price:    4,
			Quote:    3,
			Quantity: 5,
		},
		PriceDetails: PriceDetails{TickSize: 0.001, MinPrice: 0.1, MaxPrice: 10000},
	}
}

func TestIsDivisible(t *testing.T) {
	// 2.002 % 0.001 in binary floats is not zero; the decimal test must
	// still accept it.
	assert.True(t, isDivisible(2.002, 0.001))
	assert.True(t, isDivisible(3.0, 0.1))
	assert.True(t, isDivisible(10, 1))
	assert.False(t, isDivisible(2.0005, 0.001))
	assert.False(t, isDivisible(1.5, 1))
	assert.False(t, isDivisible(1, 0))
}

func TestIsValidPrice(t *testing.T) {
	instrument := testInstrument()

	tests := []struct {
		name  string
		price float64
		want  bool
	}{
		{"on grid", 2.002, true},
		{"min price", 0.1, true},
		{"max price", 10000, true},
		{"off grid", 2.0005, false},
		{"below min", 0.05, false},
		{"above max", 10000.001, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, instrument.IsValidPrice(tt.price))
		})
	}
}

func TestIsValidQuantity(t *testing.T) {
	instrument := testInstrument()

	tests := []struct {
		name string
		qty  float64
		want bool
	}{
		{"min lot", 1, true},
		{"max lot", 100, true},
		{"mid lot", 42, true},
		{"below min", 0.5, false},
		{"above max", 101, false},
		{"off step", 1.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, instrument.IsValidQuantity(tt.qty))
		})
	}
}

func TestAdjust(t *testing.T) {
	instrument := testInstrument()

	assert.Equal(t, 2.0002, instrument.AdjustPrice(2.00021))
	assert.Equal(t, 2.0002, instrument.AdjustPrice(2.00019))
	assert.Equal(t, 1.0, instrument.AdjustQuantity(1.000004))
	assert.Equal(t, 1.234, instrument.AdjustVolume(1.2344))
	assert.Equal(t, 1.235, instrument.AdjustVolume(1.2346))
}
