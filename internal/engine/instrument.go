package engine

import (
	"github.com/shopspring/decimal"
)

// LotSize bounds the order quantities accepted for an instrument.
type LotSize struct {
	MaxQty   float64
	MinQty   float64
	StepSize float64
}

// PriceDetails bounds the prices accepted for an instrument.
type PriceDetails struct {
	TickSize float64
	MinPrice float64
	MaxPrice float64
}

// Precision holds the decimal digit counts the engine rounds to.
type Precision struct {
	Price     int32
	Quote     int32
	Quantity  int32
	BaseAsset int32
}

// MarginDetails and Fees are carried on the instrument but unused by
// matching.
type MarginDetails struct {
	MarginPct   float64
	MMarginPct  float64
	MarginAsset string
}

type Fees struct {
	LiquidationFee float64
	TakingFee      float64
}

// Instrument is the immutable set of trading rules for one symbol.
type Instrument struct {
	Symbol         string
	ContractType   string
	BaseAsset      string
	QuoteAsset     string
	TriggerProtect float64
	Fees           *Fees
	LotSize        LotSize
	Precision      Precision
	PriceDetails   PriceDetails
	MarginDetails  *MarginDetails
}

// isDivisible reports whether x is an integer multiple of y, tested in
// exact decimal arithmetic. Binary float modulo would misclassify values
// like 2.002 % 0.001.
func isDivisible(x, y float64) bool {
	if y == 0 {
		return false
	}
	return decimal.NewFromFloat(x).Mod(decimal.NewFromFloat(y)).IsZero()
}

// roundTo rounds half-to-even to the given number of decimal digits.
func roundTo(x float64, places int32) float64 {
	v, _ := decimal.NewFromFloat(x).RoundBank(places).Float64()
	return v
}

// IsValidQuantity reports whether quantity lies within the lot bounds
// and on the step grid.
func (i *Instrument) IsValidQuantity(quantity float64) bool {
	ls := i.LotSize
	if quantity > ls.MaxQty {
		return false
	}
	if quantity < ls.MinQty {
		return false
	}
	return isDivisible(quantity, ls.StepSize)
}

// IsValidPrice reports whether price lies within the price bounds and on
// the tick grid.
func (i *Instrument) IsValidPrice(price float64) bool {
	pd := i.PriceDetails
	if price < pd.MinPrice {
		return false
	}
	if price > pd.MaxPrice {
		return false
	}
	return isDivisible(price, pd.TickSize)
}

// AdjustPrice rounds price to the instrument's price precision.
func (i *Instrument) AdjustPrice(price float64) float64 {
	return roundTo(price, i.Precision.Price)
}

// AdjustQuantity rounds quantity to the instrument's quantity precision.
func (i *Instrument) AdjustQuantity(quantity float64) float64 {
	return roundTo(quantity, i.Precision.Quantity)
}

// AdjustVolume rounds a volume figure to the instrument's quote precision.
func (i *Instrument) AdjustVolume(volume float64) float64 {
	return roundTo(volume, i.Precision.Quote)
}
