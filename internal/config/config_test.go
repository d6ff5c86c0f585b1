package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleipnir/internal/engine"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:9876", cfg.Network.Addr())
	assert.Equal(t, 10*time.Millisecond, cfg.Exchange.QuotesFreq)
	assert.Equal(t, 10*time.Second, cfg.Exchange.ClientTimeout)
	assert.Equal(t, engine.DeductOriginal, cfg.Engine.CancelPolicy)
	assert.Equal(t, "TEST", cfg.Instrument.Symbol)
	assert.Equal(t, 0.001, cfg.Instrument.TickSize)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NETWORK_HOST", "0.0.0.0")
	t.Setenv("NETWORK_PORT", "9001")
	t.Setenv("QUOTES_FREQ", "250ms")
	t.Setenv("CANCEL_POLICY", "remaining")
	t.Setenv("SYMBOL", "BTCUSD")
	t.Setenv("TICK_SIZE", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9001", cfg.Network.Addr())
	assert.Equal(t, 250*time.Millisecond, cfg.Exchange.QuotesFreq)
	assert.Equal(t, engine.DeductRemaining, cfg.Engine.CancelPolicy)
	assert.Equal(t, "BTCUSD", cfg.Instrument.Symbol)
	assert.Equal(t, 0.5, cfg.Instrument.TickSize)
}

func TestLoadRejectsBadGrid(t *testing.T) {
	t.Setenv("TICK_SIZE", "-1")
	_, err := Load("")
	assert.Error(t, err)
}

func TestInstrumentBuild(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	instrument := cfg.Instrument.Build()
	assert.Equal(t, "TEST", instrument.Symbol)
	assert.True(t, instrument.IsValidPrice(2.002))
	assert.False(t, instrument.IsValidPrice(2.0005))
	assert.True(t, instrument.IsValidQuantity(1))
	assert.False(t, instrument.IsValidQuantity(0.5))
}
