package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"sleipnir/internal/engine"
)

// Config holds everything the server needs to come up.
type Config struct {
	Network    NetworkConfig
	Exchange   ExchangeConfig
	Engine     EngineConfig
	Instrument InstrumentConfig
}

type NetworkConfig struct {
	Host string
	Port int
}

// ExchangeConfig drives the public stream cadences and session policing.
type ExchangeConfig struct {
	QuotesFreq    time.Duration
	TradesFreq    time.Duration
	ClientTimeout time.Duration
	Workers       int
}

type EngineConfig struct {
	CancelPolicy engine.CancelPolicy
}

// InstrumentConfig is the flat env-friendly form of an engine.Instrument.
type InstrumentConfig struct {
	Symbol            string
	TickSize          float64
	MinPrice          float64
	MaxPrice          float64
	MinQty            float64
	MaxQty            float64
	StepSize          float64
	PricePrecision    int
	QuotePrecision    int
	QuantityPrecision int
}

// Load reads configuration from the environment, optionally seeded from
// a .env file. A missing file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := Config{
		Network: NetworkConfig{
			Host: getEnv("NETWORK_HOST", "localhost"),
			Port: getEnvInt("NETWORK_PORT", 9876),
		},
		Exchange: ExchangeConfig{
			QuotesFreq:    getEnvDuration("QUOTES_FREQ", 10*time.Millisecond),
			TradesFreq:    getEnvDuration("TRADES_FREQ", 10*time.Millisecond),
			ClientTimeout: getEnvDuration("CLIENT_TIMEOUT", 10*time.Second),
			Workers:       getEnvInt("SERVER_WORKERS", 10),
		},
		Engine: EngineConfig{
			CancelPolicy: cancelPolicy(getEnv("CANCEL_POLICY", "original")),
		},
		Instrument: InstrumentConfig{
			Symbol:            getEnv("SYMBOL", "TEST"),
			TickSize:          getEnvFloat("TICK_SIZE", 0.001),
			MinPrice:          getEnvFloat("MIN_PRICE", 0.1),
			MaxPrice:          getEnvFloat("MAX_PRICE", 10000),
			MinQty:            getEnvFloat("MIN_QTY", 1),
			MaxQty:            getEnvFloat("MAX_QTY", 100),
			StepSize:          getEnvFloat("STEP_SIZE", 1),
			PricePrecision:    getEnvInt("PRICE_PRECISION", 4),
			QuotePrecision:    getEnvInt("QUOTE_PRECISION", 3),
			QuantityPrecision: getEnvInt("QUANTITY_PRECISION", 5),
		},
	}
	if cfg.Instrument.TickSize <= 0 {
		return Config{}, fmt.Errorf("TICK_SIZE must be positive, got %v", cfg.Instrument.TickSize)
	}
	if cfg.Instrument.StepSize <= 0 {
		return Config{}, fmt.Errorf("STEP_SIZE must be positive, got %v", cfg.Instrument.StepSize)
	}
	return cfg, nil
}

// Build converts the flat config into the engine's instrument.
func (c InstrumentConfig) Build() *engine.Instrument {
	return &engine.Instrument{
		Symbol: c.Symbol,
		LotSize: engine.LotSize{
			MaxQty:   c.MaxQty,
			MinQty:   c.MinQty,
			StepSize: c.StepSize,
		},
		Precision: engine.Precision{
			Price:    int32(c.PricePrecision),
			Quote:    int32(c.QuotePrecision),
			Quantity: int32(c.QuantityPrecision),
		},
		PriceDetails: engine.PriceDetails{
			TickSize: c.TickSize,
			MinPrice: c.MinPrice,
			MaxPrice: c.MaxPrice,
		},
	}
}

func (n NetworkConfig) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

func cancelPolicy(name string) engine.CancelPolicy {
	if name == "remaining" {
		return engine.DeductRemaining
	}
	return engine.DeductOriginal
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
