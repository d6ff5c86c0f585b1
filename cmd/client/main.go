package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"sleipnir/internal/client"
	"sleipnir/internal/config"
	"sleipnir/internal/net"
	"sleipnir/internal/sim"
)

func main() {
	// CLI parameter parsing.
	envFile := flag.String("env", ".env", "Environment file (instrument must match the server)")
	action := flag.String("action", "place", "Action: ['place', 'market', 'amend', 'cancel', 'subscribe', 'sim']")

	// Order parameters.
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.Float64("price", 0, "Limit price")
	qtyStr := flag.String("qty", "1", "Quantity or comma-separated list (e.g. 1,2,5)")
	orderID := flag.String("order", "", "Order id for amend/cancel")

	// Subscribe parameters.
	topic := flag.String("topic", net.TopicQuotes, "Public topic: quotes, trades or lobviz")

	// Sim parameters.
	ref := flag.Float64("ref", 0, "Reference price for the sim agent")
	interval := flag.Duration("interval", 250*time.Millisecond, "Sim agent action interval")

	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	instrument := cfg.Instrument.Build()
	c := client.New(cfg.Network.Host, cfg.Network.Port, instrument)

	side := "Buy"
	if strings.EqualFold(*sideStr, "sell") {
		side = "Sell"
	}

	switch strings.ToLower(*action) {
	case "place":
		initTrading(ctx, c)
		for _, qty := range parseQuantities(*qtyStr) {
			if err := c.LimitOrder(side, qty, *price); err != nil {
				log.Error().Err(err).Float64("qty", qty).Msg("failed to place order")
				continue
			}
			fmt.Printf("-> Sent %s limit %v @ %v\n", strings.ToUpper(side), qty, *price)
		}
		waitForReports(ctx)

	case "market":
		initTrading(ctx, c)
		for _, qty := range parseQuantities(*qtyStr) {
			if err := c.MarketOrder(side, qty); err != nil {
				log.Error().Err(err).Float64("qty", qty).Msg("failed to place market order")
				continue
			}
			fmt.Printf("-> Sent %s market %v\n", strings.ToUpper(side), qty)
		}
		waitForReports(ctx)

	case "amend":
		if *orderID == "" {
			log.Fatal().Msg("-order is required for amendment")
		}
		initTrading(ctx, c)
		qty := parseQuantities(*qtyStr)[0]
		if err := c.AmendOrder(*orderID, qty, *price); err != nil {
			log.Fatal().Err(err).Msg("failed to amend order")
		}
		fmt.Printf("-> Sent amend for %s: %v @ %v\n", *orderID, qty, *price)
		waitForReports(ctx)

	case "cancel":
		if *orderID == "" {
			log.Fatal().Msg("-order is required for cancellation")
		}
		initTrading(ctx, c)
		if err := c.CancelOrder(*orderID); err != nil {
			log.Fatal().Err(err).Msg("failed to cancel order")
		}
		fmt.Printf("-> Sent cancel for %s\n", *orderID)
		waitForReports(ctx)

	case "subscribe":
		cancel, err := c.Subscribe(ctx, *topic, printFrame)
		if err != nil {
			log.Fatal().Err(err).Msg("subscription failed")
		}
		defer cancel()
		<-ctx.Done()

	case "sim":
		refPrice := *ref
		if refPrice == 0 {
			refPrice = instrument.AdjustPrice(0.5 * (cfg.Instrument.MinPrice + cfg.Instrument.MaxPrice))
		}
		agent := sim.NewAgent(c, instrument, refPrice, uint64(os.Getpid()))
		if err := agent.Run(ctx, *interval); err != nil {
			log.Fatal().Err(err).Msg("sim agent exited")
		}

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}
}

func initTrading(ctx context.Context, c *client.Client) {
	clientID, err := c.InitTrading(ctx, printFrame)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize trading")
	}
	fmt.Printf("Trading as %s\n", clientID)
}

func printFrame(env net.Envelope) {
	if env.Event == "error" {
		fmt.Printf("<- error: %s\n", env.Message)
		return
	}
	var data any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return
	}
	fmt.Printf("<- %s: %v\n", env.Event, data)
}

// waitForReports keeps the session open so execution reports arrive.
func waitForReports(ctx context.Context) {
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	<-ctx.Done()
}

// parseQuantities splits a comma-separated string into sizes.
func parseQuantities(input string) []float64 {
	var result []float64
	for _, part := range strings.Split(input, ",") {
		q, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			log.Fatal().Str("qty", part).Msg("invalid quantity")
		}
		result = append(result, q)
	}
	if len(result) == 0 {
		result = []float64{1}
	}
	return result
}
