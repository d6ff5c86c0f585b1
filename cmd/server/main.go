package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"sleipnir/internal/config"
	"sleipnir/internal/engine"
	"sleipnir/internal/net"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file to load configuration from")
	seed := flag.Bool("seed", false, "Preload the book with a synthetic starting state")
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

	// Setup the websocket server and the matching engine.
	instrument := cfg.Instrument.Build()
	eng := engine.New(
		[]*engine.Instrument{instrument},
		engine.WithCancelPolicy(cfg.Engine.CancelPolicy),
	)
	srv := net.NewServer(cfg.Network.Addr(), instrument.Symbol, eng, cfg.Exchange)
	eng.SetReporter(srv.SendPrivate)

	if *seed {
		mid := instrument.AdjustPrice(0.5 * (cfg.Instrument.MinPrice + cfg.Instrument.MaxPrice))
		tick := cfg.Instrument.TickSize
		unit := cfg.Instrument.StepSize
		bids := []engine.Level{
			{Price: instrument.AdjustPrice(mid - tick), Volume: 10 * unit},
			{Price: instrument.AdjustPrice(mid - 2*tick), Volume: 20 * unit},
		}
		asks := []engine.Level{
			{Price: instrument.AdjustPrice(mid + tick), Volume: 10 * unit},
			{Price: instrument.AdjustPrice(mid + 2*tick), Volume: 15 * unit},
		}
		if err := eng.InitState(instrument.Symbol, unit, bids, asks); err != nil {
			log.Fatal().Err(err).Msg("seeding the book failed")
		}
		log.Info().Float64("mid", mid).Msg("book seeded")
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
