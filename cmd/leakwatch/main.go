package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"leakwatch/internal/config"
	"leakwatch/internal/logger"
	"leakwatch/internal/processor"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log := logger.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Logging.Level)
	log = logger.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			log.Fatal().Str("key", cerr.Key).Err(err).Msg("invalid configuration")
		}
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	password, err := config.ResolvePassword(os.Stdin, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("no email credential")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("source", cfg.Collector.Source).
		Dur("interval", cfg.Collector.Interval).
		Str("store", cfg.Store.Path).
		Msg("leakwatch starting, press Ctrl+C to stop")

	if err := processor.New(cfg, password).Run(ctx); err != nil {
		stop()
		log.Fatal().Err(err).Msg("leakwatch exited")
	}
	log.Info().Msg("leakwatch stopped")
}
