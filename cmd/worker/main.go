package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/app"
	"github.com/QTest-hq/riskplan/internal/config"
	rpnats "github.com/QTest-hq/riskplan/internal/nats"
	"github.com/QTest-hq/riskplan/internal/worker"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load policy")
	}

	workerType := os.Getenv("WORKER_TYPE")
	if workerType == "" {
		workerType = string(worker.WorkerAll)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer backend.Close()

	natsClient, err := rpnats.NewClient(cfg.NATSURL, "riskplan-worker")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer natsClient.Close()
	log.Info().Str("url", cfg.NATSURL).Msg("connected to NATS")

	pool, err := worker.NewPool(worker.PoolConfig{
		WorkerType: workerType,
		NATS:       natsClient,
		Candidates: backend.Store,
		Scores:     backend.Store,
		Engine:     app.Engine(backend.Store, policy),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create worker pool")
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("worker pool is shutting down...")
		cancel()
	}()

	log.Info().Str("type", workerType).Msg("starting worker pool")
	if err := pool.Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker pool error")
		return
	}

	log.Info().Msg("worker pool stopped")
}
