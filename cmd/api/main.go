package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/api"
	"github.com/QTest-hq/riskplan/internal/app"
	"github.com/QTest-hq/riskplan/internal/config"
	rpnats "github.com/QTest-hq/riskplan/internal/nats"
	"github.com/QTest-hq/riskplan/internal/versions"
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

	ctx := context.Background()

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer backend.Close()

	svc, err := app.Reasoning(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create reasoning service")
	}

	checks := []api.Check{{Name: "store", Fn: backend.HealthCheck}}
	opts := []api.Option{}

	// NATS is optional: without it versions are not announced and rescoring is disabled
	var publisher versions.Publisher
	if cfg.NATSURL != "" {
		natsClient, err := rpnats.NewClient(cfg.NATSURL, "riskplan-api")
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, events disabled")
		} else {
			defer natsClient.Close()
			if err := natsClient.SetupStreams(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to setup NATS streams")
			}
			pub := rpnats.NewPublisher(natsClient)
			publisher = pub
			opts = append(opts, api.WithRescorer(pub))
			checks = append(checks, api.Check{Name: "nats", Fn: func(context.Context) error {
				return natsClient.HealthCheck()
			}})
		}
	}
	opts = append(opts, api.WithChecks(checks...))

	p, sessions := app.NewPlanner(app.PlannerDeps{
		Config:    cfg,
		Policy:    policy,
		Store:     backend.Store,
		Reasoning: svc,
		Publisher: publisher,
	})
	defer sessions.Close()

	srv, err := api.NewServer(cfg, p, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	// reasoning calls can take a while; the router's own timeout bounds handlers
	writeTimeout := 3*cfg.ReasoningTimeout + 15*time.Second
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("could not gracefully shutdown the server")
		}
		close(done)
	}()

	log.Info().
		Int("port", cfg.Port).
		Str("backend", backend.Name).
		Msg("starting API server")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("could not listen on port")
	}

	<-done
	log.Info().Msg("server stopped")
}
