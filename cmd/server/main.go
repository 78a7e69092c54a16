package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/delivery-tracking/internal/backend"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/eta"
	"github.com/example/delivery-tracking/internal/events"
	httpapi "github.com/example/delivery-tracking/internal/http"
	"github.com/example/delivery-tracking/internal/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	log := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)
	directions := eta.Chain{client}
	if cfg.OSRMURL != "" {
		directions = append(directions, eta.NewOSRMClient(cfg.OSRMURL))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logging.Component(log, "events"))
	source, err := events.NewSource(cfg, logging.Component(log, "events"))
	if err != nil {
		log.Error("event source", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := source.Run(ctx, bus); err != nil {
			log.Error("event source stopped", "source", cfg.EventSource, "error", err)
		}
	}()

	api := httpapi.NewServer(httpapi.Deps{
		Backend:     client,
		AsCaller:    func(token string) httpapi.Backend { return client.WithToken(token) },
		Bus:         bus,
		Directions:  directions,
		Restaurant:  cfg.Restaurant,
		SpeedKmh:    cfg.FallbackSpeedKmh,
		RejectStale: cfg.RejectStale,
		JWTSecret:   cfg.JWTSecret,
		Logger:      log,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		api.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	}()

	log.Info("delivery-tracking listening", "addr", cfg.HTTPAddr, "backend", cfg.BackendURL, "events", cfg.EventSource)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
