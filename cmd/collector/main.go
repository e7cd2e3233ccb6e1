// Command collector runs the reference collection endpoint that the
// oddlytics client delivers batches to.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v10"

	"github.com/oddlytics/oddlytics"
	"github.com/oddlytics/oddlytics/internal/dedup"
	"github.com/oddlytics/oddlytics/internal/gateway"
	"github.com/oddlytics/oddlytics/internal/nats"
	"github.com/oddlytics/oddlytics/internal/observability"
	"github.com/oddlytics/oddlytics/internal/store"
)

// Config holds all collector configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// HTTP gateway configuration
	Gateway gateway.Config `envPrefix:""`

	// Event store configuration
	Store store.Config `envPrefix:"STORE_"`

	// Dedup configuration
	Dedup dedup.Config `envPrefix:""`

	// NATS configuration
	NATS nats.Config `envPrefix:""`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting oddlytics collector",
		"version", oddlytics.Version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.Gateway.Addr,
		"store_driver", cfg.Store.Driver,
		"dedup", cfg.Dedup.Enabled,
		"nats", cfg.NATS.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	obs, err := observability.New("oddlytics-collector")
	if err != nil {
		logger.Error("failed to set up metrics", "error", err)
		os.Exit(1)
	}
	defer obs.Shutdown(context.Background())

	db, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var deduplicator gateway.Deduplicator
	if cfg.Dedup.Enabled {
		filter := dedup.New(cfg.Dedup, obs.Metrics(), logger)
		filter.Start(ctx)
		defer filter.Stop()
		deduplicator = filter
	}

	var publisher gateway.EventPublisher
	var natsClient *nats.Client
	if cfg.NATS.Enabled {
		natsClient, err = nats.Connect(cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		streamMgr := nats.NewStreamManager(natsClient.JetStream(), cfg.NATS.Stream, logger)
		if _, err := streamMgr.EnsureStream(ctx); err != nil {
			logger.Error("failed to ensure stream", "error", err)
			os.Exit(1)
		}
		publisher = nats.NewPublisher(natsClient.JetStream(), logger)
	}

	handler := gateway.NewHandler(db, deduplicator, publisher, obs.Metrics(), oddlytics.Version, logger)
	handler.AddCheck("store", db.Ping)
	if natsClient != nil {
		handler.AddCheck("nats", natsClient.Ready)
	}

	root := http.NewServeMux()
	root.Handle("GET /metrics", obs.MetricsHandler())
	root.Handle("/", handler.Routes(cfg.Gateway))

	server, err := gateway.NewServer(cfg.Gateway, root, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if natsClient != nil {
		if err := natsClient.Drain(); err != nil {
			logger.Error("NATS drain error", "error", err)
		}
	}

	logger.Info("collector stopped")
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
