// Flights server.
// Serves geo-bounded OpenSky snapshots over REST and WebSocket, with token
// and response caching in front of the upstream feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/flightscope/internal/auth"
	"github.com/unklstewy/flightscope/internal/cache"
	"github.com/unklstewy/flightscope/internal/db"
	"github.com/unklstewy/flightscope/internal/flights"
	"github.com/unklstewy/flightscope/internal/logging"
	"github.com/unklstewy/flightscope/internal/metadata"
	"github.com/unklstewy/flightscope/internal/metrics"
	"github.com/unklstewy/flightscope/pkg/config"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

var configPath = flag.String("config", "configs/flightscope.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()

	// OpenSky access
	var source auth.TokenSource
	if cfg.OpenSky.ClientID != "" {
		source = auth.NewClientCredentials(cfg.OpenSky.TokenURL(), cfg.OpenSky.ClientID, cfg.OpenSky.ClientSecret, nil)
	} else {
		logger.Warn("No OpenSky credentials configured, using anonymous access")
	}
	tokens := auth.NewTokenCache(source, auth.Config{Validity: cfg.OpenSky.TokenValidity()}, logger, m)
	feed := opensky.NewClient(cfg.OpenSky.BaseURL, cfg.OpenSky.MinRequestInterval())

	store, err := cache.New[[]opensky.FlightRecord](cfg.Cache.TTL(), cfg.Cache.MaxKeys)
	if err != nil {
		return err
	}

	opts := flights.Options{Metrics: m, Logger: logger}

	// Aircraft registry
	database, registry := openRegistry(ctx, cfg, logger)
	if database != nil {
		defer database.Close()
	}
	if registry != nil {
		opts.Directory = registry
	}

	// Snapshot publishing
	if cfg.Kafka.Enabled() {
		pub := flights.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer pub.Close()
		opts.Publisher = pub
		logger.Info("Publishing snapshots", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	svc := flights.NewService(feed, store, tokens, opts)
	srv := NewServer(cfg, svc, m, database, logger)

	httpServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:     srv,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// openRegistry loads the configured aircraft registry. Failures are logged
// and the server runs without enrichment.
func openRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*db.DB, *metadata.Registry) {
	switch cfg.Metadata.Source {
	case "csv":
		reg, err := metadata.LoadCSVFile(cfg.Metadata.CSVPath)
		if err != nil {
			logger.Warn("Aircraft registry load incomplete", "path", cfg.Metadata.CSVPath, "err", err)
		}
		if reg == nil {
			return nil, nil
		}
		logger.Info("Aircraft registry loaded", "source", "csv", "aircraft", reg.Len())
		return nil, reg

	case "postgres":
		database, err := db.ConnectWithRetry(ctx, cfg.Database, 3, time.Second, logger)
		if err != nil {
			logger.Warn("Aircraft registry unavailable", "err", err)
			return nil, nil
		}
		if err := database.InitSchema(ctx); err != nil {
			logger.Warn("Failed to initialize registry schema", "err", err)
		}
		reg, err := db.NewRegistryRepository(database).Load(ctx)
		if err != nil {
			logger.Warn("Aircraft registry unavailable", "err", err)
			return database, nil
		}
		logger.Info("Aircraft registry loaded", "source", "postgres", "aircraft", reg.Len())
		return database, reg
	}
	return nil, nil
}
