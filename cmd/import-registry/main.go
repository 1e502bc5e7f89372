// Aircraft registry importer.
// Loads the OpenSky aircraft database CSV export into the aircraft_registry
// table used by the flights server when metadata.source is "postgres".
//
// Download the export from:
// https://opensky-network.org/datasets/metadata/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/flightscope/internal/db"
	"github.com/unklstewy/flightscope/internal/logging"
	"github.com/unklstewy/flightscope/internal/metadata"
	"github.com/unklstewy/flightscope/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/flightscope.yaml", "Path to configuration file")
	csvPath := flag.String("csv", "", "Aircraft database CSV (default: metadata.csv_path)")
	batchSize := flag.Int("batch", 5000, "Rows per transaction")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	path := *csvPath
	if path == "" {
		path = cfg.Metadata.CSVPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, path, *batchSize, logger); err != nil {
		logger.Error("Import failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, path string, batchSize int, logger *slog.Logger) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	logger.Info("Connecting to database", "host", cfg.Database.Host, "database", cfg.Database.Database)
	database, err := db.ConnectWithRetry(ctx, cfg.Database, 5, 2*time.Second, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	repo := db.NewRegistryRepository(database)
	start := time.Now()

	var (
		batch    = make([]metadata.Row, 0, batchSize)
		written  int
		flushErr error
	)
	flush := func() {
		if flushErr != nil || len(batch) == 0 {
			return
		}
		n, err := repo.Upsert(ctx, batch)
		if err != nil {
			flushErr = err
			return
		}
		written += n
		batch = batch[:0]
		logger.Info("Imported batch", "rows", n, "total", written)
	}

	skipped, err := metadata.ReadCSV(f, func(row metadata.Row) {
		if flushErr != nil {
			return
		}
		batch = append(batch, row)
		if len(batch) >= batchSize {
			flush()
		}
	})
	if err != nil {
		return fmt.Errorf("read csv: %w", err)
	}
	flush()
	if flushErr != nil {
		return flushErr
	}

	total, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("Import complete",
		"written", written,
		"skipped", skipped,
		"registry_rows", total,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
