package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/unklstewy/flightscope/internal/metadata"
	"github.com/unklstewy/flightscope/pkg/config"
)

// unreachable points at a port nothing listens on.
var unreachable = config.DatabaseConfig{
	Driver:   "postgres",
	Host:     "127.0.0.1",
	Port:     1,
	Database: "flightscope",
	Username: "flightscope",
	SSLMode:  "disable",
}

// TestDSN tests connection string construction.
func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.example.com",
		Port:     5433,
		Username: "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "require",
	}

	expected := "host=db.example.com port=5433 user=testuser password=testpass dbname=testdb sslmode=require"
	if got := DSN(cfg); got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}
}

// TestConnect tests connection failure reporting.
func TestConnect(t *testing.T) {
	db, err := Connect(context.Background(), unreachable)
	if err == nil {
		db.Close()
		t.Skip("Something is listening on 127.0.0.1:1")
	}
	if db != nil {
		t.Error("Expected nil db on failure")
	}
}

// TestConnectWithRetry tests bounded retries and cancellation.
func TestConnectWithRetry(t *testing.T) {
	t.Run("Gives up after max retries", func(t *testing.T) {
		start := time.Now()
		_, err := ConnectWithRetry(context.Background(), unreachable, 2, 10*time.Millisecond, nil)
		if err == nil {
			t.Skip("Something is listening on 127.0.0.1:1")
		}
		if time.Since(start) < 10*time.Millisecond {
			t.Error("Expected a backoff wait between attempts")
		}
	})

	t.Run("Stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := ConnectWithRetry(ctx, unreachable, 0, time.Hour, nil)
		if err == nil {
			t.Skip("Something is listening on 127.0.0.1:1")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	})
}

// TestHealthCheckNil tests the nil guard.
func TestHealthCheckNil(t *testing.T) {
	if HealthCheck(context.Background(), nil) {
		t.Error("Expected nil db to be unhealthy")
	}
}

// TestNormalizeRow tests storage normalization.
func TestNormalizeRow(t *testing.T) {
	got := normalizeRow(metadata.Row{
		ICAO24:           "'4X7ABC'",
		Registration:     " '4X-ABC' ",
		ManufacturerName: "'Airbus'",
	})

	if got.ICAO24 != "4x7abc" {
		t.Errorf("Expected 4x7abc, got %q", got.ICAO24)
	}
	if got.Registration != "4X-ABC" || got.ManufacturerName != "Airbus" {
		t.Errorf("Expected quotes stripped, got %+v", got)
	}
}

// TestRegistryRoundTrip runs against a live database when
// FLIGHTSCOPE_TEST_DB_HOST is set.
func TestRegistryRoundTrip(t *testing.T) {
	host := os.Getenv("FLIGHTSCOPE_TEST_DB_HOST")
	if host == "" {
		t.Skip("FLIGHTSCOPE_TEST_DB_HOST not set")
	}

	cfg := config.DefaultConfig().Database
	cfg.Host = host
	cfg.Password = os.Getenv("FLIGHTSCOPE_TEST_DB_PASSWORD")

	ctx := context.Background()
	db, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	if !HealthCheck(ctx, db) {
		t.Error("Expected healthy database")
	}

	repo := NewRegistryRepository(db)
	n, err := repo.Upsert(ctx, []metadata.Row{
		{ICAO24: "'ffff01'", Registration: "T-ONE", ManufacturerName: "Airbus", Model: "A320"},
		{ICAO24: "", Registration: "skipped"},
	})
	if err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row written, got %d", n)
	}

	reg, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	a, ok := reg.Lookup("FFFF01")
	if !ok || a.Registration != "T-ONE" || a.Model != "Airbus A320" {
		t.Errorf("Expected stored aircraft, got %+v (ok=%v)", a, ok)
	}
}
