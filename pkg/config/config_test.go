package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// TestDefaultConfig verifies that DefaultConfig returns valid defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Port != "7879" {
		t.Errorf("Expected default port 7879, got %s", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}

	// OpenSky defaults
	if cfg.OpenSky.TokenValidity() != 25*time.Minute {
		t.Errorf("Expected token validity 25m, got %v", cfg.OpenSky.TokenValidity())
	}
	if cfg.OpenSky.MinRequestInterval() != time.Second {
		t.Errorf("Expected min request interval 1s, got %v", cfg.OpenSky.MinRequestInterval())
	}
	expectedTokenURL := "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
	if cfg.OpenSky.TokenURL() != expectedTokenURL {
		t.Errorf("Expected token URL %s, got %s", expectedTokenURL, cfg.OpenSky.TokenURL())
	}

	// Cache defaults
	if cfg.Cache.TTL() != 5*time.Second {
		t.Errorf("Expected cache TTL 5s, got %v", cfg.Cache.TTL())
	}
	if cfg.Cache.MaxKeys != 1024 {
		t.Errorf("Expected max keys 1024, got %d", cfg.Cache.MaxKeys)
	}

	// Database defaults
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Expected default postgres port 5432, got %d", cfg.Database.Port)
	}

	// Kafka disabled by default
	if cfg.Kafka.Enabled() {
		t.Error("Expected Kafka publishing disabled by default")
	}

	// Client defaults
	if cfg.Client.CenterLatitude != 32.012 || cfg.Client.CenterLongitude != 34.887 {
		t.Errorf("Expected center 32.012,34.887, got %f,%f", cfg.Client.CenterLatitude, cfg.Client.CenterLongitude)
	}
	if cfg.Client.SquareSizeKm != 500 {
		t.Errorf("Expected square size 500 km, got %f", cfg.Client.SquareSizeKm)
	}
	if cfg.Client.PollInterval() != 60*time.Second {
		t.Errorf("Expected poll interval 60s, got %v", cfg.Client.PollInterval())
	}
	if len(cfg.Client.RangeRingsNM) != 5 {
		t.Errorf("Expected 5 range rings, got %d", len(cfg.Client.RangeRingsNM))
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got: %v", err)
	}
}

// TestLoadNonExistentFile tests that Load returns default config when file doesn't exist.
func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("Expected no error for non-existent file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config, got nil")
	}
	if cfg.Server.Port != DefaultConfig().Server.Port && os.Getenv("FLIGHTSCOPE_PORT") == "" {
		t.Error("Did not get default config for non-existent file")
	}
}

// TestLoadValidConfig tests loading a JSON file that overlays defaults.
func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.json")

	body := `{
		"server": {"port": "9090", "allowed_origins": ["http://localhost:5173"]},
		"database": {"host": "db.example.com", "port": 5433},
		"client": {"center_latitude": 35.5, "poll_interval_seconds": 15}
	}`
	if err := os.WriteFile(configPath, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Expected 1 allowed origin, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("Expected db.example.com, got %s", cfg.Database.Host)
	}
	if cfg.Client.CenterLatitude != 35.5 {
		t.Errorf("Expected latitude 35.5, got %f", cfg.Client.CenterLatitude)
	}
	if cfg.Client.PollIntervalSeconds != 15 {
		t.Errorf("Expected poll interval 15, got %d", cfg.Client.PollIntervalSeconds)
	}

	// Untouched sections keep their defaults
	if cfg.Cache.TTLSeconds != 5 {
		t.Errorf("Expected default cache TTL 5, got %d", cfg.Cache.TTLSeconds)
	}
	if cfg.Client.CenterLongitude != 34.887 {
		t.Errorf("Expected default longitude 34.887, got %f", cfg.Client.CenterLongitude)
	}
}

// TestLoadYAML tests that .yaml files are decoded as YAML.
func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "flightscope.yaml")

	body := `
cache:
  ttl_seconds: 7
  max_keys: 64
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: flights
metadata:
  source: csv
  csv_path: /srv/planes.csv
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Cache.TTL() != 7*time.Second {
		t.Errorf("Expected TTL 7s, got %v", cfg.Cache.TTL())
	}
	if cfg.Cache.MaxKeys != 64 {
		t.Errorf("Expected max keys 64, got %d", cfg.Cache.MaxKeys)
	}
	if os.Getenv("FLIGHTSCOPE_KAFKA_BROKERS") == "" && len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topic != "flights" {
		t.Errorf("Expected topic flights, got %s", cfg.Kafka.Topic)
	}
	if cfg.Metadata.Source != "csv" || cfg.Metadata.CSVPath != "/srv/planes.csv" {
		t.Errorf("Expected csv metadata source, got %+v", cfg.Metadata)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Logging.Level)
	}
}

// TestLoadInvalidJSON tests error handling for malformed JSON.
func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configPath, []byte("{ invalid json }"), 0644); err != nil {
		t.Fatalf("Failed to write invalid config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid JSON, got nil")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Expected parse error, got: %v", err)
	}
}

// TestValidate tests rejection of unusable values.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"Empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"Zero TTL", func(c *Config) { c.Cache.TTLSeconds = 0 }, "cache.ttl_seconds"},
		{"Zero max keys", func(c *Config) { c.Cache.MaxKeys = 0 }, "cache.max_keys"},
		{"Zero token validity", func(c *Config) { c.OpenSky.TokenValidityMinutes = 0 }, "token_validity_minutes"},
		{"Negative request interval", func(c *Config) { c.OpenSky.MinRequestIntervalSeconds = -1 }, "min_request_interval_seconds"},
		{"Unknown metadata source", func(c *Config) { c.Metadata.Source = "mongo" }, "metadata.source"},
		{"CSV without path", func(c *Config) { c.Metadata.Source = "csv"; c.Metadata.CSVPath = "" }, "metadata.csv_path"},
		{"Kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }, "kafka.topic"},
		{"Latitude out of range", func(c *Config) { c.Client.CenterLatitude = 91 }, "center_latitude"},
		{"Longitude out of range", func(c *Config) { c.Client.CenterLongitude = -181 }, "center_longitude"},
		{"Non-positive square", func(c *Config) { c.Client.SquareSizeKm = 0 }, "square_size_km"},
		{"Non-positive poll interval", func(c *Config) { c.Client.PollIntervalSeconds = 0 }, "poll_interval_seconds"},
		{"Unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.errSub, err)
			}
		})
	}

	t.Run("Reports every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = ""
		cfg.Cache.TTLSeconds = 0

		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "server.port") || !strings.Contains(err.Error(), "cache.ttl_seconds") {
			t.Errorf("Expected both errors, got: %v", err)
		}
	})
}

// TestEnvironmentOverrides tests environment variable overrides.
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENSKY_CLIENT_ID", "env-client")
	t.Setenv("OPENSKY_CLIENT_SECRET", "env-secret")
	t.Setenv("FLIGHTSCOPE_PORT", "7777")
	t.Setenv("FLIGHTSCOPE_DB_PASSWORD", "env-password")
	t.Setenv("FLIGHTSCOPE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("FLIGHTSCOPE_SERVER_URL", "http://radar.local:3000")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	testCfg := DefaultConfig()
	testCfg.Server.Port = "8080"
	testCfg.Database.Password = "original-password"

	data, _ := json.Marshal(testCfg)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.OpenSky.ClientID != "env-client" || cfg.OpenSky.ClientSecret != "env-secret" {
		t.Errorf("Expected credentials from env, got %s/%s", cfg.OpenSky.ClientID, cfg.OpenSky.ClientSecret)
	}
	if cfg.Server.Port != "7777" {
		t.Errorf("Expected port 7777 from env, got %s", cfg.Server.Port)
	}
	if cfg.Database.Password != "env-password" {
		t.Errorf("Expected env-password from env, got %s", cfg.Database.Password)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Expected 2 trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Client.ServerURL != "http://radar.local:3000" {
		t.Errorf("Expected server URL from env, got %s", cfg.Client.ServerURL)
	}
}

// TestWatch tests that writes to the watched file deliver a reloaded config.
func TestWatch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "watched.json")
	writeConfig(t, configPath, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, configPath, func(cfg *Config) { changes <- cfg })
	}()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)

	updated := DefaultConfig()
	updated.Client.PollIntervalSeconds = 5
	writeConfig(t, configPath, updated)

	select {
	case cfg := <-changes:
		if cfg.Client.PollIntervalSeconds != 5 {
			t.Errorf("Expected reloaded poll interval 5, got %d", cfg.Client.PollIntervalSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a reload notification")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Watch to return after cancel")
	}
}
