package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
// Both the flights server and the radar client read the same file; each
// only looks at the sections it needs.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	OpenSky  OpenSkyConfig  `json:"opensky" yaml:"opensky"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Metadata MetadataConfig `json:"metadata" yaml:"metadata"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	Client   ClientConfig   `json:"client" yaml:"client"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 7879)
	Port string `json:"port" yaml:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host" yaml:"host"`

	// AllowedOrigins lists CORS origins; empty allows any origin
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`

	// ShutdownTimeoutSeconds bounds graceful shutdown
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// OpenSkyConfig contains the feed and token endpoint settings.
type OpenSkyConfig struct {
	// BaseURL is the REST API base (default: https://opensky-network.org/api)
	BaseURL string `json:"base_url" yaml:"base_url"`

	// AuthBaseURL is the identity provider base; the token endpoint is
	// <AuthBaseURL>/realms/opensky-network/protocol/openid-connect/token
	AuthBaseURL string `json:"auth_base_url" yaml:"auth_base_url"`

	// ClientID and ClientSecret are the API client credentials
	// (should be loaded from environment)
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`

	// TokenValidityMinutes is how long a fetched token is reused (default: 25)
	TokenValidityMinutes int `json:"token_validity_minutes" yaml:"token_validity_minutes"`

	// MinRequestIntervalSeconds is the minimum spacing between outbound
	// feed requests. 0 disables client-side spacing.
	MinRequestIntervalSeconds float64 `json:"min_request_interval_seconds" yaml:"min_request_interval_seconds"`
}

// TokenURL returns the OAuth2 client-credentials endpoint.
func (c OpenSkyConfig) TokenURL() string {
	return strings.TrimRight(c.AuthBaseURL, "/") + "/realms/opensky-network/protocol/openid-connect/token"
}

// TokenValidity returns the token reuse window.
func (c OpenSkyConfig) TokenValidity() time.Duration {
	return time.Duration(c.TokenValidityMinutes) * time.Minute
}

// MinRequestInterval returns the outbound request spacing.
func (c OpenSkyConfig) MinRequestInterval() time.Duration {
	return time.Duration(c.MinRequestIntervalSeconds * float64(time.Second))
}

// CacheConfig contains snapshot cache settings.
type CacheConfig struct {
	// TTLSeconds is how long a snapshot is served from cache (default: 5)
	TTLSeconds int `json:"ttl_seconds" yaml:"ttl_seconds"`

	// MaxKeys caps the number of distinct cached queries (default: 1024)
	MaxKeys int `json:"max_keys" yaml:"max_keys"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MetadataConfig selects the aircraft registry used for enrichment.
type MetadataConfig struct {
	// Source is "" (disabled), "csv" or "postgres"
	Source string `json:"source" yaml:"source"`

	// CSVPath is the planes CSV used when Source is "csv"
	CSVPath string `json:"csv_path" yaml:"csv_path"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the database driver (only postgres is supported)
	Driver string `json:"driver" yaml:"driver"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// KafkaConfig configures snapshot publishing. Publishing is disabled when
// Brokers is empty.
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// Enabled reports whether a publisher should be built.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// ClientConfig contains radar client settings.
type ClientConfig struct {
	// ServerURL is the flights server base URL
	ServerURL string `json:"server_url" yaml:"server_url"`

	// CenterLatitude/CenterLongitude is the fixed point the scope is centered on
	CenterLatitude  float64 `json:"center_latitude" yaml:"center_latitude"`
	CenterLongitude float64 `json:"center_longitude" yaml:"center_longitude"`

	// SquareSizeKm is the side of the query bounding box
	SquareSizeKm float64 `json:"square_size_km" yaml:"square_size_km"`

	// PollIntervalSeconds is the delay between completed fetches
	PollIntervalSeconds int `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`

	// RangeRingsNM are the range ring radii drawn on the scope
	RangeRingsNM []float64 `json:"range_rings_nm" yaml:"range_rings_nm"`
}

// PollInterval returns the poll delay.
func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `json:"level" yaml:"level"`

	// File, when set, switches to JSON logs in a rotating file
	File string `json:"file" yaml:"file"`

	// MaxSizeMB, MaxBackups and MaxAgeDays tune rotation
	MaxSizeMB  int `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days"`
}

// Load reads configuration from a JSON or YAML file, chosen by extension.
// Values in the file overlay DefaultConfig. If the file doesn't exist,
// returns the default configuration. Environment overrides are applied in
// both cases and the result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// DefaultConfig returns a configuration with sensible defaults.
// The client center is Ben Gurion airport.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   "7879",
			Host:                   "0.0.0.0",
			ShutdownTimeoutSeconds: 10,
		},
		OpenSky: OpenSkyConfig{
			BaseURL:                   "https://opensky-network.org/api",
			AuthBaseURL:               "https://auth.opensky-network.org/auth",
			TokenValidityMinutes:      25,
			MinRequestIntervalSeconds: 1.0,
		},
		Cache: CacheConfig{
			TTLSeconds: 5,
			MaxKeys:    1024,
		},
		Metadata: MetadataConfig{
			CSVPath: "data/planes.csv",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			Database:     "flightscope",
			Username:     "flightscope",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Kafka: KafkaConfig{
			Topic: "flightscope.snapshots",
		},
		Client: ClientConfig{
			ServerURL:           "http://localhost:7879",
			CenterLatitude:      32.012,
			CenterLongitude:     34.887,
			SquareSizeKm:        500,
			PollIntervalSeconds: 60,
			RangeRingsNM:        []float64{20, 40, 60, 80, 100},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate checks the configuration for values the components cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.OpenSky.BaseURL == "" {
		errs = append(errs, errors.New("opensky.base_url is required"))
	}
	if c.OpenSky.TokenValidityMinutes <= 0 {
		errs = append(errs, errors.New("opensky.token_validity_minutes must be positive"))
	}
	if c.OpenSky.MinRequestIntervalSeconds < 0 {
		errs = append(errs, errors.New("opensky.min_request_interval_seconds must not be negative"))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, errors.New("cache.ttl_seconds must be positive"))
	}
	if c.Cache.MaxKeys <= 0 {
		errs = append(errs, errors.New("cache.max_keys must be positive"))
	}

	switch c.Metadata.Source {
	case "", "postgres":
	case "csv":
		if c.Metadata.CSVPath == "" {
			errs = append(errs, errors.New("metadata.csv_path is required for the csv source"))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.source: unknown source %q", c.Metadata.Source))
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}

	if !finite(c.Client.CenterLatitude) || c.Client.CenterLatitude < -90 || c.Client.CenterLatitude > 90 {
		errs = append(errs, fmt.Errorf("client.center_latitude %v out of range", c.Client.CenterLatitude))
	}
	if !finite(c.Client.CenterLongitude) || c.Client.CenterLongitude < -180 || c.Client.CenterLongitude > 180 {
		errs = append(errs, fmt.Errorf("client.center_longitude %v out of range", c.Client.CenterLongitude))
	}
	if !finite(c.Client.SquareSizeKm) || c.Client.SquareSizeKm <= 0 {
		errs = append(errs, errors.New("client.square_size_km must be positive"))
	}
	if c.Client.PollIntervalSeconds <= 0 {
		errs = append(errs, errors.New("client.poll_interval_seconds must be positive"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows credentials and passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if id := os.Getenv("OPENSKY_CLIENT_ID"); id != "" {
		c.OpenSky.ClientID = id
	}
	if secret := os.Getenv("OPENSKY_CLIENT_SECRET"); secret != "" {
		c.OpenSky.ClientSecret = secret
	}
	if port := os.Getenv("FLIGHTSCOPE_PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPassword := os.Getenv("FLIGHTSCOPE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if brokers := os.Getenv("FLIGHTSCOPE_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	if serverURL := os.Getenv("FLIGHTSCOPE_SERVER_URL"); serverURL != "" {
		c.Client.ServerURL = serverURL
	}
}
