// ABOUTME: Configuration loading and parsing for forgestate
// ABOUTME: YAML files with ${VAR} expansion, .env loading, FORGESTATE_* overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/forgestate/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. FORGESTATE_SERVER_HTTP_ADDR.
const EnvPrefix = "FORGESTATE_"

// Config represents the complete forgestate configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" envPrefix:"TAILSCALE_"`
	Database    DatabaseConfig    `yaml:"database" envPrefix:"DATABASE_"`
	Auth        AuthConfig        `yaml:"auth" envPrefix:"AUTH_"`
	Checklist   ChecklistConfig   `yaml:"checklist" envPrefix:"CHECKLIST_"`
	Codex       CodexConfig       `yaml:"codex" envPrefix:"CODEX_"`
	Events      EventsConfig      `yaml:"events" envPrefix:"EVENTS_"`
	Sync        SyncConfig        `yaml:"sync" envPrefix:"SYNC_"`
	Idempotency IdempotencyConfig `yaml:"idempotency" envPrefix:"IDEMPOTENCY_"`
	Logging     LoggingConfig     `yaml:"logging" envPrefix:"LOGGING_"`
	Metrics     MetricsConfig     `yaml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds listener addresses. An empty GRPCAddr disables gRPC.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr string `yaml:"grpc_addr" env:"GRPC_ADDR"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Hostname  string `yaml:"hostname" env:"HOSTNAME"`
	AuthKey   string `yaml:"auth_key" env:"AUTH_KEY"`
	StateDir  string `yaml:"state_dir" env:"STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" env:"EPHEMERAL"`
	HTTPS     bool   `yaml:"https" env:"HTTPS"`   // serve HTTP over TLS with tailnet certs
	Funnel    bool   `yaml:"funnel" env:"FUNNEL"` // public Funnel, implies HTTPS
}

// DatabaseConfig selects the document store
type DatabaseConfig struct {
	Driver  string `yaml:"driver" env:"DRIVER"` // sqlite | sqlite3 | natskv
	Path    string `yaml:"path" env:"PATH"`
	NATSURL string `yaml:"nats_url" env:"NATS_URL"`
	Bucket  string `yaml:"bucket" env:"BUCKET"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret leaves writes open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// ChecklistConfig controls the step table and lock enforcement
type ChecklistConfig struct {
	EnforceLocks bool   `yaml:"enforce_locks" env:"ENFORCE_LOCKS"`
	StepsFile    string `yaml:"steps_file" env:"STEPS_FILE"`
}

// CodexConfig points at an alternative catalog file
type CodexConfig struct {
	CatalogFile string `yaml:"catalog_file" env:"CATALOG_FILE"`
}

// EventsConfig enables commit notifications over NATS
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

// SyncConfig configures the client-side sync loop used by the CLI
type SyncConfig struct {
	ServerURL  string        `yaml:"server_url" env:"SERVER_URL"`
	Transport  string        `yaml:"transport" env:"TRANSPORT"` // http | grpc
	GRPCTarget string        `yaml:"grpc_target" env:"GRPC_TARGET"`
	Mode       string        `yaml:"mode" env:"MODE"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	Initial    time.Duration `yaml:"-"`
	Max        time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InitialRaw string `yaml:"initial" env:"INITIAL"`
	MaxRaw     string `yaml:"max" env:"MAX"`
}

// IdempotencyConfig bounds the Idempotency-Key replay cache
type IdempotencyConfig struct {
	TTL        time.Duration `yaml:"-"`
	TTLRaw     string        `yaml:"ttl" env:"TTL"`
	MaxEntries int           `yaml:"max_entries" env:"MAX_ENTRIES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // text | json
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{HTTPAddr: "127.0.0.1:8787"},
		Tailscale: TailscaleConfig{Hostname: "forgestate"},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "forgestate.db", Bucket: "forgestate"},
		Checklist: ChecklistConfig{EnforceLocks: true},
		Events:    EventsConfig{Subject: "forgestate.state.committed"},
		Sync: SyncConfig{
			ServerURL:  "http://127.0.0.1:8787",
			Transport:  "http",
			Mode:       string(retry.Exponential),
			MaxRetries: 5,
			Initial:    500 * time.Millisecond,
			Max:        30 * time.Second,
			InitialRaw: "500ms",
			MaxRaw:     "30s",
		},
		Idempotency: IdempotencyConfig{TTL: 10 * time.Minute, TTLRaw: "10m", MaxEntries: 1024},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Metrics:     MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// An empty path skips the file and starts from Default. Before parsing, a .env
// file in the working directory is loaded if present; it never overrides
// variables already set. Environment variables in the format ${VAR_NAME} are
// expanded, then FORGESTATE_* variables override file values.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expandedData := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultPath resolves the config file location: FORGESTATE_CONFIG, then
// $XDG_CONFIG_HOME/forgestate/config.yaml, then ~/.config/forgestate/config.yaml.
// It returns "" when none of them exists.
func DefaultPath() string {
	if p := os.Getenv("FORGESTATE_CONFIG"); p != "" {
		return p
	}

	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "forgestate", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "forgestate", "config.yaml"))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case "natskv":
		if c.Database.NATSURL == "" {
			return fmt.Errorf("database.nats_url is required for driver natskv")
		}
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, sqlite3, natskv", c.Database.Driver)
	}

	if c.Events.NATSURL != "" && c.Events.Subject == "" {
		return fmt.Errorf("events.subject is required when events.nats_url is set")
	}

	switch c.Sync.Transport {
	case "http", "grpc":
	default:
		return fmt.Errorf("sync.transport %q is not one of http, grpc", c.Sync.Transport)
	}
	switch retry.Mode(c.Sync.Mode) {
	case retry.Fixed, retry.Linear, retry.Exponential:
	default:
		return fmt.Errorf("sync.mode %q is not one of fixed, linear, exponential", c.Sync.Mode)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if c.Idempotency.MaxEntries < 0 {
		return fmt.Errorf("idempotency.max_entries must not be negative")
	}

	if c.Metrics.Enabled {
		if err := validateMetricsPath(c.Metrics.Path); err != nil {
			return err
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// validateMetricsPath rejects scrape paths the HTTP mux cannot register or
// that would shadow an API route.
func validateMetricsPath(path string) error {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return fmt.Errorf("metrics.path %q must be an absolute path such as /metrics", path)
	}
	if strings.ContainsAny(path, " {}") {
		return fmt.Errorf("metrics.path %q must not contain spaces or wildcards", path)
	}
	if path == "/health" || strings.HasPrefix(path, "/health/") || path == "/api" || strings.HasPrefix(path, "/api/") {
		return fmt.Errorf("metrics.path %q collides with an API route", path)
	}
	return nil
}

// RetryPolicy builds the client backoff policy from the sync section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Mode:       retry.Mode(c.Sync.Mode),
		Initial:    c.Sync.Initial,
		Max:        c.Sync.Max,
		MaxRetries: c.Sync.MaxRetries,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sync.InitialRaw != "" {
		cfg.Sync.Initial, err = time.ParseDuration(cfg.Sync.InitialRaw)
		if err != nil {
			return fmt.Errorf("parsing sync.initial %q: %w", cfg.Sync.InitialRaw, err)
		}
	}

	if cfg.Sync.MaxRaw != "" {
		cfg.Sync.Max, err = time.ParseDuration(cfg.Sync.MaxRaw)
		if err != nil {
			return fmt.Errorf("parsing sync.max %q: %w", cfg.Sync.MaxRaw, err)
		}
	}

	if cfg.Idempotency.TTLRaw != "" {
		cfg.Idempotency.TTL, err = time.ParseDuration(cfg.Idempotency.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency.ttl %q: %w", cfg.Idempotency.TTLRaw, err)
		}
	}

	return nil
}
