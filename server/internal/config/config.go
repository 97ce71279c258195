package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules" validate:"dive"`
	Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name" validate:"required"`

	// Condition is a simple expression evaluated after every received batch:
	// "duplicate_pct > 20", "batch_records >= 500", "tracked_ids > 100000".
	Condition string `yaml:"condition" validate:"required"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity" validate:"omitempty,oneof=critical warning info"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown" validate:"gte=0"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type" validate:"oneof=teams slack http"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env" validate:"required"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the collector configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultLogLevel       = "info"
	DefaultDedupTTL       = 10 * time.Minute
	DefaultRecentRecords  = 500
	DefaultStreamInterval = 5 * time.Second
	DefaultMaxBatchBytes  = 64 << 20
)

// Config holds the collector configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all collector settings.
type ServerConfig struct {
	// HTTPPort serves batch ingestion, the REST API and the WebSocket stream.
	HTTPPort int `yaml:"http_port" validate:"min=1,max=65535"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// MaxBatchBytes caps the body of one POST /v1/batches. Larger bodies get
	// 413. Keep it well above what an agent can accumulate during an outage.
	MaxBatchBytes int64 `yaml:"max_batch_bytes" validate:"gt=0"`

	// Auth configures how agents authenticate on POST /v1/batches.
	Auth AuthConfig `yaml:"auth"`

	// Dedup controls how long received record IDs are remembered.
	Dedup DedupConfig `yaml:"dedup"`

	// Stream controls the WebSocket stats broadcast.
	Stream StreamConfig `yaml:"stream"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls agent authentication on the collector.
type AuthConfig struct {
	// Mode is one of: bearer | jwt | none.
	// bearer compares a static shared token; jwt verifies HS256 agent tokens.
	Mode string `yaml:"mode" validate:"omitempty,oneof=bearer jwt none"`

	// TokenEnv is the environment variable holding the expected bearer token
	// (mode bearer) or the HMAC signing secret (mode jwt).
	TokenEnv string `yaml:"token_env"`
}

// Token returns the expected bearer token resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// DedupConfig controls the record ID dedup window.
type DedupConfig struct {
	// TTL is how long a record ID is remembered after it was first received.
	// A redelivery after TTL is accepted again. Default: 10m.
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`

	// Recent is how many of the latest records GET /api/v1/records can return.
	Recent int `yaml:"recent" validate:"gt=0"`
}

// StreamConfig controls the WebSocket broadcast.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

// Level parses LogLevel into a slog.Level, defaulting to info.
func (c ServerConfig) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path, returning the collector configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:      DefaultHTTPPort,
			LogLevel:      DefaultLogLevel,
			MaxBatchBytes: DefaultMaxBatchBytes,
			Dedup: DedupConfig{
				TTL:    DefaultDedupTTL,
				Recent: DefaultRecentRecords,
			},
			Stream: StreamConfig{
				Interval: DefaultStreamInterval,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	switch m := cfg.Server.Auth.Mode; m {
	case "bearer", "jwt":
		if cfg.Server.Auth.TokenEnv == "" {
			return fmt.Errorf("server.auth.token_env is required when mode is %s", m)
		}
	}
	return nil
}
