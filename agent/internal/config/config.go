package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListenAddr     = ":9411"
	DefaultLogLevel       = "info"
	DefaultBatchSize      = 10
	DefaultFlushInterval  = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialDelay   = 1 * time.Second
	DefaultMultiplier     = 2.0

	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 60 * time.Second

	DefaultScrapeInterval    = 30 * time.Second
	DefaultCertCheckInterval = time.Hour
)

// Config is the top-level configuration file. Only the `agent:` section is
// read by the agent binary.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// CollectorURL is the full URL batches are POSTed to.
	CollectorURL string `yaml:"collector_url" validate:"required,url"`

	// ListenAddr is where the local ingest API listens for producers.
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// LogLevel is one of: debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// BatchSize is the pending record count that triggers an immediate flush.
	BatchSize int `yaml:"batch_size" validate:"gt=0"`

	// FlushInterval is the period of the background flush timer.
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`

	// RequestTimeout bounds a single HTTP exchange with the collector.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`

	// Auth configures how the agent authenticates to the collector.
	Auth AuthConfig `yaml:"auth"`

	TLS TLSConfig `yaml:"tls"`

	// CertCheckInterval is how often the collector's TLS certificate expiry is
	// checked for https collector URLs. 0 disables the check.
	CertCheckInterval time.Duration `yaml:"cert_check_interval" validate:"gte=0"`

	// Sources are Prometheus-format endpoints the agent polls itself; every
	// scraped metric family becomes one buffered record.
	Sources []SourceConfig `yaml:"sources" validate:"dive"`
}

// SourceConfig describes one polled metrics endpoint.
type SourceConfig struct {
	// ID is copied into every record produced from this source.
	ID string `yaml:"id" validate:"required"`

	// Endpoint is the full URL of the text exposition, e.g. http://host:9090/metrics.
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// Interval between scrapes. Defaults to 30s.
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// Metrics limits the families turned into records. Empty means all.
	Metrics []string `yaml:"metrics"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// RetryConfig controls the bounded exponential backoff of a single send.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`
	Multiplier   float64       `yaml:"multiplier" validate:"gte=1"`
}

// BreakerConfig configures the optional circuit breaker in front of the
// collector. Disabled by default.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" validate:"gt=0"`
	OpenTimeout         time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

// AuthConfig specifies how requests to the collector are authenticated.
type AuthConfig struct {
	// Mode is one of: bearer | apikey | basic | mtls | none.
	Mode string `yaml:"mode"`

	// Bearer token fields, used when Mode == "bearer". TokenFile wins over
	// TokenEnv; both are re-read on every request so an external refresher
	// can rotate the credential.
	TokenEnv  string `yaml:"token_env"`
	TokenFile string `yaml:"token_file"`

	// API key fields, used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options for the collector connection.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Level parses LogLevel into a slog.Level, defaulting to info.
func (c AgentConfig) Level() slog.Level {
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

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	for i := range cfg.Agent.Sources {
		if cfg.Agent.Sources[i].Interval == 0 {
			cfg.Agent.Sources[i].Interval = DefaultScrapeInterval
		}
	}

	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ListenAddr:     DefaultListenAddr,
			LogLevel:       DefaultLogLevel,
			BatchSize:      DefaultBatchSize,
			FlushInterval:  DefaultFlushInterval,
			RequestTimeout: DefaultRequestTimeout,
			Retry: RetryConfig{
				MaxRetries:   DefaultMaxRetries,
				InitialDelay: DefaultInitialDelay,
				Multiplier:   DefaultMultiplier,
			},
			Breaker: BreakerConfig{
				ConsecutiveFailures: DefaultBreakerFailures,
				OpenTimeout:         DefaultBreakerTimeout,
			},
			CertCheckInterval: DefaultCertCheckInterval,
		},
	}
}

// check runs struct-tag validation, then the cross-field rules tags cannot express.
func check(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	a := cfg.Agent
	u, err := url.Parse(a.CollectorURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("agent.collector_url must be an http(s) URL, got %q", a.CollectorURL)
	}

	if err := checkAuth("agent.auth", a.Auth); err != nil {
		return err
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if seen[src.ID] {
			return fmt.Errorf("agent.sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if err := checkAuth(fmt.Sprintf("agent.sources[%d].auth", i), src.Auth); err != nil {
			return err
		}
	}
	return nil
}

// checkAuth enforces the fields each auth mode needs.
func checkAuth(field string, a AuthConfig) error {
	switch a.Mode {
	case "bearer":
		if a.TokenEnv == "" && a.TokenFile == "" {
			return fmt.Errorf("%s: bearer mode needs token_env or token_file", field)
		}
	case "apikey":
		if a.Header == "" || a.KeyEnv == "" {
			return fmt.Errorf("%s: apikey mode needs header and key_env", field)
		}
	case "basic":
		if a.Username == "" {
			return fmt.Errorf("%s: basic mode needs username", field)
		}
	case "mtls":
		if a.CertFile == "" || a.KeyFile == "" {
			return fmt.Errorf("%s: mtls mode needs cert_file and key_file", field)
		}
	case "none", "":
	default:
		return fmt.Errorf("%s: unknown mode %q", field, a.Mode)
	}
	return nil
}
