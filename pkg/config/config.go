// Package config loads the storefront client configuration.
//
// Settings are layered, lowest priority first:
//  1. Default values
//  2. Environment variables (STOREFRONT_*, plus REDIS_URL, CONSUL_HTTP_ADDR and
//     the standard OTEL_* names)
//  3. A JSON or YAML config file (STOREFRONT_CONFIG_FILE or WithConfigFile)
//  4. Functional options
//
// Example usage:
//
//	cfg, err := config.NewConfig(
//	    config.WithAPIBaseURL("https://shop.example.com/api"),
//	    config.WithFileStorage(""),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/storefront/pkg/logger"
	"github.com/itsneelabh/storefront/pkg/resilience"
	"github.com/itsneelabh/storefront/pkg/storage"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// Defaults
const (
	DefaultAPIBaseURL     = "http://localhost:8080/api"
	DefaultHTTPTimeout    = 15 * time.Second
	DefaultNoticeDuration = 3 * time.Second
	DefaultServiceName    = "storefront-client"
	DefaultUserAgent      = "storefront-client"
)

// Discovery providers
const (
	DiscoveryStatic = "static"
	DiscoveryConsul = "consul"
)

// Config holds every setting of the storefront client
type Config struct {
	// APIBaseURL is the backend root, e.g. http://localhost:8080/api. It is
	// ignored when Discovery.Provider is consul.
	APIBaseURL string `yaml:"api_base_url"`

	HTTP      HTTPConfig      `yaml:"http"`
	Retry     RetryConfig     `yaml:"retry"`
	Storage   StorageConfig   `yaml:"storage"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	UI        UIConfig        `yaml:"ui"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	fs afero.Fs
}

// HTTPConfig tunes the API client transport
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// RetryConfig applies to idempotent reads only.
// Formula: delay = min(InitialDelay * BackoffFactor^attempt, MaxDelay)
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// StorageConfig selects where the session is persisted.
// Provider is one of memory, file or redis.
type StorageConfig struct {
	Provider  string `yaml:"provider"`
	Path      string `yaml:"path"`
	RedisURL  string `yaml:"redis_url"`
	Namespace string `yaml:"namespace"`
}

// DiscoveryConfig resolves the backend base URL through Consul when
// Provider is consul.
type DiscoveryConfig struct {
	Provider      string `yaml:"provider"`
	ConsulAddress string `yaml:"consul_address"`
	ServiceName   string `yaml:"service_name"`
	Tag           string `yaml:"tag"`
	Scheme        string `yaml:"scheme"`
	PathPrefix    string `yaml:"path_prefix"`
}

// UIConfig holds presentation settings
type UIConfig struct {
	NoticeDuration time.Duration  `yaml:"notice_duration"`
	Shipping       ShippingConfig `yaml:"shipping"`
}

// ShippingConfig is sent with every order
type ShippingConfig struct {
	Address    string `yaml:"address"`
	City       string `yaml:"city"`
	PostalCode string `yaml:"postal_code"`
	Country    string `yaml:"country"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig contains tracing configuration
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Option configures a Config
type Option func(*Config) error

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL: DefaultAPIBaseURL,
		HTTP: HTTPConfig{
			Timeout:   DefaultHTTPTimeout,
			UserAgent: DefaultUserAgent,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
		},
		Storage: StorageConfig{
			Provider:  storage.ProviderMemory,
			Namespace: storage.DefaultRedisNamespace,
		},
		Discovery: DiscoveryConfig{
			Provider:      DiscoveryStatic,
			ConsulAddress: "127.0.0.1:8500",
			ServiceName:   "storefront-api",
			Scheme:        "http",
			PathPrefix:    "/api",
		},
		UI: UIConfig{
			NoticeDuration: DefaultNoticeDuration,
			Shipping: ShippingConfig{
				Address:    "123 Main St",
				City:       "Anytown",
				PostalCode: "12345",
				Country:    "USA",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logger.FormatText,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			Exporter:     telemetry.ExporterOTLP,
			ServiceName:  DefaultServiceName,
			SamplingRate: 1.0,
			Insecure:     true,
		},
		fs: afero.NewOsFs(),
	}
}

// NewConfig builds a configuration from defaults, the environment, an
// optional config file and the given options, then validates it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	if path := os.Getenv("STOREFRONT_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv overrides settings from environment variables. Malformed
// numbers and durations are reported rather than ignored.
func (c *Config) LoadFromEnv() error {
	const op = "LoadFromEnv"

	if v := firstEnv("STOREFRONT_API_URL"); v != "" {
		c.APIBaseURL = v
	}

	// HTTP
	if v := firstEnv("STOREFRONT_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid(op, "STOREFRONT_HTTP_TIMEOUT", "not a duration: %q", v)
		}
		c.HTTP.Timeout = d
	}
	if v := firstEnv("STOREFRONT_HTTP_USER_AGENT"); v != "" {
		c.HTTP.UserAgent = v
	}

	// Retry
	if v := firstEnv("STOREFRONT_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid(op, "STOREFRONT_RETRY_MAX_ATTEMPTS", "not a number: %q", v)
		}
		c.Retry.MaxAttempts = n
	}
	if v := firstEnv("STOREFRONT_RETRY_INITIAL_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid(op, "STOREFRONT_RETRY_INITIAL_DELAY", "not a duration: %q", v)
		}
		c.Retry.InitialDelay = d
	}
	if v := firstEnv("STOREFRONT_RETRY_MAX_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid(op, "STOREFRONT_RETRY_MAX_DELAY", "not a duration: %q", v)
		}
		c.Retry.MaxDelay = d
	}

	// Storage
	if v := firstEnv("STOREFRONT_STORAGE_PROVIDER"); v != "" {
		c.Storage.Provider = strings.ToLower(v)
	}
	if v := firstEnv("STOREFRONT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := firstEnv("STOREFRONT_REDIS_URL", "REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := firstEnv("STOREFRONT_STORAGE_NAMESPACE"); v != "" {
		c.Storage.Namespace = v
	}

	// Discovery
	if v := firstEnv("STOREFRONT_DISCOVERY_PROVIDER"); v != "" {
		c.Discovery.Provider = strings.ToLower(v)
	}
	if v := firstEnv("STOREFRONT_CONSUL_ADDRESS", "CONSUL_HTTP_ADDR"); v != "" {
		c.Discovery.ConsulAddress = v
	}
	if v := firstEnv("STOREFRONT_DISCOVERY_SERVICE"); v != "" {
		c.Discovery.ServiceName = v
	}
	if v := firstEnv("STOREFRONT_DISCOVERY_TAG"); v != "" {
		c.Discovery.Tag = v
	}

	// UI
	if v := firstEnv("STOREFRONT_NOTICE_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid(op, "STOREFRONT_NOTICE_DURATION", "not a duration: %q", v)
		}
		c.UI.NoticeDuration = d
	}
	if v := firstEnv("STOREFRONT_SHIPPING_ADDRESS"); v != "" {
		c.UI.Shipping.Address = v
	}
	if v := firstEnv("STOREFRONT_SHIPPING_CITY"); v != "" {
		c.UI.Shipping.City = v
	}
	if v := firstEnv("STOREFRONT_SHIPPING_POSTAL_CODE"); v != "" {
		c.UI.Shipping.PostalCode = v
	}
	if v := firstEnv("STOREFRONT_SHIPPING_COUNTRY"); v != "" {
		c.UI.Shipping.Country = v
	}

	// Logging
	if v := firstEnv("STOREFRONT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := firstEnv("STOREFRONT_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	// Telemetry
	if v := firstEnv("STOREFRONT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := firstEnv("STOREFRONT_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = strings.ToLower(v)
	}
	if v := firstEnv("STOREFRONT_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := firstEnv("STOREFRONT_TELEMETRY_SERVICE_NAME", "OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := firstEnv("STOREFRONT_TELEMETRY_SAMPLING_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid(op, "STOREFRONT_TELEMETRY_SAMPLING_RATE", "not a number: %q", v)
		}
		c.Telemetry.SamplingRate = rate
	}
	if v := firstEnv("STOREFRONT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	return nil
}

// LoadFromFile loads a .json, .yaml or .yml file. Keys missing from the file
// keep their current value. Durations are written as strings ("3s").
//
// Example YAML:
//
//	api_base_url: https://shop.example.com/api
//	storage:
//	  provider: redis
//	  redis_url: redis://localhost:6379/0
//	ui:
//	  notice_duration: 5s
func (c *Config) LoadFromFile(path string) error {
	const op = "LoadFromFile"

	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return invalid(op, "", "unsupported config file extension %q", ext)
	}

	fs := c.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, cleanPath)
	if err != nil {
		return &ConfigError{Op: op, Message: fmt.Sprintf("failed to read config file %s", cleanPath), Err: err}
	}

	if ext == ".json" {
		// JSON goes through the YAML decoder so both formats share the
		// yaml tags and duration strings.
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return invalid(op, "", "failed to parse JSON config file: %v", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return invalid(op, "", "failed to convert JSON config file: %v", err)
		}
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return invalid(op, "", "failed to parse config file: %v", err)
	}
	return nil
}

// Validate checks the configuration. It is called by NewConfig.
func (c *Config) Validate() error {
	const op = "Config.Validate"

	switch c.Discovery.Provider {
	case DiscoveryStatic:
		if err := validateBaseURL(c.APIBaseURL); err != nil {
			return invalid(op, "api_base_url", "%v", err)
		}
	case DiscoveryConsul:
		if c.Discovery.ServiceName == "" {
			return missing(op, "discovery.service_name", "service name is required for consul discovery")
		}
		if c.Discovery.Scheme != "http" && c.Discovery.Scheme != "https" {
			return invalid(op, "discovery.scheme", "must be http or https, got %q", c.Discovery.Scheme)
		}
	default:
		return invalid(op, "discovery.provider", "unknown provider %q", c.Discovery.Provider)
	}

	if c.HTTP.Timeout <= 0 {
		return invalid(op, "http.timeout", "must be positive, got %s", c.HTTP.Timeout)
	}

	if c.Retry.MaxAttempts < 1 {
		return invalid(op, "retry.max_attempts", "must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor < 1 {
		return invalid(op, "retry.backoff_factor", "must be at least 1, got %g", c.Retry.BackoffFactor)
	}

	switch c.Storage.Provider {
	case storage.ProviderMemory, storage.ProviderFile:
	case storage.ProviderRedis:
		if c.Storage.RedisURL == "" {
			return missing(op, "storage.redis_url", "redis URL is required for the redis storage provider")
		}
	default:
		return invalid(op, "storage.provider", "unknown provider %q", c.Storage.Provider)
	}

	if c.UI.NoticeDuration <= 0 {
		return invalid(op, "ui.notice_duration", "must be positive, got %s", c.UI.NoticeDuration)
	}

	if c.Logging.Format != logger.FormatText && c.Logging.Format != logger.FormatJSON {
		return invalid(op, "logging.format", "must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid(op, "logging.level", "unknown level %q", c.Logging.Level)
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case telemetry.ExporterStdout:
		case telemetry.ExporterOTLP:
			if c.Telemetry.Endpoint == "" {
				return missing(op, "telemetry.endpoint", "telemetry endpoint is required for the otlp exporter")
			}
		default:
			return invalid(op, "telemetry.exporter", "unknown exporter %q", c.Telemetry.Exporter)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return invalid(op, "telemetry.sampling_rate", "must be within [0, 1], got %g", c.Telemetry.SamplingRate)
		}
	}

	return nil
}

// RetryPolicy converts the retry settings for the API client
func (c *Config) RetryPolicy() *resilience.RetryConfig {
	policy := resilience.DefaultRetryConfig()
	policy.MaxAttempts = c.Retry.MaxAttempts
	policy.InitialDelay = c.Retry.InitialDelay
	policy.MaxDelay = c.Retry.MaxDelay
	policy.BackoffFactor = c.Retry.BackoffFactor
	return policy
}

// TelemetrySetup converts the telemetry settings for telemetry.Setup
func (c *Config) TelemetrySetup(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Telemetry.Enabled,
		ServiceName:  c.Telemetry.ServiceName,
		Exporter:     c.Telemetry.Exporter,
		Endpoint:     c.Telemetry.Endpoint,
		Insecure:     c.Telemetry.Insecure,
		SamplingRate: c.Telemetry.SamplingRate,
		Version:      version,
	}
}

// Filesystem returns the filesystem used for config and session files
func (c *Config) Filesystem() afero.Fs {
	if c.fs == nil {
		return afero.NewOsFs()
	}
	return c.fs
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed base URL %q", raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base URL must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

// firstEnv returns the first non-empty variable among names
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// parseBool accepts "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
