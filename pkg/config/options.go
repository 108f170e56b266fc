package config

import (
	"time"

	"github.com/spf13/afero"

	"github.com/itsneelabh/storefront/pkg/storage"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// WithAPIBaseURL sets the backend root URL
func WithAPIBaseURL(baseURL string) Option {
	return func(c *Config) error {
		if err := validateBaseURL(baseURL); err != nil {
			return invalid("WithAPIBaseURL", "api_base_url", "%v", err)
		}
		c.APIBaseURL = baseURL
		c.Discovery.Provider = DiscoveryStatic
		return nil
	}
}

// WithHTTPTimeout sets the per-request timeout
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return invalid("WithHTTPTimeout", "http.timeout", "must be positive, got %s", d)
		}
		c.HTTP.Timeout = d
		return nil
	}
}

// WithRetry sets how often idempotent reads are attempted
func WithRetry(maxAttempts int, initialDelay time.Duration) Option {
	return func(c *Config) error {
		c.Retry.MaxAttempts = maxAttempts
		if initialDelay > 0 {
			c.Retry.InitialDelay = initialDelay
		}
		return nil
	}
}

// WithMemoryStorage keeps the session in process memory only
func WithMemoryStorage() Option {
	return func(c *Config) error {
		c.Storage.Provider = storage.ProviderMemory
		return nil
	}
}

// WithFileStorage persists the session to a JSON file. An empty path uses
// storage.DefaultFilePath.
func WithFileStorage(path string) Option {
	return func(c *Config) error {
		c.Storage.Provider = storage.ProviderFile
		c.Storage.Path = path
		return nil
	}
}

// WithRedisStorage persists the session in Redis
func WithRedisStorage(redisURL string) Option {
	return func(c *Config) error {
		c.Storage.Provider = storage.ProviderRedis
		c.Storage.RedisURL = redisURL
		return nil
	}
}

// WithConsulDiscovery resolves the backend through a Consul agent
func WithConsulDiscovery(address, serviceName string) Option {
	return func(c *Config) error {
		c.Discovery.Provider = DiscoveryConsul
		if address != "" {
			c.Discovery.ConsulAddress = address
		}
		if serviceName != "" {
			c.Discovery.ServiceName = serviceName
		}
		return nil
	}
}

// WithNoticeDuration sets how long success notices stay visible
func WithNoticeDuration(d time.Duration) Option {
	return func(c *Config) error {
		c.UI.NoticeDuration = d
		return nil
	}
}

// WithShipping sets the shipping details sent with orders
func WithShipping(s ShippingConfig) Option {
	return func(c *Config) error {
		c.UI.Shipping = s
		return nil
	}
}

// WithLogLevel sets the log level (debug, info, warn, error)
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the log format (text or json)
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithTelemetry enables tracing with the given exporter
func WithTelemetry(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithStdoutTracing prints spans, for local debugging
func WithStdoutTracing() Option {
	return WithTelemetry(telemetry.ExporterStdout, "")
}

// WithFilesystem replaces the OS filesystem used for the config file and
// the session file. Apply it before WithConfigFile.
func WithFilesystem(fs afero.Fs) Option {
	return func(c *Config) error {
		if fs != nil {
			c.fs = fs
		}
		return nil
	}
}

// WithConfigFile loads a JSON or YAML file. Options after it override the
// file's settings.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}
