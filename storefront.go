// Package storefront wires the client core together: configuration, logging,
// telemetry, session storage, backend discovery, the API client, the cart
// synchronizer and the controller that front ends drive.
//
// Most callers only need New:
//
//	app, err := storefront.New(ctx, storefront.WithAPIBaseURL("http://localhost:8080/api"))
//	if err != nil { ... }
//	defer app.Close(ctx)
//	app.Controller.Restore(ctx)
//
// The packages under pkg/ can also be used on their own.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/cart"
	"github.com/itsneelabh/storefront/pkg/config"
	"github.com/itsneelabh/storefront/pkg/controller"
	"github.com/itsneelabh/storefront/pkg/discovery"
	"github.com/itsneelabh/storefront/pkg/logger"
	"github.com/itsneelabh/storefront/pkg/session"
	"github.com/itsneelabh/storefront/pkg/storage"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// App is a fully wired client
type App struct {
	Config     *config.Config
	Logger     logger.Logger
	Telemetry  *telemetry.Provider
	Sessions   *session.Store
	Client     *api.Client
	Cart       *cart.Synchronizer
	Controller *controller.Controller

	storage storage.Storage
}

// Option configures New. All configuration options apply.
type Option = config.Option

// Re-exported configuration options
var (
	WithAPIBaseURL       = config.WithAPIBaseURL
	WithHTTPTimeout      = config.WithHTTPTimeout
	WithRetry            = config.WithRetry
	WithMemoryStorage    = config.WithMemoryStorage
	WithFileStorage      = config.WithFileStorage
	WithRedisStorage     = config.WithRedisStorage
	WithConsulDiscovery  = config.WithConsulDiscovery
	WithNoticeDuration   = config.WithNoticeDuration
	WithShipping         = config.WithShipping
	WithLogLevel         = config.WithLogLevel
	WithLogFormat        = config.WithLogFormat
	WithTelemetry        = config.WithTelemetry
	WithStdoutTracing    = config.WithStdoutTracing
	WithFilesystem       = config.WithFilesystem
	WithConfigFile       = config.WithConfigFile
	DefaultConfig        = config.DefaultConfig
	NewConfig            = config.NewConfig
	IsConfigurationError = config.IsConfigurationError
)

// New builds the configuration from defaults, the environment, an optional
// config file and opts, then creates every component. Logs go to stderr.
func New(ctx context.Context, opts ...Option) (*App, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	return NewWithConfig(ctx, cfg, os.Stderr)
}

// NewWithConfig creates every component from an already validated config.
// Logs are written to logOut.
func NewWithConfig(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logOut == nil {
		logOut = io.Discard
	}

	app := &App{
		Config: cfg,
		Logger: logger.NewLogger(logOut, cfg.Logging.Format, cfg.Logging.Level),
	}

	app.Logger.Info("Initializing storefront client", map[string]interface{}{
		"version":   Version,
		"storage":   cfg.Storage.Provider,
		"discovery": cfg.Discovery.Provider,
		"telemetry": cfg.Telemetry.Enabled,
	})

	tel, err := telemetry.Setup(ctx, cfg.TelemetrySetup(Version))
	if err != nil {
		// tracing is optional: keep going without it
		app.Logger.Error("Failed to initialize telemetry", map[string]interface{}{
			"exporter": cfg.Telemetry.Exporter,
			"error":    err.Error(),
		})
		tel = telemetry.NewNoop()
	}
	app.Telemetry = tel

	store, err := openStorage(cfg)
	if err != nil {
		// without durable storage the client still works, it just cannot
		// remember a session across restarts
		app.Logger.Warn("Session storage unavailable, falling back to memory", map[string]interface{}{
			"provider": cfg.Storage.Provider,
			"error":    err.Error(),
		})
		store = storage.NewMemoryStorage()
	}
	app.storage = store
	app.Sessions = session.NewStore(store, app.Logger)

	resolver, err := newResolver(cfg, app.Logger)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	baseURL, err := resolver.Resolve(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("failed to resolve backend: %w", err)
	}

	httpClient := telemetry.NewTracedHTTPClient(userAgent(cfg.HTTP.UserAgent), cfg.HTTP.Timeout)
	clientOpts := []api.Option{
		api.WithHTTPClient(httpClient),
		api.WithRetry(cfg.RetryPolicy()),
		api.WithLogger(app.Logger),
		api.WithTelemetry(tel),
	}
	if cfg.Discovery.Provider == config.DiscoveryConsul {
		// follow the service when it moves or an instance goes away
		clientOpts = append(clientOpts, api.WithResolver(resolver))
	}
	app.Client, err = api.NewClient(baseURL, app.Sessions, clientOpts...)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	app.Cart = cart.NewSynchronizer(app.Client, app.Sessions, app.Logger)
	app.Controller = controller.New(app.Client, app.Cart, app.Sessions,
		controller.WithLogger(app.Logger),
		controller.WithTelemetry(tel),
		controller.WithNoticeDuration(cfg.UI.NoticeDuration),
		controller.WithShipping(shipping(cfg.UI.Shipping)),
	)

	app.Logger.Info("Storefront client ready", map[string]interface{}{
		"api_base_url": app.Client.BaseURL(),
	})
	return app, nil
}

// Close stops the controller, flushes telemetry and closes the session
// storage. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a.Controller != nil {
		a.Controller.Close()
	}
	var errs []error
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
		a.storage = nil
	}
	if err := a.shutdownTelemetry(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) shutdownTelemetry(ctx context.Context) error {
	if a.Telemetry == nil {
		return nil
	}
	tel := a.Telemetry
	a.Telemetry = nil
	if err := tel.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down telemetry: %w", err)
	}
	return nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Provider {
	case storage.ProviderFile:
		path := cfg.Storage.Path
		if path == "" {
			path = storage.DefaultFilePath()
		}
		s, err := storage.NewFileStorage(cfg.Filesystem(), path)
		if err != nil {
			return nil, fmt.Errorf("failed to open session file: %w", err)
		}
		return s, nil
	case storage.ProviderRedis:
		s, err := storage.NewRedisStorage(cfg.Storage.RedisURL, cfg.Storage.Namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to connect session storage: %w", err)
		}
		return s, nil
	default:
		return storage.NewMemoryStorage(), nil
	}
}

func newResolver(cfg *config.Config, log logger.Logger) (discovery.Resolver, error) {
	switch cfg.Discovery.Provider {
	case config.DiscoveryConsul:
		consul, err := discovery.NewConsulResolver(discovery.ConsulOptions{
			Address:     cfg.Discovery.ConsulAddress,
			ServiceName: cfg.Discovery.ServiceName,
			Tag:         cfg.Discovery.Tag,
			Scheme:      cfg.Discovery.Scheme,
			PathPrefix:  cfg.Discovery.PathPrefix,
			Logger:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create consul resolver: %w", err)
		}
		return consul, nil
	default:
		return discovery.NewStaticResolver(cfg.APIBaseURL), nil
	}
}

func shipping(s config.ShippingConfig) api.ShippingDetails {
	return api.ShippingDetails{
		Address:    s.Address,
		City:       s.City,
		PostalCode: s.PostalCode,
		Country:    s.Country,
	}
}

// userAgentTransport stamps every request with the configured User-Agent
type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func userAgent(agent string) http.RoundTripper {
	if agent == "" {
		return nil
	}
	return &userAgentTransport{agent: agent, next: http.DefaultTransport}
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(r)
}
