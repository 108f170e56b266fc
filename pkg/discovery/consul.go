package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/storefront/pkg/logger"
)

// DefaultCacheTTL is how long a resolved endpoint is reused before Consul is
// asked again
const DefaultCacheTTL = 30 * time.Second

// ConsulOptions configures a ConsulResolver
type ConsulOptions struct {
	Address     string // host:port or http(s)://host:port of the Consul agent
	Token       string
	ServiceName string
	Tag         string
	Scheme      string // scheme of the backend, not of Consul
	PathPrefix  string
	CacheTTL    time.Duration
	Logger      logger.Logger
}

// ConsulResolver picks a healthy backend instance registered in Consul
type ConsulResolver struct {
	health  *consulapi.Health
	service string
	tag     string
	scheme  string
	prefix  string
	ttl     time.Duration
	logger  logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	cached   *Endpoint
	cachedAt time.Time
}

// NewConsulResolver creates a resolver talking to the Consul HTTP API
func NewConsulResolver(opts ConsulOptions) (*ConsulResolver, error) {
	if opts.ServiceName == "" {
		return nil, fmt.Errorf("consul service name is required: %w", ErrServiceNotFound)
	}
	cfg := consulapi.DefaultConfig()
	if opts.Address != "" {
		cfg.Address = opts.Address
	}
	if opts.Token != "" {
		cfg.Token = opts.Token
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return newConsulResolver(client.Health(), opts), nil
}

func newConsulResolver(health *consulapi.Health, opts ConsulOptions) *ConsulResolver {
	log := opts.Logger
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ConsulResolver{
		health:  health,
		service: opts.ServiceName,
		tag:     opts.Tag,
		scheme:  opts.Scheme,
		prefix:  opts.PathPrefix,
		ttl:     ttl,
		logger:  log.WithField("component", "discovery"),
		now:     time.Now,
	}
}

// Resolve returns the base URL of a healthy instance
func (r *ConsulResolver) Resolve(ctx context.Context) (string, error) {
	ep, err := r.Endpoint(ctx)
	if err != nil {
		return "", err
	}
	return ep.URL(r.scheme, r.prefix), nil
}

// Endpoint returns a healthy instance, from cache when it is fresh enough
func (r *ConsulResolver) Endpoint(ctx context.Context) (Endpoint, error) {
	tracer := otel.Tracer("storefront.discovery")
	ctx, span := tracer.Start(ctx, "Discovery.Resolve",
		trace.WithAttributes(attribute.String("service", r.service)),
	)
	defer span.End()

	r.mu.Lock()
	if r.cached != nil && r.now().Sub(r.cachedAt) < r.ttl {
		ep := *r.cached
		r.mu.Unlock()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return ep, nil
	}
	r.mu.Unlock()

	ep, err := r.query(ctx)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrDiscoveryUnavailable) {
			if stale, ok := r.stale(); ok {
				r.logger.Warn("Consul unavailable, using cached endpoint", map[string]interface{}{
					"service":  r.service,
					"endpoint": stale.ID,
					"error":    err.Error(),
				})
				span.AddEvent("Falling back to cache")
				return stale, nil
			}
		}
		span.SetStatus(codes.Error, err.Error())
		return Endpoint{}, err
	}

	r.mu.Lock()
	r.cached = &ep
	r.cachedAt = r.now()
	r.mu.Unlock()

	r.logger.Debug("Resolved backend endpoint", map[string]interface{}{
		"service": r.service,
		"id":      ep.ID,
		"address": ep.Address,
		"port":    ep.Port,
	})
	return ep, nil
}

func (r *ConsulResolver) query(ctx context.Context) (Endpoint, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.health.Service(r.service, r.tag, true, q)
	if err != nil {
		if ctx.Err() != nil {
			return Endpoint{}, ctx.Err()
		}
		return Endpoint{}, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}

	endpoints := make([]Endpoint, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.Service == nil {
			continue
		}
		addr := entry.Service.Address
		if addr == "" && entry.Node != nil {
			addr = entry.Node.Address
		}
		if addr == "" {
			continue
		}
		endpoints = append(endpoints, Endpoint{
			ID:      entry.Service.ID,
			Address: addr,
			Port:    entry.Service.Port,
			Tags:    entry.Service.Tags,
		})
	}
	if len(endpoints) == 0 {
		return Endpoint{}, fmt.Errorf("%w: no healthy instance of %q", ErrServiceNotFound, r.service)
	}

	// stable choice across calls while the instance set is unchanged
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].ID < endpoints[j].ID })
	return endpoints[0], nil
}

func (r *ConsulResolver) stale() (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == nil {
		return Endpoint{}, false
	}
	return *r.cached, true
}

// Invalidate drops the cached endpoint, e.g. after the backend refused
// connections
func (r *ConsulResolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}
