package cart

import (
	"context"
	"sync"

	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/logger"
	"github.com/itsneelabh/storefront/pkg/session"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// Messages for mutations attempted without a session.
const (
	MsgLoginToAdd    = "Please log in to add items to your cart."
	MsgLoginToModify = "Please log in to manage your cart."
)

// Backend is the part of the API client the synchronizer drives
type Backend interface {
	Cart(ctx context.Context) ([]api.CartItem, error)
	AddToCart(ctx context.Context, productID api.ID, quantity int) (api.Confirmation, error)
	DecrementCartItem(ctx context.Context, productID api.ID) error
	RemoveCartItem(ctx context.Context, productID api.ID) error
}

// SessionReader exposes the current session
type SessionReader interface {
	Load(ctx context.Context) session.Session
}

// Synchronizer owns the published cart snapshot.
//
// Fetches are numbered when they start. A fetch result is only published if
// no later fetch (or Reset) has been published already, so a slow response
// can never overwrite a newer cart.
type Synchronizer struct {
	backend  Backend
	sessions SessionReader
	logger   logger.Logger

	mu        sync.Mutex
	snapshot  Snapshot
	issued    uint64
	published uint64
	onExpired func(ctx context.Context, err error)
	onChange  []func(Snapshot)
}

// NewSynchronizer creates a synchronizer with an empty cart
func NewSynchronizer(backend Backend, sessions SessionReader, log logger.Logger) *Synchronizer {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Synchronizer{
		backend:  backend,
		sessions: sessions,
		logger:   log.WithField("component", "cart"),
	}
}

// OnSessionExpired registers the handler invoked when a cart call reports
// that the session is no longer valid. The handler runs once per failing
// call, outside the synchronizer's lock.
func (s *Synchronizer) OnSessionExpired(fn func(ctx context.Context, err error)) {
	s.mu.Lock()
	s.onExpired = fn
	s.mu.Unlock()
}

// OnChange registers a listener called with every newly published snapshot
func (s *Synchronizer) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current cart
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Reset publishes an empty cart and invalidates fetches still in flight.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.issued++
	s.published = s.issued
	changed := !s.snapshot.Empty()
	s.snapshot = Snapshot{Version: s.snapshot.Version + 1}
	snap, listeners := s.snapshot.clone(), s.listeners()
	s.mu.Unlock()

	if changed {
		s.logger.Debug("Cart reset")
	}
	notify(listeners, snap)
}

// Sync re-fetches the cart. Without a session the cart is forced empty and
// no request is made.
func (s *Synchronizer) Sync(ctx context.Context) (Snapshot, error) {
	if !s.sessions.Load(ctx).Valid() {
		s.Reset()
		return s.Snapshot(), nil
	}

	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	items, err := s.backend.Cart(ctx)
	if err != nil {
		s.logger.Warn("Cart sync failed", telemetry.EnrichLogFields(ctx, map[string]interface{}{
			"error":   err.Error(),
			"expired": api.IsSessionExpired(err),
		}))
		s.handleExpiry(ctx, err)
		return s.Snapshot(), err
	}

	s.mu.Lock()
	if seq < s.published {
		current, published := s.snapshot.clone(), s.published
		s.mu.Unlock()
		s.logger.Debug("Discarding stale cart fetch", map[string]interface{}{
			"seq":       seq,
			"published": published,
		})
		return current, nil
	}
	s.published = seq
	s.snapshot = Snapshot{Lines: fromServer(items), Version: s.snapshot.Version + 1}
	snap, listeners := s.snapshot.clone(), s.listeners()
	s.mu.Unlock()

	s.logger.Debug("Cart synchronized", telemetry.EnrichLogFields(ctx, map[string]interface{}{
		"lines": len(snap.Lines),
		"items": snap.ItemCount(),
		"total": snap.Total().StringFixed(2),
	}))
	notify(listeners, snap)
	return snap, nil
}

// Add puts one unit of productID in the cart, then re-fetches.
func (s *Synchronizer) Add(ctx context.Context, productID api.ID) (Snapshot, error) {
	return s.mutate(ctx, "cart.add", MsgLoginToAdd, func(ctx context.Context) error {
		_, err := s.backend.AddToCart(ctx, productID, 1)
		return err
	})
}

// Decrement removes one unit of productID, then re-fetches.
func (s *Synchronizer) Decrement(ctx context.Context, productID api.ID) (Snapshot, error) {
	return s.mutate(ctx, "cart.decrement", MsgLoginToModify, func(ctx context.Context) error {
		return s.backend.DecrementCartItem(ctx, productID)
	})
}

// RemoveAll drops productID's line, then re-fetches.
func (s *Synchronizer) RemoveAll(ctx context.Context, productID api.ID) (Snapshot, error) {
	return s.mutate(ctx, "cart.remove", MsgLoginToModify, func(ctx context.Context) error {
		return s.backend.RemoveCartItem(ctx, productID)
	})
}

func (s *Synchronizer) mutate(ctx context.Context, op, loginMsg string, fn func(context.Context) error) (Snapshot, error) {
	if !s.sessions.Load(ctx).Valid() {
		s.Reset()
		return s.Snapshot(), &api.Error{Op: op, Message: loginMsg, Err: api.ErrNotAuthenticated}
	}

	ctx = telemetry.WithCorrelationID(ctx)
	if err := fn(ctx); err != nil {
		s.handleExpiry(ctx, err)
		return s.Snapshot(), err
	}
	return s.Sync(ctx)
}

func (s *Synchronizer) handleExpiry(ctx context.Context, err error) {
	if !api.IsSessionExpired(err) {
		return
	}
	s.mu.Lock()
	fn := s.onExpired
	s.mu.Unlock()
	if fn != nil {
		fn(ctx, err)
	}
}

// listeners must be called with mu held
func (s *Synchronizer) listeners() []func(Snapshot) {
	out := make([]func(Snapshot), len(s.onChange))
	copy(out, s.onChange)
	return out
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap.clone())
	}
}
