// Package controller is the storefront's application controller: it owns the
// page switch, the session view, the cart snapshot and the transient
// error/notice line, and turns user intents into API and cart calls.
//
// Actions never hold the controller lock across a network call. Listeners
// registered with Subscribe receive a State copy after every change.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/cart"
	"github.com/itsneelabh/storefront/pkg/logger"
	"github.com/itsneelabh/storefront/pkg/session"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// DefaultNoticeDuration is how long the order confirmation stays visible
const DefaultNoticeDuration = 3 * time.Second

// ErrUnknownPage is returned by Navigate for names outside Pages
var ErrUnknownPage = errors.New("unknown page")

// Shopper-facing texts.
const (
	MsgLoginToCheckout = "Please log in to place an order."
	MsgEmptyCart       = "Your cart is empty. Add items before checking out."
	MsgOrderPlaced     = "Your order has been successfully placed. Thank you for shopping with us!"
	MsgLoginForOrders  = "You must be logged in to view order history."
	MsgSessionExpired  = "Your session has expired. Please log in again."

	fallbackLogin    = "Login failed. Please check your credentials."
	fallbackRegister = "Registration failed. This email might already be registered."
	fallbackCartLoad = "Failed to load cart. Please log in again if session expired."
	fallbackAdd      = "Failed to add product to cart. Please try again."
	fallbackDecr     = "Failed to remove product. Please try again."
	fallbackRemove   = "Failed to remove all items. Please try again."
	fallbackCheckout = "Failed to place order. Please try again."
	fallbackCatalog  = "Failed to load products. Please try again later."
	fallbackOrders   = "Failed to load order history. Please try again."
)

// API is the part of the backend client the controller calls directly
type API interface {
	Products(ctx context.Context) ([]api.Product, error)
	Login(ctx context.Context, email, password string) (*api.AuthResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) (*api.AuthResponse, error)
	PlaceOrder(ctx context.Context, req api.PlaceOrderRequest) (*api.Order, error)
	Orders(ctx context.Context) ([]api.Order, error)
}

// Cart is the cart synchronizer as seen by the controller
type Cart interface {
	Sync(ctx context.Context) (cart.Snapshot, error)
	Add(ctx context.Context, productID api.ID) (cart.Snapshot, error)
	Decrement(ctx context.Context, productID api.ID) (cart.Snapshot, error)
	RemoveAll(ctx context.Context, productID api.ID) (cart.Snapshot, error)
	Reset()
	Snapshot() cart.Snapshot
	OnSessionExpired(fn func(ctx context.Context, err error))
	OnChange(fn func(cart.Snapshot))
}

// Controller is safe for concurrent use
type Controller struct {
	api      API
	cart     Cart
	sessions api.SessionStore
	logger   logger.Logger
	tel      telemetry.Telemetry

	noticeDuration time.Duration
	shipping       api.ShippingDetails

	mu          sync.Mutex
	state       State
	noticeGen   uint64
	noticeTimer *time.Timer
	listeners   map[int]func(State)
	nextID      int
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithTelemetry sets the span recorder for actions
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(c *Controller) {
		if t != nil {
			c.tel = t
		}
	}
}

// WithNoticeDuration sets how long success notices stay visible
func WithNoticeDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.noticeDuration = d
		}
	}
}

// WithShipping sets the shipping details sent with every order
func WithShipping(s api.ShippingDetails) Option {
	return func(c *Controller) {
		c.shipping = s
	}
}

// New creates a controller on the catalog page. Call Restore to pick up a
// persisted session.
func New(client API, carts Cart, sessions api.SessionStore, opts ...Option) *Controller {
	c := &Controller{
		api:            client,
		cart:           carts,
		sessions:       sessions,
		logger:         &logger.NoOpLogger{},
		tel:            telemetry.NewNoop(),
		noticeDuration: DefaultNoticeDuration,
		shipping:       api.DefaultShipping,
		state:          State{Page: PageCatalog},
		listeners:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "controller")

	carts.OnSessionExpired(c.expire)
	carts.OnChange(func(snap cart.Snapshot) {
		c.update(func(s *State) { s.Cart = snap })
	})
	return c
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive every new state. The returned function
// removes the subscription.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Restore loads the persisted session and, when there is one, the cart.
func (c *Controller) Restore(ctx context.Context) {
	ctx, span := c.startAction(ctx, "restore")
	sess := c.sessions.Load(ctx)
	c.update(func(s *State) { s.Session = sess })

	var err error
	if sess.Valid() {
		c.logger.Info("Session restored", map[string]interface{}{"user_id": sess.UserID})
		if _, err = c.cart.Sync(ctx); err != nil {
			c.failUnlessExpired(err, fallbackCartLoad)
		}
	} else {
		c.cart.Reset()
	}
	telemetry.EndSpan(span, err)
}

// Login authenticates. On success the catalog is shown and the cart loaded;
// on failure the session is left as it was.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	ctx, span := c.startAction(ctx, "login")
	c.clearMessages()

	_, err := c.api.Login(ctx, email, password)
	if err != nil {
		c.setError(api.UserMessage(err, fallbackLogin))
		telemetry.EndSpan(span, err)
		return err
	}
	c.signedIn(ctx)
	telemetry.EndSpan(span, nil)
	return nil
}

// Register creates an account and signs in, like Login.
func (c *Controller) Register(ctx context.Context, name, email, password string) error {
	ctx, span := c.startAction(ctx, "register")
	c.clearMessages()

	_, err := c.api.Register(ctx, api.RegisterRequest{Name: name, Email: email, Password: password})
	if err != nil {
		c.setError(api.UserMessage(err, fallbackRegister))
		telemetry.EndSpan(span, err)
		return err
	}
	c.signedIn(ctx)
	telemetry.EndSpan(span, nil)
	return nil
}

func (c *Controller) signedIn(ctx context.Context) {
	sess := c.sessions.Load(ctx)
	c.update(func(s *State) {
		s.Session = sess
		s.Page = PageCatalog
	})
	c.logger.Info("User signed in", telemetry.EnrichLogFields(ctx, map[string]interface{}{
		"user_id": sess.UserID,
	}))

	if _, err := c.cart.Sync(ctx); err != nil {
		c.failUnlessExpired(err, fallbackCartLoad)
	}
}

// Logout clears the session and the cart. It always succeeds.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	userID := c.state.Session.UserID
	c.mu.Unlock()

	c.logout(ctx)
	c.logger.Info("User signed out", map[string]interface{}{"user_id": userID})
}

func (c *Controller) logout(ctx context.Context) {
	c.sessions.Clear(ctx)
	c.cart.Reset()
	c.update(func(s *State) {
		s.Session = session.Session{}
		s.Cart = cart.Snapshot{Version: s.Cart.Version}
		s.CartOpen = false
		s.Orders = nil
		s.Page = PageCatalog
		c.clearMessagesLocked(s)
	})
}

// expire forces a logout after the backend rejected the session. Only the
// first report for a given session has an effect.
func (c *Controller) expire(ctx context.Context, err error) {
	c.mu.Lock()
	if !c.state.Session.Valid() {
		c.mu.Unlock()
		return
	}
	userID := c.state.Session.UserID
	c.state.Session = session.Session{}
	c.mu.Unlock()

	c.logger.Warn("Session expired, logging out", telemetry.EnrichLogFields(ctx, map[string]interface{}{
		"user_id": userID,
		"error":   err.Error(),
	}))
	c.logout(ctx)
	c.setError(MsgSessionExpired)
}

// AddToCart adds one unit of product. Requires a session; on success the
// cart panel opens.
func (c *Controller) AddToCart(ctx context.Context, product api.Product) error {
	ctx, span := c.startAction(ctx, "cart.add", attribute.String("product.id", product.ID.String()))
	c.clearMessages()

	if !c.State().LoggedIn() {
		err := &api.Error{Op: "cart.add", Message: cart.MsgLoginToAdd, Err: api.ErrNotAuthenticated}
		c.setError(err.Message)
		telemetry.EndSpan(span, err)
		return err
	}

	_, err := c.cart.Add(ctx, product.ID)
	if err != nil {
		c.failUnlessExpired(err, fallbackAdd)
		telemetry.EndSpan(span, err)
		return err
	}
	c.update(func(s *State) { s.CartOpen = true })
	telemetry.EndSpan(span, nil)
	return nil
}

// DecrementLine removes one unit of productID
func (c *Controller) DecrementLine(ctx context.Context, productID api.ID) error {
	return c.cartAction(ctx, "cart.decrement", productID, fallbackDecr, c.cart.Decrement)
}

// RemoveLine removes productID's line entirely
func (c *Controller) RemoveLine(ctx context.Context, productID api.ID) error {
	return c.cartAction(ctx, "cart.remove", productID, fallbackRemove, c.cart.RemoveAll)
}

func (c *Controller) cartAction(ctx context.Context, name string, productID api.ID, fallback string,
	fn func(context.Context, api.ID) (cart.Snapshot, error)) error {
	ctx, span := c.startAction(ctx, name, attribute.String("product.id", productID.String()))
	c.clearMessages()

	_, err := fn(ctx, productID)
	if err != nil {
		c.failUnlessExpired(err, fallback)
	}
	telemetry.EndSpan(span, err)
	return err
}

// Checkout places an order for the current cart. Without a session the login
// page is shown; with an empty cart nothing is sent.
func (c *Controller) Checkout(ctx context.Context) error {
	ctx, span := c.startAction(ctx, "checkout")
	c.clearMessages()

	st := c.State()
	if !st.LoggedIn() {
		err := &api.Error{Op: "orders.place", Message: MsgLoginToCheckout, Err: api.ErrNotAuthenticated}
		c.update(func(s *State) { s.Page = PageLogin })
		c.setError(err.Message)
		telemetry.EndSpan(span, err)
		return err
	}
	if st.Cart.Empty() {
		err := &api.Error{Op: "orders.place", Message: MsgEmptyCart, Err: api.ErrEmptyCart}
		c.setError(err.Message)
		telemetry.EndSpan(span, err)
		return err
	}

	order, err := c.api.PlaceOrder(ctx, api.PlaceOrderRequest{
		Items:           st.Cart.OrderLines(),
		ShippingDetails: c.shipping,
	})
	if err != nil {
		if api.IsSessionExpired(err) {
			c.expire(ctx, err)
		} else {
			c.setError(api.UserMessage(err, fallbackCheckout))
		}
		telemetry.EndSpan(span, err)
		return err
	}

	c.cart.Reset()
	c.update(func(s *State) { s.CartOpen = false })
	c.showNotice(MsgOrderPlaced)

	c.logger.Info("Order placed", telemetry.EnrichLogFields(ctx, map[string]interface{}{
		"order_id": order.ID.String(),
		"lines":    len(st.Cart.Lines),
		"total":    st.Cart.Total().StringFixed(2),
	}))
	telemetry.EndSpan(span, nil)
	return nil
}

// LoadCatalog fetches the product list
func (c *Controller) LoadCatalog(ctx context.Context) error {
	ctx, span := c.startAction(ctx, "catalog.load")

	products, err := c.api.Products(ctx)
	if err != nil {
		c.setError(api.UserMessage(err, fallbackCatalog))
		telemetry.EndSpan(span, err)
		return err
	}
	c.update(func(s *State) { s.Products = products })
	telemetry.EndSpan(span, nil)
	return nil
}

// LoadOrders shows the order history page. Without a session the login page
// is shown instead.
func (c *Controller) LoadOrders(ctx context.Context) error {
	ctx, span := c.startAction(ctx, "orders.load")

	if !c.State().LoggedIn() {
		err := &api.Error{Op: "orders.list", Message: MsgLoginForOrders, Err: api.ErrNotAuthenticated}
		c.update(func(s *State) { s.Page = PageLogin })
		c.setError(err.Message)
		telemetry.EndSpan(span, err)
		return err
	}
	c.update(func(s *State) { s.Page = PageOrders })

	orders, err := c.api.Orders(ctx)
	if err != nil {
		if api.IsSessionExpired(err) {
			c.expire(ctx, err)
		} else {
			c.setError(api.UserMessage(err, fallbackOrders))
		}
		telemetry.EndSpan(span, err)
		return err
	}
	c.update(func(s *State) { s.Orders = orders })
	telemetry.EndSpan(span, nil)
	return nil
}

// Navigate switches page without loading anything
func (c *Controller) Navigate(page Page) error {
	p, err := ParsePage(string(page))
	if err != nil {
		return err
	}
	c.update(func(s *State) { s.Page = p })
	return nil
}

// ToggleCart opens or closes the cart panel
func (c *Controller) ToggleCart() {
	c.update(func(s *State) { s.CartOpen = !s.CartOpen })
}

// DismissMessages clears the error and the notice
func (c *Controller) DismissMessages() {
	c.clearMessages()
}

// Close stops a pending notice timer
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
}

// failUnlessExpired shows err unless it was a session expiry, which the
// expire handler has already reported.
func (c *Controller) failUnlessExpired(err error, fallback string) {
	if api.IsSessionExpired(err) {
		return
	}
	c.setError(api.UserMessage(err, fallback))
}

func (c *Controller) setError(msg string) {
	c.update(func(s *State) {
		c.clearMessagesLocked(s)
		s.Error = msg
	})
}

// showNotice sets the notice and schedules its removal. A later message
// supersedes the timer.
func (c *Controller) showNotice(msg string) {
	c.update(func(s *State) {
		c.clearMessagesLocked(s)
		s.Notice = msg

		gen := c.noticeGen
		c.noticeTimer = time.AfterFunc(c.noticeDuration, func() {
			c.update(func(s *State) {
				if c.noticeGen == gen {
					s.Notice = ""
					c.noticeTimer = nil
				}
			})
		})
	})
}

func (c *Controller) clearMessages() {
	c.update(func(s *State) { c.clearMessagesLocked(s) })
}

// clearMessagesLocked must run inside update
func (c *Controller) clearMessagesLocked(s *State) {
	s.Error = ""
	s.Notice = ""
	c.noticeGen++
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
}

// update applies fn under the lock and notifies listeners when the state
// changed.
func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	before := c.state
	fn(&c.state)
	after := c.state
	var listeners []func(State)
	if !sameState(before, after) {
		listeners = make([]func(State), 0, len(c.listeners))
		for _, l := range c.listeners {
			listeners = append(listeners, l)
		}
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(after)
	}
}

func (c *Controller) startAction(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx = telemetry.WithCorrelationID(ctx)
	return c.tel.StartSpan(ctx, "storefront.action."+name, attrs...)
}

func sameState(a, b State) bool {
	return a.Page == b.Page &&
		a.Session == b.Session &&
		a.CartOpen == b.CartOpen &&
		a.Error == b.Error &&
		a.Notice == b.Notice &&
		a.Cart.Version == b.Cart.Version &&
		len(a.Cart.Lines) == len(b.Cart.Lines) &&
		sameBacking(a.Products, b.Products) &&
		sameBacking(a.Orders, b.Orders)
}

// sameBacking reports whether two slices are the same slice value
func sameBacking[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return (a == nil) == (b == nil)
	}
	return &a[0] == &b[0]
}
