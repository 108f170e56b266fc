// Package api is the storefront's client for the remote REST backend.
//
// There is one method per backend capability. Every failure, whether a
// transport error, a JSON error body, a plain-text body or no body at all,
// comes back as *Error carrying the HTTP status (0 when there was no
// response) and a message that can be shown to the shopper as is.
//
// Login and Register are the only calls with a side effect beyond the
// network: on success they persist the returned session.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/itsneelabh/storefront/pkg/logger"
	"github.com/itsneelabh/storefront/pkg/resilience"
	"github.com/itsneelabh/storefront/pkg/session"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// DefaultBaseURL is used when no base URL is configured
const DefaultBaseURL = "http://localhost:8080/api"

// maxBodySize bounds how much of any response is read.
const maxBodySize = 4 << 20

// Shopper-facing messages for failures that carry no server text.
const (
	msgNotLoggedIn     = "No authentication token found. Please log in."
	msgSessionExpired  = "Session expired. Please log in again."
	msgUnreachable     = "Unable to reach the store. Please check your connection and try again."
	msgUnexpectedReply = "Unexpected response from the store. Please try again."
)

// SessionStore is the slice of session.Store the client depends on
type SessionStore interface {
	Save(ctx context.Context, token, userID, username string)
	Load(ctx context.Context) session.Session
	Clear(ctx context.Context)
}

// Resolver finds the backend base URL before every request. A resolver that
// also has an Invalidate method is told when the backend could not be reached,
// so a stale endpoint is not reused.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

type invalidator interface {
	Invalidate()
}

// Client calls the storefront backend
type Client struct {
	mu         sync.RWMutex
	baseURL    *url.URL
	resolver   Resolver
	httpClient *http.Client
	sessions   SessionStore
	logger     logger.Logger
	telemetry  telemetry.Telemetry
	validator  *validator.Validate
	retry      *resilience.RetryConfig
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the traced default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithTelemetry sets the span and metric recorder
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(c *Client) {
		if t != nil {
			c.telemetry = t
		}
	}
}

// WithRetry sets the retry policy for idempotent reads. Pass
// resilience.NoRetry() to disable retries.
func WithRetry(cfg *resilience.RetryConfig) Option {
	return func(c *Client) {
		if cfg != nil {
			c.retry = cfg
		}
	}
}

// WithClock overrides time.Now, used for local token expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithResolver looks the base URL up before every request, e.g. through
// discovery.ConsulResolver. The base URL given to NewClient is used until the
// first successful lookup and whenever a lookup fails.
func WithResolver(r Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// NewClient creates a client for the backend rooted at baseURL, e.g.
// "https://shop.example.com/api".
func NewClient(baseURL string, sessions SessionStore, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrInvalidRequest)
	}

	c := &Client{
		baseURL:    u,
		httpClient: telemetry.NewTracedHTTPClient(nil, 0),
		sessions:   sessions,
		logger:     &logger.NoOpLogger{},
		telemetry:  telemetry.NewNoop(),
		validator:  newValidator(),
		retry:      resilience.DefaultRetryConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "api")
	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: base URL %q: %v", ErrInvalidRequest, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q must be an absolute http(s) URL", ErrInvalidRequest, raw)
	}
	return u, nil
}

// BaseURL returns the backend root the client talks to
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL.String()
}

// endpoint returns the base URL for the next request. Without a resolver it
// is fixed; a failed lookup keeps the last known one.
func (c *Client) endpoint(ctx context.Context) string {
	if c.resolver == nil {
		return c.BaseURL()
	}
	raw, err := c.resolver.Resolve(ctx)
	if err == nil {
		var u *url.URL
		if u, err = parseBaseURL(raw); err == nil {
			c.mu.Lock()
			previous := c.baseURL.String()
			c.baseURL = u
			c.mu.Unlock()
			if previous != u.String() {
				c.logger.Info("Backend endpoint changed", map[string]interface{}{
					"from": previous,
					"to":   u.String(),
				})
			}
			return u.String()
		}
	}
	current := c.BaseURL()
	c.logger.Warn("Backend lookup failed, keeping last known endpoint", telemetry.EnrichLogFields(ctx, map[string]interface{}{
		"endpoint": current,
		"error":    err.Error(),
	}))
	return current
}

// dropEndpoint tells the resolver the current endpoint refused us
func (c *Client) dropEndpoint(ctx context.Context, base string) {
	inv, ok := c.resolver.(invalidator)
	if !ok || ctx.Err() != nil {
		return
	}
	inv.Invalidate()
	c.logger.Debug("Invalidated backend endpoint", map[string]interface{}{"endpoint": base})
}

// Products lists the catalog. No session is required.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var products []Product
	err := c.do(ctx, call{op: "products.list", method: http.MethodGet, path: "/products"}, &products)
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Cart fetches the authoritative cart of the logged-in user.
func (c *Client) Cart(ctx context.Context) ([]CartItem, error) {
	var items []CartItem
	err := c.do(ctx, call{op: "cart.get", method: http.MethodGet, path: "/cart", auth: true}, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// AddToCart adds quantity units of a product to the cart.
func (c *Client) AddToCart(ctx context.Context, productID ID, quantity int) (Confirmation, error) {
	const op = "cart.add"
	req := cartRequest{ProductID: productID, Quantity: quantity}
	if err := c.validate(op, req); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, &Error{Op: op, Message: "quantity must be at least 1.", Err: ErrInvalidRequest}
	}

	var confirmation Confirmation
	err := c.do(ctx, call{op: op, method: http.MethodPost, path: "/cart", auth: true, body: req}, &confirmation)
	if err != nil {
		return nil, err
	}
	return confirmation, nil
}

// DecrementCartItem removes one unit of a product from the cart.
func (c *Client) DecrementCartItem(ctx context.Context, productID ID) error {
	return c.removeFromCart(ctx, "cart.decrement", productID, 1)
}

// RemoveCartItem drops a product from the cart regardless of quantity.
func (c *Client) RemoveCartItem(ctx context.Context, productID ID) error {
	return c.removeFromCart(ctx, "cart.remove", productID, RemoveAllQuantity)
}

func (c *Client) removeFromCart(ctx context.Context, op string, productID ID, quantity int) error {
	req := cartRequest{ProductID: productID, Quantity: quantity}
	if err := c.validate(op, req); err != nil {
		return err
	}
	return c.do(ctx, call{op: op, method: http.MethodPost, path: "/cart/remove", auth: true, body: req}, nil)
}

// Register creates an account and persists the returned session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	return c.authenticate(ctx, "auth.register", "/auth/register", req)
}

// Login authenticates and persists the returned session.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.authenticate(ctx, "auth.login", "/auth/login", LoginRequest{Email: email, Password: password})
}

func (c *Client) authenticate(ctx context.Context, op, path string, req interface{}) (*AuthResponse, error) {
	if err := c.validate(op, req); err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := c.do(ctx, call{op: op, method: http.MethodPost, path: path, body: req}, &resp); err != nil {
		return nil, err
	}
	if !resp.complete() {
		return nil, &Error{
			Op:         op,
			StatusCode: http.StatusOK,
			Message:    msgUnexpectedReply,
			Err:        fmt.Errorf("%w: incomplete session in response", ErrRequestFailed),
		}
	}

	c.sessions.Save(ctx, resp.Token, resp.UserID.String(), resp.Username)
	c.logger.Info("Session established", telemetry.EnrichLogFields(ctx, map[string]interface{}{
		"operation": op,
		"user_id":   resp.UserID.String(),
	}))
	return &resp, nil
}

// PlaceOrder submits an order for the given lines.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	const op = "orders.place"
	if len(req.Items) == 0 {
		return nil, &Error{Op: op, Message: "Your cart is empty. Add items before checking out.", Err: ErrEmptyCart}
	}
	if err := c.validate(op, req); err != nil {
		return nil, err
	}

	var order Order
	if err := c.do(ctx, call{op: op, method: http.MethodPost, path: "/orders", auth: true, body: req}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Orders lists the logged-in user's order history.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := c.do(ctx, call{op: "orders.list", method: http.MethodGet, path: "/orders", auth: true}, &orders)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

type call struct {
	op     string
	method string
	path   string
	auth   bool
	body   interface{}
}

// do performs one logical call: session precondition, encoding, retries for
// reads, error normalization and decoding into out.
func (c *Client) do(ctx context.Context, cl call, out interface{}) error {
	ctx = telemetry.WithCorrelationID(ctx)

	var token string
	if cl.auth {
		sess := c.sessions.Load(ctx)
		if !sess.Valid() {
			return &Error{Op: cl.op, Message: msgNotLoggedIn, Err: ErrNotAuthenticated}
		}
		if sess.Expired(c.now()) {
			c.logger.Info("Token expired locally", telemetry.EnrichLogFields(ctx, map[string]interface{}{
				"operation": cl.op,
				"user_id":   sess.UserID,
			}))
			return &Error{Op: cl.op, Message: msgSessionExpired, Err: ErrSessionExpired}
		}
		token = sess.Token
		ctx = telemetry.WithUserID(ctx, sess.UserID)
	}

	var payload []byte
	if cl.body != nil {
		var err error
		if payload, err = json.Marshal(cl.body); err != nil {
			return &Error{Op: cl.op, Message: "Invalid request.", Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
		}
	}

	ctx, span := c.telemetry.StartSpan(ctx, "storefront.api."+cl.op,
		attribute.String("http.method", cl.method),
		attribute.String("http.route", cl.path),
		attribute.Bool("auth", cl.auth),
	)

	policy := resilience.NoRetry()
	if cl.method == http.MethodGet {
		p := *c.retry
		p.ShouldRetry = IsRetryable
		p.OnRetry = func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("Retrying backend call", telemetry.EnrichLogFields(ctx, map[string]interface{}{
				"operation": cl.op,
				"attempt":   attempt,
				"delay":     delay.String(),
				"error":     err.Error(),
			}))
		}
		policy = &p
	}

	start := time.Now()
	attempts := 0
	status := 0
	err := resilience.Retry(ctx, policy, func() error {
		attempts++
		var attemptErr error
		status, attemptErr = c.roundTrip(ctx, cl, token, payload, out)
		return attemptErr
	})
	duration := time.Since(start)

	if err != nil {
		err = c.normalize(cl.op, err)
	}

	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int("retry.attempts", attempts),
	)
	telemetry.EndSpan(span, err)
	c.telemetry.RecordCall(ctx, cl.op, status, duration, err)

	fields := telemetry.EnrichLogFields(ctx, map[string]interface{}{
		"operation":   cl.op,
		"method":      cl.method,
		"path":        cl.path,
		"status":      status,
		"attempts":    attempts,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		fields["error"] = err.Error()
		c.logger.Warn("Backend call failed", fields)
		return err
	}
	c.logger.Debug("Backend call succeeded", fields)
	return nil
}

// roundTrip sends a single HTTP request and returns the status it got.
func (c *Client) roundTrip(ctx context.Context, cl call, token string, payload []byte, out interface{}) (int, error) {
	ctx = telemetry.WithRequestID(ctx)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	base := c.endpoint(ctx)
	req, err := http.NewRequestWithContext(ctx, cl.method, base+cl.path, body)
	if err != nil {
		return 0, &Error{Op: cl.op, Message: "Invalid request.", Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	telemetry.InjectCorrelationHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.dropEndpoint(ctx, base)
		return 0, &Error{Op: cl.op, Message: msgUnreachable, Err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, &Error{
			Op:         cl.op,
			StatusCode: resp.StatusCode,
			Message:    msgUnreachable,
			Err:        fmt.Errorf("%w: reading response: %w", ErrConnectionFailed, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, statusError(cl, resp, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, &Error{
			Op:         cl.op,
			StatusCode: resp.StatusCode,
			Message:    msgUnexpectedReply,
			Err:        fmt.Errorf("%w: decoding response: %v", ErrRequestFailed, err),
		}
	}
	return resp.StatusCode, nil
}

// statusError builds the uniform error for a non-2xx answer. On calls made
// with a session, 401 or a "session expired" message marks the session as
// expired.
func statusError(cl call, resp *http.Response, raw []byte) *Error {
	status := strings.TrimSpace(resp.Status)
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	msg := extractMessage(status, raw)

	sentinel := ErrRequestFailed
	if cl.auth && (resp.StatusCode == http.StatusUnauthorized || mentionsSessionExpiry(msg)) {
		sentinel = ErrSessionExpired
	}
	return &Error{
		Op:         cl.op,
		StatusCode: resp.StatusCode,
		Message:    msg,
		Err:        sentinel,
	}
}

// normalize makes sure whatever came out of the retry loop is an *Error.
func (c *Client) normalize(op string, err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		// exhausted retries: keep the last answer's shape, remember the attempts
		return &Error{
			Op:         apiErr.Op,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        fmt.Errorf("%w: %w", apiErr.Err, resilience.ErrMaxRetriesExceeded),
		}
	}
	// context ended between attempts
	return &Error{Op: op, Message: msgUnreachable, Err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
}
