package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/storefront/pkg/resilience"
	"github.com/itsneelabh/storefront/pkg/session"
	"github.com/itsneelabh/storefront/pkg/storage"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *session.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := session.NewStore(storage.NewMemoryStorage(), nil)
	client, err := NewClient(server.URL+"/api", store,
		WithHTTPClient(server.Client()),
		WithRetry(fastRetry()),
	)
	require.NoError(t, err)
	return client, store
}

func loggedIn(t *testing.T, store *session.Store) {
	t.Helper()
	store.Save(context.Background(), "tok-123", "u-1", "ada@example.com")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestProductsDecodesCatalog(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id": 7, "name": "Mug", "description": "Stoneware", "price": 12.50, "imageUrl": "/mug.png"},
			{"id": "p2", "name": "Tee", "price": "19.99"}
		]`)
	}))

	products, err := client.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, ID("7"), products[0].ID)
	assert.True(t, decimal.RequireFromString("12.50").Equal(products[0].Price))
	assert.Equal(t, ID("p2"), products[1].ID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(products[1].Price))
}

func TestCartSendsBearerTokenAndRequestID(t *testing.T) {
	var auth, requestID, userID string
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		requestID = r.Header.Get(telemetry.HeaderRequestID)
		userID = r.Header.Get(telemetry.HeaderUserID)
		writeJSON(w, http.StatusOK, []map[string]interface{}{
			{"productId": "p1", "productName": "Mug", "price": 10, "imageUrl": "/mug.png", "quantity": 2},
		})
	}))
	loggedIn(t, store)

	items, err := client.Cart(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Bearer tok-123", auth)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, "u-1", userID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "Mug", items[0].ProductName)
}

func TestErrorNormalization(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantMessage string
	}{
		{"json message", http.StatusBadRequest, "application/json", `{"message":"Product not found"}`, "Product not found"},
		{"json error field", http.StatusConflict, "application/json", `{"error":"Email already registered"}`, "Email already registered"},
		{"message wins over error", http.StatusBadRequest, "application/json", `{"error":"bad","message":"Quantity too large"}`, "Quantity too large"},
		{"plain text", http.StatusBadGateway, "text/plain", "upstream exploded\n", "upstream exploded"},
		{"json without message", http.StatusNotFound, "application/json", `{"code":404}`, "404 Not Found"},
		{"empty body", http.StatusInternalServerError, "", "", "500 Internal Server Error"},
		{"json string", http.StatusBadRequest, "application/json", `"out of stock"`, "out of stock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			client.retry = resilience.NoRetry()

			_, err := client.Products(context.Background())
			require.Error(t, err)

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.ErrorIs(t, err, ErrRequestFailed)
			assert.Equal(t, tt.wantMessage, UserMessage(err, "fallback"))
		})
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
	}))

	resp, err := client.Login(context.Background(), "ada@example.com", "wrong")
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", UserMessage(err, ""))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.False(t, IsSessionExpired(err), "a failed login is not an expired session")
	assert.False(t, store.Load(context.Background()).Valid())
}

func TestLoginPassesIdentifierThrough(t *testing.T) {
	var hits int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		var req LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "admin", req.Email)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
	}))

	_, err := client.Login(context.Background(), "admin", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, "Invalid credentials", UserMessage(err, ""))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestLoginPersistsSession(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ada@example.com", req.Email)
		assert.Equal(t, "s3cret", req.Password)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"jwtToken": "tok", "userId": 42, "username": "ada@example.com"})
	}))

	resp, err := client.Login(context.Background(), "ada@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, ID("42"), resp.UserID)
	assert.Equal(t, session.Session{Token: "tok", UserID: "42", Username: "ada@example.com"}, store.Load(context.Background()))
}

func TestRegisterPersistsSession(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/register", r.URL.Path)
		var req RegisterRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Ada", req.Name)
		writeJSON(w, http.StatusCreated, map[string]string{"jwtToken": "tok", "userId": "u-9", "username": req.Email})
	}))

	_, err := client.Register(context.Background(), RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u-9", store.Load(context.Background()).UserID)
}

func TestIncompleteAuthResponseIsNotPersisted(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"jwtToken": "tok"})
	}))

	_, err := client.Login(context.Background(), "ada@example.com", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.False(t, store.Load(context.Background()).Valid())
}

func TestLocalPreconditionsNeverHitNetwork(t *testing.T) {
	var hits int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	ctx := context.Background()

	_, err := client.Cart(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = client.AddToCart(ctx, "p1", 1)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	assert.ErrorIs(t, client.DecrementCartItem(ctx, "p1"), ErrNotAuthenticated)
	assert.ErrorIs(t, client.RemoveCartItem(ctx, "p1"), ErrNotAuthenticated)

	_, err = client.Orders(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = client.PlaceOrder(ctx, PlaceOrderRequest{ShippingDetails: DefaultShipping})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = client.Login(ctx, "", "pw")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, "email is required.", UserMessage(err, ""))

	_, err = client.Register(ctx, RegisterRequest{Name: "Ada", Email: "not-an-email", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, "email must be a valid email address.", UserMessage(err, ""))

	_, err = client.AddToCart(ctx, "", 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestSessionExpiryDetection(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantExpired bool
	}{
		{"401", http.StatusUnauthorized, `{"message":"Unauthorized"}`, true},
		{"expired message", http.StatusForbidden, `{"message":"Session expired. Please log in again."}`, true},
		{"plain text expired", http.StatusBadRequest, "session expired", true},
		{"server error", http.StatusInternalServerError, `{"message":"database down"}`, false},
		{"forbidden", http.StatusForbidden, `{"message":"Forbidden"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			client.retry = resilience.NoRetry()
			loggedIn(t, store)

			_, err := client.Cart(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantExpired, IsSessionExpired(err))
			assert.True(t, store.Load(context.Background()).Valid(), "client never clears the session itself")
		})
	}
}

func TestLocallyExpiredTokenSkipsNetwork(t *testing.T) {
	var hits int32
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Second)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	store.Save(context.Background(), token, "u-1", "ada@example.com")

	_, err = client.Cart(context.Background())
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, msgSessionExpired, UserMessage(err, ""))
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestCartMutationsWireFormat(t *testing.T) {
	type seen struct {
		path string
		body cartRequest
	}
	var calls []seen
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body cartRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, seen{path: r.URL.Path, body: body})
		if r.URL.Path == "/api/cart" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	loggedIn(t, store)
	ctx := context.Background()

	confirmation, err := client.AddToCart(ctx, "p1", 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"added"}`, string(confirmation))

	require.NoError(t, client.DecrementCartItem(ctx, "p1"))
	require.NoError(t, client.RemoveCartItem(ctx, "p1"))

	require.Len(t, calls, 3)
	assert.Equal(t, seen{"/api/cart", cartRequest{ProductID: "p1", Quantity: 2}}, calls[0])
	assert.Equal(t, seen{"/api/cart/remove", cartRequest{ProductID: "p1", Quantity: 1}}, calls[1])
	assert.Equal(t, seen{"/api/cart/remove", cartRequest{ProductID: "p1", Quantity: RemoveAllQuantity}}, calls[2])
}

func TestPlaceOrderAndHistory(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var raw map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			assert.Equal(t, "123 Main St", raw["shippingAddress"])
			assert.Equal(t, "USA", raw["shippingCountry"])
			assert.Len(t, raw["items"], 1)
			writeJSON(w, http.StatusCreated, map[string]interface{}{"id": 501, "status": "PENDING", "totalAmount": 20})
		default:
			_, _ = io.WriteString(w, `[{
				"id": 501, "orderDate": "2026-10-15T08:30:00", "totalAmount": "20.00", "status": "SHIPPED",
				"shippingAddress": "123 Main St", "shippingCity": "Anytown", "shippingPostalCode": "12345", "shippingCountry": "USA",
				"items": [{"productName": "Mug", "productImageUrl": "/mug.png", "priceAtOrder": 10, "quantity": 2}]
			}]`)
		}
	}))
	loggedIn(t, store)
	ctx := context.Background()

	order, err := client.PlaceOrder(ctx, PlaceOrderRequest{
		Items:           []OrderLine{{ProductID: "p1", Quantity: 2}},
		ShippingDetails: DefaultShipping,
	})
	require.NoError(t, err)
	assert.Equal(t, ID("501"), order.ID)
	assert.Equal(t, OrderPending, order.Status)

	orders, err := client.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "Shipped", orders[0].Status.Label())
	assert.Equal(t, "Anytown", orders[0].City)
	require.Len(t, orders[0].Items, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(orders[0].Items[0].PriceAtOrder))
	placed, ok := orders[0].PlacedAt()
	require.True(t, ok)
	assert.Equal(t, 15, placed.Day())
}

func TestRetriesOnlyIdempotentReads(t *testing.T) {
	var gets, posts int32
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if atomic.AddInt32(&gets, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, []Product{})
			return
		}
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	loggedIn(t, store)

	_, err := client.Products(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&gets))

	_, err = client.AddToCart(context.Background(), "p1", 1)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestRetriesExhaustedKeepsErrorShape(t *testing.T) {
	var gets int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gets, 1)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "catalog unavailable"})
	}))

	_, err := client.Products(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&gets))
	assert.Equal(t, "catalog unavailable", UserMessage(err, ""))
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)
}

func TestNoRetryOnClientErrors(t *testing.T) {
	var gets int32
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gets, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Session expired"})
	}))
	loggedIn(t, store)

	_, err := client.Orders(context.Background())
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&gets))
}

func TestConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	store := session.NewStore(storage.NewMemoryStorage(), nil)
	client, err := NewClient(base, store, WithRetry(resilience.NoRetry()))
	require.NoError(t, err)

	_, err = client.Products(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Zero(t, StatusCode(err))
	assert.Equal(t, msgUnreachable, UserMessage(err, ""))
	assert.True(t, IsRetryable(err))
}

func TestMalformedSuccessBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>maintenance</html>")
	}))

	_, err := client.Products(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, http.StatusOK, StatusCode(err))
	assert.False(t, IsRetryable(err))
}

func TestNewClientValidation(t *testing.T) {
	store := session.NewStore(storage.NewMemoryStorage(), nil)

	_, err := NewClient("localhost:8080", store)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewClient("ftp://example.com", store)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewClient("http://example.com/api", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	c, err := NewClient("", store)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	c, err = NewClient("https://shop.example.com/api/", store)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/api", c.BaseURL())
}

// movingResolver hands out its endpoints in order, moving on when invalidated
type movingResolver struct {
	mu            sync.Mutex
	endpoints     []string
	invalidations int
}

func (r *movingResolver) Resolve(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[0], nil
}

func (r *movingResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidations++
	if len(r.endpoints) > 1 {
		r.endpoints = r.endpoints[1:]
	}
}

func TestResolverInvalidatedWhenBackendUnreachable(t *testing.T) {
	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL + "/api"
	gone.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products", r.URL.Path)
		writeJSON(w, http.StatusOK, []map[string]interface{}{{"id": 1, "name": "Mug", "price": 10}})
	}))
	t.Cleanup(live.Close)

	resolver := &movingResolver{endpoints: []string{goneURL, live.URL + "/api"}}
	store := session.NewStore(storage.NewMemoryStorage(), nil)
	client, err := NewClient(goneURL, store, WithResolver(resolver), WithRetry(fastRetry()))
	require.NoError(t, err)

	products, err := client.Products(context.Background())
	require.NoError(t, err, "the retry goes to the next endpoint")
	require.Len(t, products, 1)
	assert.Equal(t, 1, resolver.invalidations)
	assert.Equal(t, live.URL+"/api", client.BaseURL())
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context) (string, error) {
	return "", errors.New("consul down")
}

func TestResolverFailureKeepsLastEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]interface{}{})
	}))
	t.Cleanup(server.Close)

	store := session.NewStore(storage.NewMemoryStorage(), nil)
	client, err := NewClient(server.URL+"/api", store, WithResolver(failingResolver{}))
	require.NoError(t, err)

	_, err = client.Products(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/api", client.BaseURL())
}
