package storefront_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/storefront"
	"github.com/itsneelabh/storefront/internal/backendtest"
	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/controller"
)

func startBackend(t *testing.T) (*backendtest.Server, string) {
	t.Helper()
	srv := backendtest.New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL + backendtest.Prefix
}

func newApp(t *testing.T, opts ...storefront.Option) *storefront.App {
	t.Helper()
	base := []storefront.Option{
		storefront.WithMemoryStorage(),
		storefront.WithLogLevel("error"),
		storefront.WithRetry(1, time.Millisecond),
		storefront.WithNoticeDuration(50 * time.Millisecond),
	}
	app, err := storefront.New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func product(t *testing.T, st storefront.State, name string) api.Product {
	t.Helper()
	for _, p := range st.Products {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("product %q not in catalog", name)
	return api.Product{}
}

func TestShoppingJourney(t *testing.T) {
	srv, baseURL := startBackend(t)
	app := newApp(t, storefront.WithAPIBaseURL(baseURL))
	ctrl := app.Controller
	ctx := context.Background()

	require.NoError(t, ctrl.LoadCatalog(ctx))
	require.NoError(t, ctrl.Register(ctx, "Ada", "ada@example.com", "secret"))

	st := ctrl.State()
	require.True(t, st.LoggedIn())
	assert.Equal(t, "Hello, ada!", st.Greeting())
	assert.Equal(t, storefront.PageCatalog, st.Page)

	mug := product(t, st, "Coffee Mug")
	stickers := product(t, st, "Sticker Pack")
	require.NoError(t, ctrl.AddToCart(ctx, mug))
	require.NoError(t, ctrl.AddToCart(ctx, mug))
	require.NoError(t, ctrl.AddToCart(ctx, stickers))

	st = ctrl.State()
	assert.True(t, st.CartOpen)
	assert.Equal(t, 3, st.Cart.ItemCount())
	assert.Equal(t, "22.50", st.Cart.Total().StringFixed(2))
	assert.Equal(t, 2, srv.CartQuantity("ada@example.com", 1))

	require.NoError(t, ctrl.DecrementLine(ctx, mug.ID))
	require.NoError(t, ctrl.RemoveLine(ctx, stickers.ID))
	st = ctrl.State()
	assert.Equal(t, 1, st.Cart.ItemCount())
	assert.Equal(t, "10.00", st.Cart.Total().StringFixed(2))
	assert.Zero(t, srv.CartQuantity("ada@example.com", 2))

	require.NoError(t, ctrl.Checkout(ctx))
	st = ctrl.State()
	assert.True(t, st.Cart.Empty())
	assert.False(t, st.CartOpen)
	assert.Equal(t, controller.MsgOrderPlaced, st.Notice)
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, srv.OrderCount("ada@example.com"))
	assert.Eventually(t, func() bool { return ctrl.State().Notice == "" }, time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.LoadOrders(ctx))
	st = ctrl.State()
	assert.Equal(t, storefront.PageOrders, st.Page)
	require.Len(t, st.Orders, 1)
	assert.Equal(t, "10.00", st.Orders[0].TotalAmount.StringFixed(2))
	assert.Equal(t, "123 Main St", st.Orders[0].Address)

	ctrl.Logout(ctx)
	st = ctrl.State()
	assert.False(t, st.LoggedIn())
	assert.True(t, st.Cart.Empty())
	assert.False(t, app.Sessions.Load(ctx).Valid())
}

func TestInvalidCredentialsKeepLoggedOut(t *testing.T) {
	srv, baseURL := startBackend(t)
	_, err := srv.AddUser("Ada", "ada@example.com", "secret")
	require.NoError(t, err)
	app := newApp(t, storefront.WithAPIBaseURL(baseURL))

	err = app.Controller.Login(context.Background(), "ada@example.com", "nope")
	require.Error(t, err)
	st := app.Controller.State()
	assert.Equal(t, backendtest.MsgInvalidCredentials, st.Error)
	assert.False(t, st.LoggedIn())
}

func TestServerSideExpiryForcesLogout(t *testing.T) {
	srv, baseURL := startBackend(t)
	app := newApp(t, storefront.WithAPIBaseURL(baseURL))
	ctx := context.Background()
	ctrl := app.Controller

	require.NoError(t, ctrl.Register(ctx, "Ada", "ada@example.com", "secret"))
	require.NoError(t, ctrl.AddToCart(ctx, api.Product{ID: "1"}))

	srv.ExpireSessions()

	err := ctrl.LoadOrders(ctx)
	require.Error(t, err)
	assert.True(t, api.IsSessionExpired(err))

	st := ctrl.State()
	assert.False(t, st.LoggedIn())
	assert.True(t, st.Cart.Empty())
	assert.Equal(t, controller.MsgSessionExpired, st.Error)
	assert.Equal(t, storefront.PageCatalog, st.Page)
	assert.False(t, app.Sessions.Load(ctx).Valid())
}

func TestSessionSurvivesRestartWithFileStorage(t *testing.T) {
	srv, baseURL := startBackend(t)
	fs := afero.NewMemMapFs()
	opts := []storefront.Option{
		storefront.WithAPIBaseURL(baseURL),
		storefront.WithFilesystem(fs),
		storefront.WithFileStorage("/home/ada/.storefront/session.json"),
	}
	ctx := context.Background()

	first := newApp(t, opts...)
	require.NoError(t, first.Controller.Register(ctx, "Ada", "ada@example.com", "secret"))
	require.NoError(t, first.Controller.AddToCart(ctx, api.Product{ID: "3"}))
	require.NoError(t, first.Close(ctx))

	second := newApp(t, opts...)
	second.Controller.Restore(ctx)
	st := second.Controller.State()
	require.True(t, st.LoggedIn())
	assert.Equal(t, "ada@example.com", st.Session.Username)
	assert.Equal(t, 1, st.Cart.ItemCount())
	assert.Equal(t, "19.99", st.Cart.Total().StringFixed(2))
	assert.Equal(t, 1, srv.CartQuantity("ada@example.com", 3))
}

func TestSessionInRedis(t *testing.T) {
	_, baseURL := startBackend(t)
	mr := miniredis.RunT(t)
	opts := []storefront.Option{
		storefront.WithAPIBaseURL(baseURL),
		storefront.WithRedisStorage("redis://" + mr.Addr()),
	}
	ctx := context.Background()

	first := newApp(t, opts...)
	require.NoError(t, first.Controller.Register(ctx, "Ada", "ada@example.com", "secret"))
	assert.NotEmpty(t, mr.Keys())

	second := newApp(t, opts...)
	second.Controller.Restore(ctx)
	assert.True(t, second.Controller.State().LoggedIn())

	second.Controller.Logout(ctx)
	assert.False(t, first.Sessions.Load(ctx).Valid(), "logout clears the shared store")
}

func TestUnreachableStorageFallsBackToMemory(t *testing.T) {
	_, baseURL := startBackend(t)
	app := newApp(t,
		storefront.WithAPIBaseURL(baseURL),
		storefront.WithRedisStorage("redis://127.0.0.1:1/0"),
	)
	ctx := context.Background()

	app.Controller.Restore(ctx)
	assert.False(t, app.Controller.State().LoggedIn())

	require.NoError(t, app.Controller.Register(ctx, "Ada", "ada@example.com", "secret"))
	assert.True(t, app.Controller.State().LoggedIn())
	assert.True(t, app.Sessions.Load(ctx).Valid(), "session kept in memory")
}

func TestRequestsCarryUserAgentAndCorrelation(t *testing.T) {
	srv, baseURL := startBackend(t)
	app := newApp(t, storefront.WithAPIBaseURL(baseURL))

	require.NoError(t, app.Controller.LoadCatalog(context.Background()))
	h := srv.LastHeader(http.MethodGet, "/products")
	assert.Equal(t, "storefront-client", h.Get("User-Agent"))
	assert.NotEmpty(t, h.Get("X-Correlation-ID"))
	assert.Empty(t, h.Get("Authorization"))
}

func TestConsulDiscovery(t *testing.T) {
	_, baseURL := startBackend(t)
	backend, err := url.Parse(baseURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(backend.Host)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	consul := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health/service/storefront-api" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Consul-Index", "1")
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{{
			"Node":    map[string]interface{}{"Node": "node-1", "Address": host},
			"Service": map[string]interface{}{"ID": "api-1", "Service": "storefront-api", "Port": portNum},
			"Checks":  []interface{}{},
		}})
	}))
	t.Cleanup(consul.Close)

	app := newApp(t, storefront.WithConsulDiscovery(consul.URL, "storefront-api"))
	assert.Equal(t, baseURL, app.Client.BaseURL())
	require.NoError(t, app.Controller.LoadCatalog(context.Background()))
	assert.Len(t, app.Controller.State().Products, 3)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	_, err := storefront.New(context.Background(), storefront.WithAPIBaseURL("ftp://example.com"))
	require.Error(t, err)
	assert.True(t, storefront.IsConfigurationError(err))

	_, err = storefront.New(context.Background(), storefront.WithRedisStorage(""))
	require.Error(t, err)
	assert.True(t, storefront.IsConfigurationError(err))
}

func TestNewWithConfigRequiresConfig(t *testing.T) {
	_, err := storefront.NewWithConfig(context.Background(), nil, nil)
	assert.Error(t, err)
}
