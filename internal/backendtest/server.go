// Package backendtest is an in-process storefront backend. It serves every
// endpoint the client uses, with bcrypt-hashed users and HS256 tokens, and
// lets tests expire sessions or inject arbitrary error replies.
//
// It backs the end-to-end tests and the binary's -demo mode.
package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/telemetry"
)

// Prefix is the path prefix of every route
const Prefix = "/api"

// Replies used by the handlers.
const (
	MsgInvalidCredentials = "Invalid credentials"
	MsgSessionExpired     = "Session expired. Please log in again."
	MsgEmailTaken         = "Email already registered"
	MsgProductNotFound    = "Product not found"
	MsgItemNotInCart      = "Item not in cart"
)

// Product is a catalog entry
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    string
}

// DefaultCatalog is served when no products are configured
var DefaultCatalog = []Product{
	{ID: 1, Name: "Coffee Mug", Description: "Ceramic, 350ml", Price: decimal.RequireFromString("10.00"), ImageURL: "/img/mug.png"},
	{ID: 2, Name: "Sticker Pack", Description: "Ten vinyl stickers", Price: decimal.RequireFromString("2.50"), ImageURL: "/img/stickers.png"},
	{ID: 3, Name: "T-Shirt", Description: "Organic cotton", Price: decimal.RequireFromString("19.99"), ImageURL: "/img/shirt.png"},
}

// Reply is a canned response injected with FailNext
type Reply struct {
	Status      int
	ContentType string
	Body        string
}

type user struct {
	id       int64
	name     string
	email    string
	password []byte
}

type order struct {
	id    int64
	date  time.Time
	total decimal.Decimal
	lines []orderLine
	ship  api.ShippingDetails
}

type orderLine struct {
	product  Product
	quantity int
}

type claims struct {
	Generation int `json:"gen"`
	jwt.RegisteredClaims
}

// Server is the fake backend. It is safe for concurrent use.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
	engine   *gin.Engine

	mu         sync.Mutex
	products   []Product
	users      map[string]*user // by email
	carts      map[int64]map[int64]int
	orders     map[int64][]order
	nextUser   int64
	nextOrder  int64
	generation int
	failures   map[string][]Reply
	calls      map[string]int
	headers    map[string]http.Header
}

// Option configures a Server
type Option func(*Server)

// WithProducts replaces the catalog
func WithProducts(products ...Product) Option {
	return func(s *Server) {
		s.products = append([]Product(nil), products...)
	}
}

// WithTokenTTL sets how long issued tokens are valid
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = d
	}
}

// WithClock overrides time.Now for token issuing and checking
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a server with the default catalog and no users
func New(opts ...Option) *Server {
	s := &Server{
		secret:    []byte(uuid.NewString()),
		tokenTTL:  time.Hour,
		now:       time.Now,
		products:  append([]Product(nil), DefaultCatalog...),
		users:     make(map[string]*user),
		carts:     make(map[int64]map[int64]int),
		orders:    make(map[int64][]order),
		nextUser:  100,
		nextOrder: 1000,
		failures:  make(map[string][]Reply),
		calls:     make(map[string]int),
		headers:   make(map[string]http.Header),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler, wrapped with correlation ID handling
func (s *Server) Handler() http.Handler {
	return telemetry.CorrelationMiddleware(s.engine)
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.record, s.inject)

	v1 := r.Group(Prefix)
	v1.GET("/products", s.listProducts)
	v1.POST("/auth/register", s.register)
	v1.POST("/auth/login", s.login)

	authed := v1.Group("")
	authed.Use(s.authenticate)
	authed.GET("/cart", s.getCart)
	authed.POST("/cart", s.addToCart)
	authed.POST("/cart/remove", s.removeFromCart)
	authed.POST("/orders", s.placeOrder)
	authed.GET("/orders", s.listOrders)
	return r
}

// AddUser registers an account directly and returns its id
func (s *Server) AddUser(name, email, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.users[key]; ok {
		return 0, errors.New(MsgEmailTaken)
	}
	s.nextUser++
	s.users[key] = &user{id: s.nextUser, name: name, email: email, password: hash}
	return s.nextUser, nil
}

// ExpireSessions invalidates every token issued so far
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// FailNext makes the next request to method and path (relative to Prefix)
// answer with reply. Multiple replies queue up.
func (s *Server) FailNext(method, path string, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(method, path)
	s.failures[key] = append(s.failures[key], reply)
}

// Calls reports how many requests reached method and path
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[routeKey(method, path)]
}

// LastHeader returns the headers of the last request to method and path
func (s *Server) LastHeader(method, path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[routeKey(method, path)].Clone()
}

// CartQuantity reports how many units of productID the user holds
func (s *Server) CartQuantity(email string, productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return 0
	}
	return s.carts[u.id][productID]
}

// OrderCount reports how many orders the user placed
func (s *Server) OrderCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return 0
	}
	return len(s.orders[u.id])
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + strings.TrimPrefix(path, Prefix)
}

func (s *Server) record(c *gin.Context) {
	key := routeKey(c.Request.Method, c.Request.URL.Path)
	s.mu.Lock()
	s.calls[key]++
	s.headers[key] = c.Request.Header.Clone()
	s.mu.Unlock()
	c.Next()
}

func (s *Server) inject(c *gin.Context) {
	key := routeKey(c.Request.Method, c.Request.URL.Path)
	s.mu.Lock()
	queue := s.failures[key]
	var reply *Reply
	if len(queue) > 0 {
		reply = &queue[0]
		s.failures[key] = queue[1:]
	}
	s.mu.Unlock()

	if reply == nil {
		c.Next()
		return
	}
	contentType := reply.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	c.Data(reply.Status, contentType, []byte(reply.Body))
	c.Abort()
}

const userKey = "user"

func (s *Server) authenticate(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var cl claims
	token, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": MsgSessionExpired})
		return
	}

	s.mu.Lock()
	current := s.generation
	var found *user
	for _, u := range s.users {
		if strconv.FormatInt(u.id, 10) == cl.Subject {
			found = u
			break
		}
	}
	s.mu.Unlock()

	if cl.Generation != current || found == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": MsgSessionExpired})
		return
	}
	c.Set(userKey, found)
	c.Next()
}

func (s *Server) issue(u *user) (string, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.id, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.secret)
}

func (s *Server) authReply(c *gin.Context, u *user) {
	token, err := s.issue(u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jwtToken": token, "userId": u.id, "username": u.email})
}

func (s *Server) register(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Name, email and password are required"})
		return
	}
	if _, err := s.AddUser(req.Name, req.Email, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"message": MsgEmailTaken})
		return
	}
	s.mu.Lock()
	u := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	s.authReply(c, u)
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.password, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": MsgInvalidCredentials})
		return
	}
	s.authReply(c, u)
}

func (s *Server) listProducts(c *gin.Context) {
	s.mu.Lock()
	out := make([]gin.H, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, productJSON(p))
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) getCart(c *gin.Context) {
	u := c.MustGet(userKey).(*user)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.cartLocked(u.id))
}

func (s *Server) cartLocked(userID int64) []gin.H {
	ids := make([]int64, 0, len(s.carts[userID]))
	for id := range s.carts[userID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	items := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		p, ok := s.productLocked(id)
		if !ok {
			continue
		}
		items = append(items, gin.H{
			"productId":   p.ID,
			"productName": p.Name,
			"price":       number(p.Price),
			"imageUrl":    p.ImageURL,
			"quantity":    s.carts[userID][id],
		})
	}
	return items
}

type cartRequest struct {
	ProductID api.ID `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) addToCart(c *gin.Context) {
	u := c.MustGet(userKey).(*user)
	var req cartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Product ID and quantity must be valid"})
		return
	}
	id, err := strconv.ParseInt(req.ProductID.String(), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.productLocked(id); err != nil || !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": MsgProductNotFound})
		return
	}
	if s.carts[u.id] == nil {
		s.carts[u.id] = make(map[int64]int)
	}
	s.carts[u.id][id] += req.Quantity
	c.JSON(http.StatusOK, gin.H{"message": "Product added to cart successfully"})
}

func (s *Server) removeFromCart(c *gin.Context) {
	u := c.MustGet(userKey).(*user)
	var req cartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == 0 || req.Quantity < -1 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Product ID and quantity must be valid"})
		return
	}
	id, _ := strconv.ParseInt(req.ProductID.String(), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.carts[u.id][id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": MsgItemNotInCart})
		return
	}
	if req.Quantity == api.RemoveAllQuantity || held <= req.Quantity {
		delete(s.carts[u.id], id)
	} else {
		s.carts[u.id][id] = held - req.Quantity
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) placeOrder(c *gin.Context) {
	u := c.MustGet(userKey).(*user)
	var req api.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Order must contain at least one item"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o := order{date: s.now().UTC(), ship: req.ShippingDetails, total: decimal.Zero}
	for _, item := range req.Items {
		id, err := strconv.ParseInt(item.ProductID.String(), 10, 64)
		p, ok := s.productLocked(id)
		if err != nil || !ok || item.Quantity < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"message": MsgProductNotFound})
			return
		}
		o.lines = append(o.lines, orderLine{product: p, quantity: item.Quantity})
		o.total = o.total.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	s.nextOrder++
	o.id = s.nextOrder
	s.orders[u.id] = append(s.orders[u.id], o)
	delete(s.carts, u.id)

	c.JSON(http.StatusCreated, orderJSON(o))
}

func (s *Server) listOrders(c *gin.Context) {
	u := c.MustGet(userKey).(*user)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gin.H, 0, len(s.orders[u.id]))
	for i := len(s.orders[u.id]) - 1; i >= 0; i-- {
		out = append(out, orderJSON(s.orders[u.id][i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) productLocked(id int64) (Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func productJSON(p Product) gin.H {
	return gin.H{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"price":       number(p.Price),
		"imageUrl":    p.ImageURL,
	}
}

func orderJSON(o order) gin.H {
	items := make([]gin.H, 0, len(o.lines))
	for _, l := range o.lines {
		items = append(items, gin.H{
			"productName":     l.product.Name,
			"productImageUrl": l.product.ImageURL,
			"priceAtOrder":    number(l.product.Price),
			"quantity":        l.quantity,
		})
	}
	return gin.H{
		"id":                 o.id,
		"orderDate":          o.date.Format("2006-01-02T15:04:05"),
		"totalAmount":        number(o.total),
		"status":             string(api.OrderPending),
		"shippingAddress":    o.ship.Address,
		"shippingCity":       o.ship.City,
		"shippingPostalCode": o.ship.PostalCode,
		"shippingCountry":    o.ship.Country,
		"items":              items,
	}
}

// number emits a decimal as a bare JSON number
func number(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}
