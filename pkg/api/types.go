package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ID is an identifier the backend may send either as a JSON string or as a
// JSON number. It is always handled as a string on the client.
type ID string

// UnmarshalJSON accepts "42", 42 and null
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Product is a read-only catalog entry
type Product struct {
	ID          ID              `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl"`
}

// CartItem is one line of the server's cart as returned by GET /cart
type CartItem struct {
	ProductID   ID              `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl"`
	Quantity    int             `json:"quantity"`
}

// RemoveAllQuantity is the wire sentinel POST /cart/remove understands as
// "drop the whole line".
const RemoveAllQuantity = -1

type cartRequest struct {
	ProductID ID  `json:"productId" validate:"required"`
	Quantity  int `json:"quantity" validate:"ne=0"`
}

// Confirmation is an endpoint response the client does not interpret
type Confirmation json.RawMessage

// MarshalJSON keeps the raw bytes
func (c Confirmation) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

// UnmarshalJSON stores a copy of data
func (c *Confirmation) UnmarshalJSON(data []byte) error {
	*c = append((*c)[0:0], data...)
	return nil
}

// LoginRequest is the body of POST /auth/login. The identifier is passed
// through as typed; the backend decides whether it is valid.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by both login and register
type AuthResponse struct {
	Token    string `json:"jwtToken"`
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

func (a AuthResponse) complete() bool {
	return a.Token != "" && a.UserID != "" && a.Username != ""
}

// ShippingDetails travel flattened next to the order items
type ShippingDetails struct {
	Address    string `json:"shippingAddress" validate:"required"`
	City       string `json:"shippingCity" validate:"required"`
	PostalCode string `json:"shippingPostalCode" validate:"required"`
	Country    string `json:"shippingCountry" validate:"required"`
}

// DefaultShipping is used when no shipping details are configured.
var DefaultShipping = ShippingDetails{
	Address:    "123 Main St",
	City:       "Anytown",
	PostalCode: "12345",
	Country:    "USA",
}

// OrderLine is one requested product in POST /orders
type OrderLine struct {
	ProductID ID  `json:"productId" validate:"required"`
	Quantity  int `json:"quantity" validate:"min=1"`
}

// PlaceOrderRequest is the body of POST /orders
type PlaceOrderRequest struct {
	Items []OrderLine `json:"items" validate:"required,min=1,dive"`
	ShippingDetails
}

// OrderStatus is the fulfilment state reported by the backend. Values other
// than the known ones are passed through unchanged.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Label is a display form of the status
func (s OrderStatus) Label() string {
	if s == "" {
		return "Unknown"
	}
	lower := strings.ToLower(string(s))
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// OrderItem is a product snapshot inside a historical order
type OrderItem struct {
	ProductName     string          `json:"productName"`
	ProductImageURL string          `json:"productImageUrl"`
	PriceAtOrder    decimal.Decimal `json:"priceAtOrder"`
	Quantity        int             `json:"quantity"`
}

// Order is an immutable order history record
type Order struct {
	ID          ID              `json:"id"`
	OrderDate   string          `json:"orderDate"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      OrderStatus     `json:"status"`
	ShippingDetails
	Items []OrderItem `json:"items"`
}

var orderDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PlacedAt parses OrderDate. ok is false when the backend used a format
// the client does not know.
func (o Order) PlacedAt() (t time.Time, ok bool) {
	for _, layout := range orderDateLayouts {
		if parsed, err := time.Parse(layout, o.OrderDate); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
