package controller

import (
	"fmt"
	"strings"

	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/cart"
	"github.com/itsneelabh/storefront/pkg/session"
)

// Page is the flat page switch of the storefront
type Page string

const (
	PageCatalog  Page = "catalog"
	PageLogin    Page = "login"
	PageRegister Page = "register"
	PageOrders   Page = "orders"
)

// Pages lists every valid page
var Pages = []Page{PageCatalog, PageLogin, PageRegister, PageOrders}

// ParsePage validates a page name
func ParsePage(name string) (Page, error) {
	p := Page(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Pages {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPage, name)
}

// State is what the views render. It is a value: a State handed out by the
// controller never changes afterwards.
type State struct {
	Page     Page
	Session  session.Session
	Cart     cart.Snapshot
	CartOpen bool
	Products []api.Product
	Orders   []api.Order

	// At most one of Error and Notice is non-empty.
	Error  string
	Notice string
}

// LoggedIn reports whether a session is present
func (s State) LoggedIn() bool {
	return s.Session.Valid()
}

// Greeting is the header salutation, using the local part of the username
func (s State) Greeting() string {
	if !s.LoggedIn() {
		return ""
	}
	name := s.Session.Username
	if at := strings.Index(name, "@"); at > 0 {
		name = name[:at]
	}
	return "Hello, " + name + "!"
}
