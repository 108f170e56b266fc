// Package view renders controller state as plain text for the terminal shell.
package view

import (
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/controller"
)

// Renderer holds the parsed templates
type Renderer struct {
	tmpl     *template.Template
	currency string
}

// NavItem is one entry of the header navigation
type NavItem struct {
	Label  string
	Active bool
}

type pageData struct {
	State controller.State
	Nav   []NavItem
}

// New parses the templates. currency prefixes every amount, e.g. "$".
func New(currency string) (*Renderer, error) {
	r := &Renderer{currency: currency}
	tmpl, err := template.New("storefront").Funcs(template.FuncMap{
		"money":  r.Money,
		"inc":    func(i int) int { return i + 1 },
		"placed": placed,
	}).Parse(baseTemplates)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

// Money formats an amount with two decimals
func (r *Renderer) Money(d decimal.Decimal) string {
	return r.currency + d.StringFixed(2)
}

// Render writes the header, the alerts, the current page and, when open,
// the cart panel.
func (r *Renderer) Render(w io.Writer, st controller.State) error {
	data := pageData{State: st, Nav: navigation(st)}

	sections := []string{"header", "alerts", string(st.Page)}
	if st.CartOpen {
		sections = append(sections, "cart")
	}
	for _, name := range sections {
		if err := r.tmpl.ExecuteTemplate(w, name, data); err != nil {
			return fmt.Errorf("failed to render %s: %w", name, err)
		}
	}
	return nil
}

// RenderString is Render into a string
func (r *Renderer) RenderString(st controller.State) (string, error) {
	var b strings.Builder
	if err := r.Render(&b, st); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Section renders a single named section: header, alerts, catalog, login,
// register, orders or cart
func (r *Renderer) Section(w io.Writer, name string, st controller.State) error {
	if r.tmpl.Lookup(name) == nil {
		return fmt.Errorf("unknown section %q", name)
	}
	return r.tmpl.ExecuteTemplate(w, name, pageData{State: st, Nav: navigation(st)})
}

func navigation(st controller.State) []NavItem {
	items := []NavItem{{Label: "Catalog", Active: st.Page == controller.PageCatalog}}
	if st.LoggedIn() {
		items = append(items, NavItem{Label: "Orders", Active: st.Page == controller.PageOrders})
		return append(items, NavItem{Label: "Logout"})
	}
	return append(items,
		NavItem{Label: "Login", Active: st.Page == controller.PageLogin},
		NavItem{Label: "Register", Active: st.Page == controller.PageRegister},
	)
}

func placed(o api.Order) string {
	if t, ok := o.PlacedAt(); ok {
		return t.Format("Jan 2, 2006 15:04")
	}
	if o.OrderDate == "" {
		return "-"
	}
	return o.OrderDate
}
