// Package cart keeps the client's view of the shopping cart in step with the
// backend.
//
// The synchronizer never patches lines locally: every successful mutation is
// followed by a full re-fetch and the fetched lines replace the snapshot
// wholesale, so totals always match what the server would charge.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/itsneelabh/storefront/pkg/api"
)

// Line is one product's quantity and price snapshot in the cart
type Line struct {
	ProductID api.ID
	Name      string
	Price     decimal.Decimal
	ImageURL  string
	Quantity  int
}

// Subtotal is Price × Quantity
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is an immutable copy of the last server-confirmed cart.
type Snapshot struct {
	Lines []Line
	// Version increases every time the published cart changes
	Version uint64
}

// Total sums Price × Quantity over all lines
func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount sums quantities, for the cart badge
func (s Snapshot) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// Empty reports whether the cart has no lines
func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Line looks up a product's line
func (s Snapshot) Line(productID api.ID) (Line, bool) {
	for _, l := range s.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return Line{}, false
}

// OrderLines converts the snapshot into the items of an order request
func (s Snapshot) OrderLines() []api.OrderLine {
	lines := make([]api.OrderLine, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, api.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return lines
}

func (s Snapshot) clone() Snapshot {
	lines := make([]Line, len(s.Lines))
	copy(lines, s.Lines)
	return Snapshot{Lines: lines, Version: s.Version}
}

// fromServer converts GET /cart items. Lines with a non-positive quantity
// are dropped since the backend never charges for them.
func fromServer(items []api.CartItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			continue
		}
		lines = append(lines, Line{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			Price:     it.Price,
			ImageURL:  it.ImageURL,
			Quantity:  it.Quantity,
		})
	}
	return lines
}
