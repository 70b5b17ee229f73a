// Package pricing decides what a customer pays per unit. Prices come from the
// product snapshot taken when the stock was reserved, never from the client.
package pricing

import (
	"github.com/ariefcatur/go-art-storefront/internal/catalog"
	"github.com/ariefcatur/go-art-storefront/internal/inventory"
)

// UnitPrice is the discount price when one is set, otherwise the list price.
func UnitPrice(p catalog.Product) int64 {
	if p.DiscountPrice != nil && *p.DiscountPrice > 0 {
		return *p.DiscountPrice
	}
	return p.Price
}

// Line is a reserved line with its price locked.
type Line struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

func (l Line) Amount() int64 { return l.UnitPrice * int64(l.Quantity) }

// Lock prices every reservation, keeping the cart order.
func Lock(rs []inventory.Reservation) []Line {
	out := make([]Line, 0, len(rs))
	for _, r := range rs {
		out = append(out, Line{
			ProductID: r.Product.ID,
			Name:      r.Product.Name,
			Quantity:  r.Quantity,
			UnitPrice: UnitPrice(r.Product),
		})
	}
	return out
}

func Subtotal(lines []Line) int64 {
	var sum int64
	for _, l := range lines {
		sum += l.Amount()
	}
	return sum
}
