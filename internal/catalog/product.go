// Package catalog owns product records. Stock and sold counts change only
// through Reserve and Release, each a single atomic conditional write.
package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("product not found")
	// ErrNotReserved means the conditional update matched nothing: the
	// product is missing, inactive or short on stock. Callers read the
	// product back to find out which.
	ErrNotReserved = errors.New("reservation condition not met")
)

type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	DiscountPrice *int64    `json:"discountPrice,omitempty"`
	Stock         int       `json:"stock"`
	IsActive      bool      `json:"isActive"`
	SoldCount     int       `json:"soldCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Hold is one reservation request: take Quantity units of ProductID for
// OrderID. ID identifies the reservation so it can be released exactly once.
type Hold struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
}

const (
	holdReserved = "RESERVED"
	holdReleased = "RELEASED"
)

func (p Product) clone() Product {
	if p.DiscountPrice != nil {
		d := *p.DiscountPrice
		p.DiscountPrice = &d
	}
	return p
}
