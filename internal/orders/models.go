package orders

import (
	"time"

	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

// Item is one line of a placed order. Price is the unit price locked when the
// stock was reserved; later catalog changes never touch it.
type Item struct {
	Product  string `json:"product"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Order struct {
	ID              string          `json:"id"`
	User            string          `json:"user"`
	Items           []Item          `json:"items"`
	Subtotal        int64           `json:"subtotal"`
	ShippingCost    int64           `json:"shippingCost"`
	TotalAmount     int64           `json:"totalAmount"`
	ShippingMethod  shipping.Method `json:"shippingMethod"`
	ShippingAddress Address         `json:"shippingAddress"`
	PaymentID       string          `json:"paymentId,omitempty"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	OrderStatus     Status          `json:"orderStatus"`
	Notes           string          `json:"notes,omitempty"`
	TrackingNumber  string          `json:"trackingNumber,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (o Order) clone() Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}
