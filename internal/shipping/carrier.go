package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotServiceable = errors.New("no courier serves this postcode")

// CarrierClient talks to the external courier aggregator. It only knows the
// two calls the storefront needs: a rate quote and booking a shipment.
type CarrierClient struct {
	BaseURL   string
	Token     string
	PickupPin string
	HTTP      *http.Client
}

func NewCarrierClient(baseURL, token, pickupPin string, timeout time.Duration) *CarrierClient {
	return &CarrierClient{
		BaseURL:   baseURL,
		Token:     token,
		PickupPin: pickupPin,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type serviceabilityResp struct {
	Data struct {
		Couriers []struct {
			Name string          `json:"courier_name"`
			Rate decimal.Decimal `json:"rate"`
		} `json:"available_courier_companies"`
	} `json:"data"`
}

// CalculateCharges returns the cheapest rate any courier quotes for a parcel
// of weightKg to destinationPin.
func (c *CarrierClient) CalculateCharges(ctx context.Context, destinationPin string, weightKg float64) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("pickup_postcode", c.PickupPin)
	q.Set("delivery_postcode", destinationPin)
	q.Set("weight", strconv.FormatFloat(weightKg, 'f', -1, 64))
	q.Set("cod", "0")

	var out serviceabilityResp
	if err := c.do(ctx, http.MethodGet, "/courier/serviceability/?"+q.Encode(), nil, &out); err != nil {
		return decimal.Zero, err
	}

	var (
		best  decimal.Decimal
		found bool
	)
	for _, cc := range out.Data.Couriers {
		if cc.Rate.IsNegative() {
			continue
		}
		if !found || cc.Rate.LessThan(best) {
			best, found = cc.Rate, true
		}
	}
	if !found {
		return decimal.Zero, ErrNotServiceable
	}
	return best, nil
}

type ShipmentItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice int64  `json:"selling_price"`
}

type ShipmentRequest struct {
	OrderID      string         `json:"order_id"`
	OrderDate    string         `json:"order_date"`
	CustomerName string         `json:"billing_customer_name"`
	Address      string         `json:"billing_address"`
	City         string         `json:"billing_city"`
	State        string         `json:"billing_state"`
	Pincode      string         `json:"billing_pincode"`
	Country      string         `json:"billing_country"`
	Phone        string         `json:"billing_phone"`
	SameAsBill   bool           `json:"shipping_is_billing"`
	Items        []ShipmentItem `json:"order_items"`
	PaymentMode  string         `json:"payment_method"`
	SubTotal     int64          `json:"sub_total"`
	WeightKg     float64        `json:"weight"`
	LengthCm     float64        `json:"length"`
	BreadthCm    float64        `json:"breadth"`
	HeightCm     float64        `json:"height"`
}

type Shipment struct {
	ShipmentID int64  `json:"shipment_id"`
	AWB        string `json:"awb_code"`
}

// TrackingNumber prefers the airway bill; the shipment id is used until the
// courier assigns one.
func (s Shipment) TrackingNumber() string {
	if s.AWB != "" {
		return s.AWB
	}
	return strconv.FormatInt(s.ShipmentID, 10)
}

func (c *CarrierClient) CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error) {
	var out Shipment
	if err := c.do(ctx, http.MethodPost, "/orders/create/adhoc", req, &out); err != nil {
		return Shipment{}, err
	}
	if out.ShipmentID == 0 && out.AWB == "" {
		return Shipment{}, errors.New("carrier returned no shipment id")
	}
	return out, nil
}

func (c *CarrierClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("carrier %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("carrier %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("carrier %s: decode: %w", path, err)
	}
	return nil
}
