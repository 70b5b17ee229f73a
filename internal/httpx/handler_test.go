package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-art-storefront/internal/catalog"
	"github.com/ariefcatur/go-art-storefront/internal/checkout"
	"github.com/ariefcatur/go-art-storefront/internal/config"
	"github.com/ariefcatur/go-art-storefront/internal/inventory"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

var secret = []byte("test-secret")

type testServer struct {
	router *chi.Mux
	store  *catalog.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := metrics.NewRegistry()
	store := catalog.NewMemoryStore(
		catalog.Product{ID: "lotus", Name: "Lotus Pond", Price: 1000, Stock: 5, IsActive: true},
		catalog.Product{ID: "bells", Name: "Temple Bells", Price: 2000, Stock: 1, IsActive: true},
		catalog.Product{ID: "sketch", Name: "Old Sketch", Price: 100, Stock: 9, IsActive: false},
	)
	engine := inventory.NewEngine(store, log, m)
	engine.Backoff = 0
	svc := checkout.NewService(checkout.Deps{
		Inventory: engine,
		Shipping: shipping.NewVerifier(config.ShippingConfig{
			FlatRate: 75, FreeThreshold: 3000, MaxClientCost: 2000,
			CarrierTimeout: time.Second, BreakerFailures: 3, BreakerReset: time.Minute,
		}, nil, log, m),
		Catalog: store,
		Orders:  orders.NewMemoryRepo(),
		Log:     log,
		Metrics: m,
	})

	r := NewRouter(log, m)
	auth := &Auth{Secret: secret, Log: log}
	(&ProductsHandler{Catalog: store, Log: log}).Register(r)
	(&OrdersHandler{Checkout: svc, Log: log}).Register(r, auth.Middleware)
	return &testServer{router: r, store: store}
}

func token(t *testing.T, sub, role string, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Error
}

func orderBody(items ...map[string]any) map[string]any {
	return map[string]any{
		"items": items,
		"shippingAddress": map[string]any{
			"fullName": "Asha R", "line1": "12 MG Road", "city": "Pune", "postalCode": "411001", "country": "India",
		},
		"shippingMethod": "standard",
	}
}

func item(id string, qty int) map[string]any { return map[string]any{"product": id, "quantity": qty} }

func TestCreateOrder_Created(t *testing.T) {
	s := newTestServer(t)
	body := orderBody(item("lotus", 2))
	body["totalAmount"] = 1 // ignored

	rec := s.do(t, http.MethodPost, "/orders", token(t, "u1", "user", time.Hour), body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, int64(2075), o.TotalAmount)
	assert.Equal(t, int64(75), o.ShippingCost)
	assert.Equal(t, orders.StatusPlaced, o.OrderStatus)
	assert.Equal(t, "u1", o.User)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		body any
		code int
		msg  string
	}{
		{"insufficient stock", orderBody(item("lotus", 1), item("bells", 3)), http.StatusBadRequest, "Insufficient stock for Temple Bells. Available: 1"},
		{"inactive", orderBody(item("sketch", 1)), http.StatusBadRequest, "Old Sketch is not available"},
		{"missing product", orderBody(item("ghost", 1)), http.StatusNotFound, "Product not found"},
		{"empty cart", orderBody(), http.StatusBadRequest, "Order must contain at least one item"},
		{"bad json", "{", http.StatusBadRequest, "Invalid request body"},
		{"string shipping cost", `{"items":[{"product":"lotus","quantity":1}],"shippingCost":"free"}`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/orders", token(t, "u1", "user", time.Hour), tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.msg, errorOf(t, rec))

			p, _ := s.store.Get(context.Background(), "lotus")
			assert.Equal(t, 5, p.Stock)
		})
	}
}

func TestCreateOrder_FallbackCostOutOfBound(t *testing.T) {
	s := newTestServer(t)
	body := orderBody(item("lotus", 1))
	body["shippingMethod"] = "carrier"
	body["shippingCost"] = 5000

	rec := s.do(t, http.MethodPost, "/orders", token(t, "u1", "user", time.Hour), body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid shipping cost", errorOf(t, rec))
}

func TestCreateOrder_FallbackCostKeepsDecimalPrecision(t *testing.T) {
	s := newTestServer(t)
	body := orderBody(item("lotus", 1))
	body["shippingMethod"] = "carrier"
	body["shippingCost"] = json.RawMessage("120.0000000000000000001")

	rec := s.do(t, http.MethodPost, "/orders", token(t, "u1", "user", time.Hour), body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, int64(120), o.ShippingCost)
}

func TestCreateOrder_NegativeShippingCost(t *testing.T) {
	s := newTestServer(t)
	body := orderBody(item("lotus", 1))
	body["shippingMethod"] = "carrier"
	body["shippingCost"] = -10

	rec := s.do(t, http.MethodPost, "/orders", token(t, "u1", "user", time.Hour), body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid shipping cost", errorOf(t, rec))
}

func TestAuth_RejectsMissingBadAndExpiredTokens(t *testing.T) {
	s := newTestServer(t)
	body := orderBody(item("lotus", 1))

	rec := s.do(t, http.MethodPost, "/orders", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", "garbage", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", token(t, "u1", "user", -time.Minute), body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authorized, token expired", errorOf(t, rec))
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	user := token(t, "u1", "user", time.Hour)
	admin := token(t, "boss", RoleAdmin, time.Hour)

	rec := s.do(t, http.MethodPost, "/orders", user, orderBody(item("lotus", 2)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))

	rec = s.do(t, http.MethodPatch, "/admin/orders/"+o.ID+"/status", user, map[string]string{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, "/admin/orders/"+o.ID+"/status", admin, map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/admin/orders/"+o.ID+"/status", admin, map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p, _ := s.store.Get(context.Background(), "lotus")
	assert.Equal(t, 5, p.Stock)

	rec = s.do(t, http.MethodPatch, "/admin/orders/"+o.ID+"/payment", admin, map[string]string{"status": "paid"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/orders?status=cancelled", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, orders.PaymentPaid, list[0].PaymentStatus)
}

func TestOrderReadRoutes(t *testing.T) {
	s := newTestServer(t)
	u1 := token(t, "u1", "user", time.Hour)
	u2 := token(t, "u2", "user", time.Hour)

	rec := s.do(t, http.MethodPost, "/orders", u1, orderBody(item("lotus", 1)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/orders/"+o.ID, u1, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/orders/"+o.ID, u2, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/nope", u1, nil).Code)

	rec = s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", u1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"placed"`)

	rec = s.do(t, http.MethodGet, "/orders", u2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestProductsAndQuote(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ps []catalog.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ps))
	assert.Len(t, ps, 2, "inactive products are hidden")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/products/sketch", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/products/lotus", "", nil).Code)

	rec = s.do(t, http.MethodPost, "/shipping/quote", "", map[string]any{
		"items": []map[string]any{item("lotus", 3)}, "shippingMethod": "standard",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subtotal":3000,"shippingCost":0,"totalAmount":3000,"shippingMethod":"standard","source":"rule"}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, "ok", s.do(t, http.MethodGet, "/healthz", "", nil).Body.String())

	s.do(t, http.MethodGet, "/products/lotus", "", nil)
	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `route="/products/{id}"`))
}
