package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ushopls/marketplace/internal/auth"
	"github.com/ushopls/marketplace/internal/checkout"
	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/infrastructure/cache"
	"github.com/ushopls/marketplace/internal/infrastructure/store"
)

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
	jwt     *auth.JWTService
}

func newTestServer(t *testing.T, idem Idempotency) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	log := zap.NewNop()
	jwtService := auth.NewJWTService("test-secret-key-that-is-long-enough", 15*time.Minute, time.Hour)
	guard := inventory.NewGuard(s)

	handlers := NewHandlers(
		product.NewService(s),
		cart.NewService(s, guard, s),
		order.NewService(s, s, s),
		checkout.NewOrchestrator(checkout.Deps{Carts: s, Orders: s, Stock: s, Guard: guard, Tx: s, Outbox: s, Logger: log}),
		idem,
		log,
	)
	router := NewRouter(RouterConfig{
		Handlers:     handlers,
		AuthHandlers: NewAuthHandlers(user.NewService(s), jwtService, log),
		JWTService:   jwtService,
		Logger:       log,
	})
	return &testServer{handler: router, store: s, jwt: jwtService}
}

func (ts *testServer) user(t *testing.T, username string, role user.Role) (*user.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("secret123")
	require.NoError(t, err)
	u := &user.User{Username: username, Email: username + "@example.com", PasswordHash: hash, Role: role}
	require.NoError(t, ts.store.CreateUser(context.Background(), u))
	token, _, err := ts.jwt.GenerateAccessToken(u.ID, u.Email, string(role))
	require.NoError(t, err)
	return u, token
}

func (ts *testServer) product(t *testing.T, sellerID int64, price string, stock int, status product.Status) *product.Product {
	t.Helper()
	p := &product.Product{
		SellerID: sellerID,
		Name:     "Item",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		Status:   status,
	}
	require.NoError(t, ts.store.CreateProduct(context.Background(), p))
	return p
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var checkoutBody = PlaceOrderRequest{ShippingAddress: "12 Harbour Road", PaymentMethod: "cash"}

// ============================================
// Product Tests
// ============================================

func TestProducts_ListAndGet(t *testing.T) {
	ts := newTestServer(t, nil)
	approved := ts.product(t, 5, "10.00", 3, product.StatusApproved)
	pending := ts.product(t, 5, "10.00", 3, product.StatusPending)

	rec := ts.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]product.Product](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, approved.ID, list[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/products/"+itoa(approved.ID), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/products/"+itoa(pending.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/products/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================
// Cart Tests
// ============================================

func TestCart_RequiresAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/cart", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCart_AddUpdateRemove(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.user(t, "buyer", user.RoleBuyer)
	p := ts.product(t, 5, "10.00", 5, product.StatusApproved)

	rec := ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: p.ID, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	line := decode[cart.Line](t, rec)
	assert.Equal(t, 2, line.Quantity)

	rec = ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: p.ID, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 3, decode[cart.Line](t, rec).Quantity)

	rec = ts.do(t, http.MethodPut, "/api/cart/"+itoa(line.ID), token, UpdateCartRequest{Quantity: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[cart.Line](t, rec).Quantity)

	rec = ts.do(t, http.MethodGet, "/api/cart", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]cart.Line](t, rec), 1)

	rec = ts.do(t, http.MethodDelete, "/api/cart/"+itoa(line.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/cart", token, nil)
	assert.Empty(t, decode[[]cart.Line](t, rec))
}

func TestCart_OverStockReportsDetails(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.user(t, "buyer", user.RoleBuyer)
	p := ts.product(t, 5, "10.00", 2, product.StatusApproved)

	rec := ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: p.ID, Quantity: 3})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[stockErrorBody](t, rec)
	assert.Equal(t, p.ID, body.ProductID)
	assert.Equal(t, 2, body.Available)
	assert.Equal(t, 3, body.Requested)
}

func TestCart_OtherBuyersLine(t *testing.T) {
	ts := newTestServer(t, nil)
	_, owner := ts.user(t, "owner", user.RoleBuyer)
	_, other := ts.user(t, "other", user.RoleBuyer)
	p := ts.product(t, 5, "10.00", 5, product.StatusApproved)
	line := decode[cart.Line](t, ts.do(t, http.MethodPost, "/api/cart", owner, AddToCartRequest{ProductID: p.ID, Quantity: 1}))

	rec := ts.do(t, http.MethodDelete, "/api/cart/"+itoa(line.ID), other, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// ============================================
// Checkout Tests
// ============================================

func TestPlaceOrder_EndToEnd(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.user(t, "buyer", user.RoleBuyer)
	a := ts.product(t, 5, "100.00", 5, product.StatusApproved)
	b := ts.product(t, 5, "50.00", 1, product.StatusApproved)
	ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: a.ID, Quantity: 2})
	ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: b.ID, Quantity: 1})

	rec := ts.do(t, http.MethodPost, "/api/orders", token, checkoutBody)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[order.Order](t, rec)
	assert.True(t, decimal.NewFromInt(250).Equal(placed.Total))
	assert.Len(t, placed.Lines, 2)

	rec = ts.do(t, http.MethodGet, "/api/cart", token, nil)
	assert.Empty(t, decode[[]cart.Line](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]order.Order](t, rec), 1)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.user(t, "buyer", user.RoleBuyer)

	rec := ts.do(t, http.MethodPost, "/api/orders", token, checkoutBody)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cart is empty")
}

func TestPlaceOrder_MissingFields(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.user(t, "buyer", user.RoleBuyer)

	rec := ts.do(t, http.MethodPost, "/api/orders", token, PlaceOrderRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrder_IdempotencyKeyReplays(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ts := newTestServer(t, cache.NewIdempotencyStore(client, time.Hour))
	_, token := ts.user(t, "buyer", user.RoleBuyer)
	p := ts.product(t, 5, "10.00", 5, product.StatusApproved)
	ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: p.ID, Quantity: 1})

	first := ts.do(t, http.MethodPost, "/api/orders", token, checkoutBody, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: p.ID, Quantity: 1})
	second := ts.do(t, http.MethodPost, "/api/orders", token, checkoutBody, "Idempotency-Key", "k-1")

	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode[order.Order](t, first).ID, decode[order.Order](t, second).ID)

	orders, err := ts.store.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestPlaceOrder_FailedCheckoutReleasesKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ts := newTestServer(t, cache.NewIdempotencyStore(client, time.Hour))
	_, token := ts.user(t, "buyer", user.RoleBuyer)

	rec := ts.do(t, http.MethodPost, "/api/orders", token, checkoutBody, "Idempotency-Key", "k-2")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	p := ts.product(t, 5, "10.00", 5, product.StatusApproved)
	ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: p.ID, Quantity: 1})
	rec = ts.do(t, http.MethodPost, "/api/orders", token, checkoutBody, "Idempotency-Key", "k-2")

	assert.Equal(t, http.StatusCreated, rec.Code)
}

// ============================================
// Order Visibility and Fulfillment Tests
// ============================================

func placeOrder(t *testing.T, ts *testServer, token string, sellerID int64) order.Order {
	t.Helper()
	p := ts.product(t, sellerID, "10.00", 5, product.StatusApproved)
	ts.do(t, http.MethodPost, "/api/cart", token, AddToCartRequest{ProductID: p.ID, Quantity: 1})
	rec := ts.do(t, http.MethodPost, "/api/orders", token, checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[order.Order](t, rec)
}

func TestGetOrder_Visibility(t *testing.T) {
	ts := newTestServer(t, nil)
	seller, _ := ts.user(t, "seller", user.RoleSeller)
	_, buyer := ts.user(t, "buyer", user.RoleBuyer)
	_, stranger := ts.user(t, "stranger", user.RoleBuyer)
	_, admin := ts.user(t, "admin", user.RoleAdmin)
	placed := placeOrder(t, ts, buyer, seller.ID)
	path := "/api/orders/" + itoa(placed.ID)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, buyer, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, admin, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, path, stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/orders/999", buyer, nil).Code)

	rec := ts.do(t, http.MethodGet, "/api/orders", admin, nil)
	assert.Len(t, decode[[]order.Order](t, rec), 1)
}

func TestSeller_TransitionsOwnLines(t *testing.T) {
	ts := newTestServer(t, nil)
	seller, sellerToken := ts.user(t, "seller", user.RoleSeller)
	_, otherSeller := ts.user(t, "other", user.RoleSeller)
	_, buyer := ts.user(t, "buyer", user.RoleBuyer)
	placed := placeOrder(t, ts, buyer, seller.ID)
	itemPath := "/api/seller/order-items/" + itoa(placed.Lines[0].ID) + "/status"

	rec := ts.do(t, http.MethodGet, "/api/seller/orders", sellerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]order.Order](t, rec), 1)

	rec = ts.do(t, http.MethodPut, itemPath, sellerToken, UpdateStatusRequest{Status: "delivered"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPut, itemPath, otherSeller, UpdateStatusRequest{Status: "processing"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, itemPath, buyer, UpdateStatusRequest{Status: "processing"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, itemPath, sellerToken, UpdateStatusRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, itemPath, sellerToken, UpdateStatusRequest{Status: "processing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.StatusProcessing, decode[order.Line](t, rec).Status)
}

func TestAdmin_OrderAndPaymentStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	seller, _ := ts.user(t, "seller", user.RoleSeller)
	_, buyer := ts.user(t, "buyer", user.RoleBuyer)
	_, admin := ts.user(t, "admin", user.RoleAdmin)
	placed := placeOrder(t, ts, buyer, seller.ID)
	base := "/api/orders/" + itoa(placed.ID)

	rec := ts.do(t, http.MethodPut, base+"/status", buyer, UpdateStatusRequest{Status: "shipped"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, base+"/status", admin, UpdateStatusRequest{Status: "shipped"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, order.StatusShipped, decode[order.Order](t, rec).Status)

	rec = ts.do(t, http.MethodPut, base+"/status", admin, UpdateStatusRequest{Status: "pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPut, base+"/payment-status", admin, UpdatePaymentStatusRequest{PaymentStatus: "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.PaymentCompleted, decode[order.Order](t, rec).PaymentStatus)

	rec = ts.do(t, http.MethodPut, base+"/payment-status", admin, UpdatePaymentStatusRequest{PaymentStatus: "refunded"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================
// Error Mapping Tests
// ============================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{&inventory.StockError{ProductID: 1}, http.StatusBadRequest},
		{checkout.ErrEmptyCart, http.StatusBadRequest},
		{product.ErrUnavailable, http.StatusBadRequest},
		{user.ErrInvalidCredentials, http.StatusUnauthorized},
		{order.ErrNotOwner, http.StatusForbidden},
		{cart.ErrLineNotFound, http.StatusNotFound},
		{order.ErrInvalidTransition, http.StatusConflict},
		{user.ErrEmailTaken, http.StatusConflict},
		{cache.ErrInProgress, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, statusFor(tt.err))
		})
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
