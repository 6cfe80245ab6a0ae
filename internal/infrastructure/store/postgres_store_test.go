package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/outbox"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := ConnectPostgres(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db))
	// second run is a no-op
	require.NoError(t, RunMigrations(db))

	return NewPostgresStore(db)
}

func seedSellerAndProduct(t *testing.T, s *PostgresStore, stock int) (*user.User, *product.Product) {
	t.Helper()
	ctx := context.Background()

	seller := &user.User{Username: "seller", Email: "seller@example.com", PasswordHash: "x", Role: user.RoleSeller, CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, seller))

	p := &product.Product{
		SellerID: seller.ID,
		Name:     "Lamp",
		Price:    decimal.RequireFromString("19.99"),
		Stock:    stock,
		Status:   product.StatusApproved,
	}
	require.NoError(t, s.CreateProduct(ctx, p))
	return seller, p
}

func TestPostgresStore_Users(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u := &user.User{Username: "buyer", Email: "buyer@example.com", PasswordHash: "hash", Role: user.RoleBuyer, CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	got, err := s.GetUserByEmail(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, user.RoleBuyer, got.Role)

	err = s.CreateUser(ctx, &user.User{Username: "buyer2", Email: "buyer@example.com", PasswordHash: "x", Role: user.RoleBuyer, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, user.ErrEmailTaken)

	err = s.CreateUser(ctx, &user.User{Username: "buyer", Email: "other@example.com", PasswordHash: "x", Role: user.RoleBuyer, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, user.ErrUsernameTaken)

	_, err = s.GetUser(ctx, 9999)
	assert.ErrorIs(t, err, user.ErrUserNotFound)
}

func TestPostgresStore_ProductPriceRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	_, p := seedSellerAndProduct(t, s, 3)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("19.99").Equal(got.Price))
	assert.Equal(t, product.StatusApproved, got.Status)

	_, err = s.GetProduct(context.Background(), 9999)
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestPostgresStore_DecrementStock(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, p := seedSellerAndProduct(t, s, 2)

	require.NoError(t, s.DecrementStock(ctx, p.ID, 2))

	err := s.DecrementStock(ctx, p.ID, 1)
	var stockErr *inventory.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)

	err = s.DecrementStock(ctx, 9999, 1)
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestPostgresStore_DecrementStock_Concurrent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, p := seedSellerAndProduct(t, s, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTransaction(ctx, func(ctx context.Context) error {
				return s.DecrementStock(ctx, p.ID, 1)
			})
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
	assert.Equal(t, 7, failures)
}

func TestPostgresStore_CartUpsert(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seller, p := seedSellerAndProduct(t, s, 5)

	first := &cart.Line{BuyerID: seller.ID, ProductID: p.ID, Quantity: 2, CreatedAt: time.Now()}
	require.NoError(t, s.AddCartLine(ctx, first))
	second := &cart.Line{BuyerID: seller.ID, ProductID: p.ID, Quantity: 2, CreatedAt: time.Now()}
	require.NoError(t, s.AddCartLine(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, second.Quantity)

	lines, err := s.ListCartLines(ctx, seller.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	require.NoError(t, s.ClearCart(ctx, seller.ID))
	lines, err = s.ListCartLines(ctx, seller.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	assert.ErrorIs(t, s.DeleteCartLine(ctx, first.ID), cart.ErrLineNotFound)
}

func TestPostgresStore_TransactionRollback(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seller, p := seedSellerAndProduct(t, s, 5)

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		o := &order.Order{
			BuyerID:         seller.ID,
			Status:          order.StatusPending,
			Total:           decimal.RequireFromString("19.99"),
			ShippingAddress: "1 Main St",
			PaymentMethod:   "card",
			PaymentStatus:   order.PaymentPending,
			CreatedAt:       time.Now(),
		}
		if err := s.CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := s.DecrementStock(ctx, p.ID, 3); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)

	orders, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPostgresStore_OrdersAndLines(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seller, p := seedSellerAndProduct(t, s, 5)

	o := &order.Order{
		BuyerID:         seller.ID,
		Status:          order.StatusPending,
		Total:           decimal.RequireFromString("39.98"),
		ShippingAddress: "1 Main St",
		PaymentMethod:   "card",
		PaymentStatus:   order.PaymentPending,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.CreateOrder(ctx, o))
	l := &order.Line{OrderID: o.ID, ProductID: p.ID, SellerID: seller.ID, Quantity: 2, Price: p.Price, Status: order.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.CreateLine(ctx, l))

	require.NoError(t, s.UpdateLineStatus(ctx, l.ID, order.StatusProcessing))
	require.NoError(t, s.UpdateOrderStatus(ctx, o.ID, order.StatusProcessing))
	require.NoError(t, s.UpdatePaymentStatus(ctx, o.ID, order.PaymentCompleted))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)
	assert.Equal(t, order.PaymentCompleted, got.PaymentStatus)
	assert.True(t, o.Total.Equal(got.Total))

	bySeller, err := s.ListLinesBySeller(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	assert.Equal(t, order.StatusProcessing, bySeller[0].Status)

	_, err = s.GetLine(ctx, 9999)
	assert.ErrorIs(t, err, order.ErrLineNotFound)
	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, 9999, order.StatusShipped), order.ErrOrderNotFound)
}

func TestPostgresStore_Outbox(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	ev, err := outbox.NewEvent("Order", "1", "OrderPlaced", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, s.AppendOutbox(ctx, ev))

	pending, err := s.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)
	assert.JSONEq(t, `{"k":"v"}`, string(pending[0].Payload))

	require.NoError(t, s.MarkPublished(ctx, ev.ID))
	pending, err = s.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
