package product_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/infrastructure/store"
)

func newTestProductService(t *testing.T) (*product.Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return product.NewService(s), s
}

func addProduct(t *testing.T, s *store.MemoryStore, name string, status product.Status) *product.Product {
	t.Helper()
	p := &product.Product{
		SellerID: 7,
		Name:     name,
		Price:    decimal.RequireFromString("19.99"),
		Stock:    3,
		Status:   status,
	}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func TestProduct_IsPurchasable(t *testing.T) {
	assert.True(t, (&product.Product{Status: product.StatusApproved}).IsPurchasable())
	assert.False(t, (&product.Product{Status: product.StatusPending}).IsPurchasable())
	assert.False(t, (&product.Product{Status: product.StatusRejected}).IsPurchasable())
}

func TestService_Get_Approved(t *testing.T) {
	svc, s := newTestProductService(t)
	p := addProduct(t, s, "Lamp", product.StatusApproved)

	got, err := svc.Get(context.Background(), p.ID)

	require.NoError(t, err)
	assert.Equal(t, "Lamp", got.Name)
	assert.True(t, decimal.RequireFromString("19.99").Equal(got.Price))
}

func TestService_Get_HidesUnapproved(t *testing.T) {
	svc, s := newTestProductService(t)
	pending := addProduct(t, s, "Draft", product.StatusPending)
	rejected := addProduct(t, s, "Banned", product.StatusRejected)

	_, err := svc.Get(context.Background(), pending.ID)
	assert.ErrorIs(t, err, product.ErrNotFound)

	_, err = svc.Get(context.Background(), rejected.ID)
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestService_Get_Missing(t *testing.T) {
	svc, _ := newTestProductService(t)

	_, err := svc.Get(context.Background(), 404)

	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestService_ListApproved(t *testing.T) {
	svc, s := newTestProductService(t)
	addProduct(t, s, "Lamp", product.StatusApproved)
	addProduct(t, s, "Draft", product.StatusPending)
	addProduct(t, s, "Chair", product.StatusApproved)

	got, err := svc.ListApproved(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, product.StatusApproved, p.Status)
	}
}

func TestService_ListApproved_Empty(t *testing.T) {
	svc, _ := newTestProductService(t)

	got, err := svc.ListApproved(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
