package store

import (
	"context"

	"github.com/ushopls/marketplace/internal/domain/cart"
	"github.com/ushopls/marketplace/internal/domain/order"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
	"github.com/ushopls/marketplace/internal/outbox"
)

// Store is everything the marketplace persists. MemoryStore and
// PostgresStore both implement it.
type Store interface {
	user.Repository
	product.Repository
	cart.Repository
	order.Repository
	outbox.Writer
	outbox.Source

	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	CreateProduct(ctx context.Context, p *product.Product) error
	UpdateProduct(ctx context.Context, p *product.Product) error
	DecrementStock(ctx context.Context, productID int64, quantity int) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
