package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ushopls/marketplace/internal/domain/product"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// StockError reports the first line that asked for more than the product has.
type StockError struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
}

func (e *StockError) Error() string {
	return fmt.Sprintf("not enough stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Line is a product reference and the quantity wanted.
type Line struct {
	ProductID int64
	Quantity  int
}

// ProductReader fetches the current product state, including stock.
type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*product.Product, error)
}

// Guard checks requested quantities against stock before anything is committed.
type Guard struct {
	products ProductReader
}

func NewGuard(products ProductReader) *Guard {
	return &Guard{products: products}
}

// Validate walks the lines in order and stops at the first problem.
// On success it returns the products it read, aligned with lines.
func (g *Guard) Validate(ctx context.Context, lines []Line) ([]*product.Product, error) {
	products := make([]*product.Product, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, line.ProductID)
		}

		p, err := g.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.IsPurchasable() {
			return nil, fmt.Errorf("%w: %s", product.ErrUnavailable, p.Name)
		}
		if p.Stock < line.Quantity {
			return nil, &StockError{
				ProductID: p.ID,
				Available: p.Stock,
				Requested: line.Quantity,
			}
		}
		products = append(products, p)
	}
	return products, nil
}
