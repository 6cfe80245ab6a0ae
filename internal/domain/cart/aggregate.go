package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ushopls/marketplace/internal/domain/inventory"
	"github.com/ushopls/marketplace/internal/domain/product"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("cart item not found")
	ErrNotOwner        = errors.New("cart item belongs to another buyer")
)

// Line is one buyer's pending selection of a product.
type Line struct {
	ID        int64     `json:"id"`
	BuyerID   int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores cart lines. AddCartLine inserts a new line or, when the
// buyer already holds the product, adds to its quantity; it fills in the
// stored ID and quantity.
type Repository interface {
	ListCartLines(ctx context.Context, buyerID int64) ([]Line, error)
	GetCartLine(ctx context.Context, id int64) (*Line, error)
	FindCartLine(ctx context.Context, buyerID, productID int64) (*Line, error)
	AddCartLine(ctx context.Context, line *Line) error
	UpdateCartLineQuantity(ctx context.Context, id int64, quantity int) error
	DeleteCartLine(ctx context.Context, id int64) error
	ClearCart(ctx context.Context, buyerID int64) error
}

type StockValidator interface {
	Validate(ctx context.Context, lines []inventory.Line) ([]*product.Product, error)
}

type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo  Repository
	stock StockValidator
	tx    TxManager
}

func NewService(repo Repository, stock StockValidator, tx TxManager) *Service {
	return &Service{repo: repo, stock: stock, tx: tx}
}

// Add puts quantity units of a product into the buyer's cart, merging with an
// existing line for the same product.
func (s *Service) Add(ctx context.Context, buyerID, productID int64, quantity int) (*Line, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var line *Line
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		wanted := quantity
		existing, err := s.repo.FindCartLine(ctx, buyerID, productID)
		switch {
		case err == nil:
			wanted += existing.Quantity
		case !errors.Is(err, ErrLineNotFound):
			return err
		}

		if _, err := s.stock.Validate(ctx, []inventory.Line{{ProductID: productID, Quantity: wanted}}); err != nil {
			return err
		}

		line = &Line{
			BuyerID:   buyerID,
			ProductID: productID,
			Quantity:  quantity,
			CreatedAt: time.Now().UTC(),
		}
		return s.repo.AddCartLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, buyerID, lineID int64, quantity int) (*Line, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var line *Line
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		line, err = s.owned(ctx, buyerID, lineID)
		if err != nil {
			return err
		}
		if _, err := s.stock.Validate(ctx, []inventory.Line{{ProductID: line.ProductID, Quantity: quantity}}); err != nil {
			return err
		}
		if err := s.repo.UpdateCartLineQuantity(ctx, lineID, quantity); err != nil {
			return err
		}
		line.Quantity = quantity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *Service) Remove(ctx context.Context, buyerID, lineID int64) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.owned(ctx, buyerID, lineID); err != nil {
			return err
		}
		return s.repo.DeleteCartLine(ctx, lineID)
	})
}

func (s *Service) Clear(ctx context.Context, buyerID int64) error {
	return s.repo.ClearCart(ctx, buyerID)
}

func (s *Service) List(ctx context.Context, buyerID int64) ([]Line, error) {
	return s.repo.ListCartLines(ctx, buyerID)
}

func (s *Service) owned(ctx context.Context, buyerID, lineID int64) (*Line, error) {
	line, err := s.repo.GetCartLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: item %d", ErrNotOwner, lineID)
	}
	return line, nil
}
