package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var (
	ErrNotFound    = errors.New("product not found")
	ErrUnavailable = errors.New("product is not available for purchase")
)

type Product struct {
	ID          int64           `json:"id"`
	SellerID    int64           `json:"seller_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsPurchasable reports whether the product can be added to a cart or checked out.
func (p *Product) IsPurchasable() bool {
	return p.Status == StatusApproved
}

// Repository is the product storage the marketplace reads from.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns an approved product. Products awaiting moderation are reported as missing.
func (s *Service) Get(ctx context.Context, id int64) (*Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsPurchasable() {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return p, nil
}

// ListApproved returns the storefront catalog.
func (s *Service) ListApproved(ctx context.Context) ([]Product, error) {
	all, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	approved := make([]Product, 0, len(all))
	for _, p := range all {
		if p.IsPurchasable() {
			approved = append(approved, p)
		}
	}
	return approved, nil
}
