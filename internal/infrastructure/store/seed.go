package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ushopls/marketplace/internal/auth"
	"github.com/ushopls/marketplace/internal/domain/product"
	"github.com/ushopls/marketplace/internal/domain/user"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password123"

type demoProduct struct {
	name  string
	price string
	stock int
}

var demoCatalog = []demoProduct{
	{"Cast Iron Kettle", "100.00", 5},
	{"Stoneware Mug", "50.00", 1},
	{"Linen Apron", "24.90", 12},
	{"Walnut Cutting Board", "39.50", 8},
}

// SeedDemo fills an empty store with an admin, a seller with an approved
// catalog and a buyer.
func SeedDemo(ctx context.Context, s *MemoryStore) error {
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		hash, err := auth.HashPassword(DemoPassword)
		if err != nil {
			return err
		}

		var seller *user.User
		for _, u := range []*user.User{
			{Username: "admin", Email: "admin@ushop.local", Role: user.RoleAdmin},
			{Username: "seller", Email: "seller@ushop.local", Role: user.RoleSeller},
			{Username: "buyer", Email: "buyer@ushop.local", Role: user.RoleBuyer},
		} {
			u.PasswordHash = hash
			if err := s.CreateUser(ctx, u); err != nil {
				return fmt.Errorf("seed user %s: %w", u.Username, err)
			}
			if u.Role == user.RoleSeller {
				seller = u
			}
		}

		for _, d := range demoCatalog {
			p := &product.Product{
				SellerID: seller.ID,
				Name:     d.name,
				Price:    decimal.RequireFromString(d.price),
				Stock:    d.stock,
				Status:   product.StatusApproved,
			}
			if err := s.CreateProduct(ctx, p); err != nil {
				return fmt.Errorf("seed product %s: %w", d.name, err)
			}
		}
		return nil
	})
}
