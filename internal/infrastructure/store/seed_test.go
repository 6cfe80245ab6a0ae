package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ushopls/marketplace/internal/auth"
	"github.com/ushopls/marketplace/internal/domain/user"
)

func TestSeedDemo(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, SeedDemo(ctx, s))

	buyer, err := s.GetUserByEmail(ctx, "buyer@ushop.local")
	require.NoError(t, err)
	assert.Equal(t, user.RoleBuyer, buyer.Role)
	assert.True(t, auth.CheckPassword(DemoPassword, buyer.PasswordHash))

	seller, err := s.GetUserByEmail(ctx, "seller@ushop.local")
	require.NoError(t, err)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, len(demoCatalog))
	for _, p := range products {
		assert.Equal(t, seller.ID, p.SellerID)
		assert.True(t, p.IsPurchasable())
	}
}

func TestSeedDemo_TwiceFailsAndKeepsFirstSeed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, SeedDemo(ctx, s))

	err := SeedDemo(ctx, s)

	assert.ErrorIs(t, err, user.ErrEmailTaken)
	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, len(demoCatalog))
}
