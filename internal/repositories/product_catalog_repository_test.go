package repositories

import (
	"context"
	"testing"

	"storefront/internal/apperrors"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRepository(t *testing.T) {
	repo := NewCatalogRepository(nil)
	ctx := context.Background()

	all, err := repo.GetAll(ctx, models.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 12)

	audio, err := repo.GetAll(ctx, models.ProductFilter{Category: "audio"})
	require.NoError(t, err)
	assert.Len(t, audio, 2)

	found, err := repo.GetAll(ctx, models.ProductFilter{Search: "SSD"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "prod_012", found[0].ID)

	p, err := repo.GetByID(ctx, "prod_001")
	require.NoError(t, err)
	assert.Equal(t, 89.99, p.Price)

	_, err = repo.GetByID(ctx, "prod_999")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	categories, err := repo.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Accessories", "Audio", "Electronics", "Gaming", "Home", "Storage", "Wearables"}, categories)
}

func TestMockOrderRepository_Pagination(t *testing.T) {
	repo := NewMockOrderRepository()
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		require.NoError(t, repo.Create(ctx, newOrder("bulk@example.com", "pi_"+string(rune('a'+i)))))
	}

	page, err := repo.List(ctx, models.OrderFilter{}, 10, 10)
	require.NoError(t, err)
	assert.Len(t, page, 5)

	_, err = repo.UpdateByGatewayID(ctx, "pi_zz", models.OrderPatch{})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}
