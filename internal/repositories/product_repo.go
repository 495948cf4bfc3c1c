package repositories

import (
	"context"

	"storefront/internal/models"
)

// ProductRepository defines read access to the product catalog.
type ProductRepository interface {
	GetAll(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Categories(ctx context.Context) ([]string, error)
}
