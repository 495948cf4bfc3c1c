package repositories

import (
	"context"
	"errors"

	"storefront/internal/models"
)

// ErrStaleOrder is wrapped by the Conflict error Update returns when the order
// no longer has the statuses the caller read.
var ErrStaleOrder = errors.New("order changed since it was read")

// OrderRepository defines the interface for order data access.
//
// Lookups of an unknown id return an apperrors NotFound error and never write.
// A duplicate gateway or session id on Create returns a Persistence error.
// Create fills in missing statuses with models.Order.ApplyDefaults.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByGatewayID(ctx context.Context, gatewayID string) (*models.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	// GetByEmail returns the customer's orders, newest first.
	GetByEmail(ctx context.Context, email string) ([]models.Order, error)
	// List returns one page of orders matching filter, newest first.
	List(ctx context.Context, filter models.OrderFilter, offset, limit int) ([]models.Order, error)
	Count(ctx context.Context, filter models.OrderFilter) (int64, error)
	// Update applies patch only while the order still has the expected
	// statuses; otherwise it fails with ErrStaleOrder and writes nothing.
	Update(ctx context.Context, id string, expected models.OrderState, patch models.OrderPatch) (*models.Order, error)
	UpdateByGatewayID(ctx context.Context, gatewayID string, patch models.OrderPatch) (*models.Order, error)
	Delete(ctx context.Context, id string) error
}
