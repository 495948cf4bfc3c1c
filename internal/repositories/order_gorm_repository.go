package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/apperrors"
	"storefront/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// Create inserts a new order.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.ApplyDefaults()
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Persistence("Order with this gateway or session id already exists", err)
		}
		return apperrors.Persistence("Failed to create order", err)
	}
	return nil
}

func (r *GORMOrderRepository) first(ctx context.Context, column, value string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, column+" = ?", value).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Order not found")
		}
		return nil, apperrors.Persistence(fmt.Sprintf("Failed to get order by %s", column), err)
	}
	return &order, nil
}

// GetByID retrieves an order by its internal id.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.first(ctx, "id", id)
}

// GetByGatewayID retrieves an order by its payment intent or gateway order id.
func (r *GORMOrderRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*models.Order, error) {
	return r.first(ctx, "gateway_id", gatewayID)
}

// GetBySessionID retrieves an order by its checkout session id.
func (r *GORMOrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, apperrors.NotFound("Order not found")
	}
	return r.first(ctx, "session_id", sessionID)
}

// GetByEmail retrieves all orders of a customer, newest first.
func (r *GORMOrderRepository) GetByEmail(ctx context.Context, email string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("customer_email = ?", models.NormalizeEmail(email)).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, apperrors.Persistence("Failed to get customer orders", err)
	}
	return orders, nil
}

func (r *GORMOrderRepository) filtered(ctx context.Context, filter models.OrderFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.PaymentStatus != "" {
		q = q.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.OrderStatus != "" {
		q = q.Where("order_status = ?", filter.OrderStatus)
	}
	return q
}

// List returns one page of orders, newest first.
func (r *GORMOrderRepository) List(ctx context.Context, filter models.OrderFilter, offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.filtered(ctx, filter).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, apperrors.Persistence("Failed to list orders", err)
	}
	return orders, nil
}

// Count returns the number of orders matching filter.
func (r *GORMOrderRepository) Count(ctx context.Context, filter models.OrderFilter) (int64, error) {
	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, apperrors.Persistence("Failed to count orders", err)
	}
	return total, nil
}

// Update applies patch to the order with the given id and returns the stored
// result. The statuses are part of the WHERE clause, so a concurrent status
// change makes the update match no row.
func (r *GORMOrderRepository) Update(ctx context.Context, id string, expected models.OrderState, patch models.OrderPatch) (*models.Order, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status = ? AND order_status = ?", id, expected.PaymentStatus, expected.OrderStatus)
	n, err := r.apply(q, patch)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperrors.Conflict("Order was modified concurrently", ErrStaleOrder)
	}
	return r.GetByID(ctx, id)
}

// UpdateByGatewayID applies patch to the order carrying gatewayID. An unknown
// gateway id fails with NotFound before anything is written.
func (r *GORMOrderRepository) UpdateByGatewayID(ctx context.Context, gatewayID string, patch models.OrderPatch) (*models.Order, error) {
	order, err := r.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	n, err := r.apply(r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID), patch)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperrors.NotFound("Order not found")
	}
	return r.GetByID(ctx, order.ID)
}

// apply runs the patch against the rows q selects and reports how many matched.
func (r *GORMOrderRepository) apply(q *gorm.DB, patch models.OrderPatch) (int64, error) {
	cols := patch.Columns()
	cols["updated_at"] = time.Now()

	res := q.Updates(cols)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return 0, apperrors.Persistence("Order with this gateway id already exists", res.Error)
		}
		return 0, apperrors.Persistence("Failed to update order", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes an order by its id.
func (r *GORMOrderRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Order{}, "id = ?", id)
	if res.Error != nil {
		return apperrors.Persistence("Failed to delete order", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("Order not found")
	}
	return nil
}
