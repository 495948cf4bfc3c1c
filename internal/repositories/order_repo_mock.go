package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/internal/apperrors"
	"storefront/internal/models"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository used
// in development and tests.
type MockOrderRepository struct {
	orders map[string]models.Order
	mu     sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]models.Order),
	}
}

// Create adds a new order.
func (r *MockOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.ApplyDefaults()
	for _, existing := range r.orders {
		if existing.GatewayID == order.GatewayID ||
			(order.SessionID != "" && existing.SessionID == order.SessionID) {
			return apperrors.Persistence("Order with this gateway or session id already exists", nil)
		}
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	r.orders[order.ID] = *order
	return nil
}

func (r *MockOrderRepository) find(match func(models.Order) bool) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, order := range r.orders {
		if match(order) {
			o := order
			return &o, nil
		}
	}
	return nil, apperrors.NotFound("Order not found")
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	return r.find(func(o models.Order) bool { return o.ID == id })
}

// GetByGatewayID returns an order by its gateway id.
func (r *MockOrderRepository) GetByGatewayID(_ context.Context, gatewayID string) (*models.Order, error) {
	return r.find(func(o models.Order) bool { return o.GatewayID == gatewayID })
}

// GetBySessionID returns an order by its checkout session id.
func (r *MockOrderRepository) GetBySessionID(_ context.Context, sessionID string) (*models.Order, error) {
	return r.find(func(o models.Order) bool { return sessionID != "" && o.SessionID == sessionID })
}

func (r *MockOrderRepository) collect(match func(models.Order) bool) []models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderList := make([]models.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if match(order) {
			orderList = append(orderList, order)
		}
	}
	sort.Slice(orderList, func(i, j int) bool {
		return orderList[i].CreatedAt.After(orderList[j].CreatedAt)
	})
	return orderList
}

func matchesFilter(o models.Order, filter models.OrderFilter) bool {
	if filter.PaymentStatus != "" && o.PaymentStatus != filter.PaymentStatus {
		return false
	}
	if filter.OrderStatus != "" && o.OrderStatus != filter.OrderStatus {
		return false
	}
	return true
}

// GetByEmail returns a customer's orders, newest first.
func (r *MockOrderRepository) GetByEmail(_ context.Context, email string) ([]models.Order, error) {
	email = models.NormalizeEmail(email)
	return r.collect(func(o models.Order) bool { return o.CustomerEmail == email }), nil
}

// List returns one page of orders matching filter, newest first.
func (r *MockOrderRepository) List(_ context.Context, filter models.OrderFilter, offset, limit int) ([]models.Order, error) {
	all := r.collect(func(o models.Order) bool { return matchesFilter(o, filter) })
	if offset >= len(all) {
		return []models.Order{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Count returns the number of orders matching filter.
func (r *MockOrderRepository) Count(_ context.Context, filter models.OrderFilter) (int64, error) {
	return int64(len(r.collect(func(o models.Order) bool { return matchesFilter(o, filter) }))), nil
}

// Update applies patch to the order with the given id if it is still in the
// expected state.
func (r *MockOrderRepository) Update(_ context.Context, id string, expected models.OrderState, patch models.OrderPatch) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, apperrors.NotFound("Order not found")
	}
	if order.State() != expected {
		return nil, apperrors.Conflict("Order was modified concurrently", ErrStaleOrder)
	}
	return r.store(order, patch), nil
}

func (r *MockOrderRepository) store(order models.Order, patch models.OrderPatch) *models.Order {
	patch.Apply(&order)
	order.UpdatedAt = time.Now()
	r.orders[order.ID] = order
	return &order
}

// UpdateByGatewayID applies patch to the order carrying gatewayID.
func (r *MockOrderRepository) UpdateByGatewayID(_ context.Context, gatewayID string, patch models.OrderPatch) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, order := range r.orders {
		if order.GatewayID == gatewayID {
			return r.store(order, patch), nil
		}
	}
	return nil, apperrors.NotFound("Order not found")
}

// Delete removes an order by its id.
func (r *MockOrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return apperrors.NotFound("Order not found")
	}
	delete(r.orders, id)
	return nil
}
