package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"storefront/internal/apperrors"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/repositories"
	"storefront/pkg/rabbitmq"
)

// ErrTransitionRejected is wrapped by the Conflict error returned when a patch
// would move an order to a status its current status cannot reach.
var ErrTransitionRejected = errors.New("order status transition rejected")

const (
	defaultPageLimit = 10
	maxPageLimit     = 100

	// staleRetries bounds how often a patch is re-checked after losing a race
	// with another writer.
	staleRetries = 3
)

// EventPublisher publishes order lifecycle events. *rabbitmq.Client implements it.
type EventPublisher interface {
	PublishJSON(exchange, routingKey string, v interface{}) error
}

// OrderEvent is the message published on order creation and status changes.
type OrderEvent struct {
	Type          string               `json:"type"`
	OrderID       string               `json:"orderId"`
	GatewayID     string               `json:"gatewayId"`
	CustomerEmail string               `json:"customerEmail"`
	TotalAmount   float64              `json:"totalAmount"`
	Currency      string               `json:"currency"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	OrderStatus   models.OrderStatus   `json:"orderStatus"`
	OccurredAt    time.Time            `json:"occurredAt"`
}

// OrderService handles business logic related to orders.
type OrderService struct {
	orderRepo repositories.OrderRepository
	publisher EventPublisher // optional
}

// NewOrderService creates a new OrderService. publisher may be nil.
func NewOrderService(orderRepo repositories.OrderRepository, publisher EventPublisher) *OrderService {
	return &OrderService{
		orderRepo: orderRepo,
		publisher: publisher,
	}
}

// CalculateTotal sums price × quantity over items. Amounts stay decimal here;
// conversion to minor units happens only when calling a gateway.
func CalculateTotal(items []models.OrderItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// CreateOrder persists a new order and announces it.
func (s *OrderService) CreateOrder(ctx context.Context, order *models.Order) error {
	order.CustomerEmail = models.NormalizeEmail(order.CustomerEmail)
	order.ApplyDefaults()
	if order.TotalAmount == 0 {
		order.TotalAmount = CalculateTotal(order.Items)
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	slog.Info("order created", "order_id", order.ID, "gateway_id", order.GatewayID, "total", order.TotalAmount)
	s.publish("order.created", order)
	return nil
}

// GetOrderByID retrieves a single order by its ID.
func (s *OrderService) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return s.orderRepo.GetByID(ctx, id)
}

// GetOrderByGatewayID retrieves the order correlated with a gateway object.
func (s *OrderService) GetOrderByGatewayID(ctx context.Context, gatewayID string) (*models.Order, error) {
	return s.orderRepo.GetByGatewayID(ctx, gatewayID)
}

// GetOrdersByEmail retrieves a customer's orders, newest first.
func (s *OrderService) GetOrdersByEmail(ctx context.Context, email string) ([]models.Order, error) {
	return s.orderRepo.GetByEmail(ctx, email)
}

// GetAllOrders returns one page of orders, newest first. page < 1 becomes 1,
// limit < 1 becomes 10 and limit is capped at 100.
func (s *OrderService) GetAllOrders(ctx context.Context, page, limit int, filter models.OrderFilter) (*models.OrderPage, error) {
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("Invalid payment status: %s", filter.PaymentStatus))
	}
	if filter.OrderStatus != "" && !filter.OrderStatus.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("Invalid order status: %s", filter.OrderStatus))
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	total, err := s.orderRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	orders, err := s.orderRepo.List(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}

	return &models.OrderPage{
		Orders: orders,
		Pagination: models.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// UpdateOrderByGatewayID applies patch to the order carrying gatewayID. An
// unknown id fails with NotFound and nothing is written.
func (s *OrderService) UpdateOrderByGatewayID(ctx context.Context, gatewayID string, patch models.OrderPatch) (*models.Order, error) {
	order, err := s.orderRepo.GetByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	return s.applyPatch(ctx, order, patch)
}

// UpdateOrderBySessionID applies patch to the order created for a checkout session.
func (s *OrderService) UpdateOrderBySessionID(ctx context.Context, sessionID string, patch models.OrderPatch) (*models.Order, error) {
	order, err := s.orderRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.applyPatch(ctx, order, patch)
}

// UpdateFulfillmentStatus moves an order along its fulfillment states.
func (s *OrderService) UpdateFulfillmentStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("Invalid order status: %s", status))
	}
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyPatch(ctx, order, models.OrderPatch{OrderStatus: &status})
}

// UpdateOrder applies patch to the order with the given id.
func (s *OrderService) UpdateOrder(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyPatch(ctx, order, patch)
}

// DeleteOrder removes an order.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	if err := s.orderRepo.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("order deleted", "order_id", id)
	return nil
}

// applyPatch checks every status change in patch against the transition tables
// before writing. A patch that changes nothing is not written again. The write
// only succeeds against the statuses that were checked; if another writer got
// there first the order is re-read and the check repeated.
func (s *OrderService) applyPatch(ctx context.Context, order *models.Order, patch models.OrderPatch) (*models.Order, error) {
	for attempt := 0; ; attempt++ {
		if field, from, to, ok := patch.CheckTransition(order); !ok {
			metrics.OrderTransitions.WithLabelValues(field, from, to, "rejected").Inc()
			slog.Warn("anomalous order status transition rejected",
				"order_id", order.ID, "gateway_id", order.GatewayID, "field", field, "from", from, "to", to)
			return nil, apperrors.Conflict(fmt.Sprintf("Order %s cannot move from %s to %s", field, from, to), ErrTransitionRejected)
		}

		if !patch.Changes(order) {
			return order, nil
		}

		updated, err := s.orderRepo.Update(ctx, order.ID, order.State(), patch)
		if errors.Is(err, repositories.ErrStaleOrder) && attempt < staleRetries {
			slog.Debug("order changed during update, retrying", "order_id", order.ID, "attempt", attempt+1)
			if order, err = s.orderRepo.GetByID(ctx, order.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update order %s: %w", order.ID, err)
		}
		s.recordChange(order, updated)
		return updated, nil
	}
}

func (s *OrderService) recordChange(order, updated *models.Order) {
	changed := false
	if updated.PaymentStatus != order.PaymentStatus {
		metrics.OrderTransitions.WithLabelValues("paymentStatus", string(order.PaymentStatus), string(updated.PaymentStatus), "applied").Inc()
		changed = true
	}
	if updated.OrderStatus != order.OrderStatus {
		metrics.OrderTransitions.WithLabelValues("orderStatus", string(order.OrderStatus), string(updated.OrderStatus), "applied").Inc()
		changed = true
	}
	if changed {
		slog.Info("order status changed", "order_id", updated.ID,
			"payment_status", updated.PaymentStatus, "order_status", updated.OrderStatus)
		s.publish("order.status_changed", updated)
	}
}

// publish is best effort: a broker outage never fails the order write.
func (s *OrderService) publish(eventType string, order *models.Order) {
	if s.publisher == nil {
		return
	}
	evt := OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		GatewayID:     order.GatewayID,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.OrderStatus,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.publisher.PublishJSON(rabbitmq.OrdersExchange, eventType, evt); err != nil {
		slog.Warn("failed to publish order event", "type", eventType, "order_id", order.ID, "error", err)
	}
}
