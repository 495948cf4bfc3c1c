package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"storefront/internal/apperrors"
	"storefront/internal/models"
	"storefront/internal/repositories"
	"storefront/internal/services"
	"storefront/pkg/rabbitmq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestOrder(gatewayID string) *models.Order {
	return &models.Order{
		Items:         []models.OrderItem{{ProductID: "prod_001", Name: "Mug", Price: 10, Quantity: 2}},
		CustomerEmail: "Buyer@Example.com",
		GatewayID:     gatewayID,
		Currency:      "usd",
		PaymentStatus: models.PaymentCreated,
		OrderStatus:   models.OrderCreated,
	}
}

func TestCalculateTotal(t *testing.T) {
	items := []models.OrderItem{
		{ProductID: "a", Name: "A", Price: 10, Quantity: 2},
		{ProductID: "b", Name: "B", Price: 5, Quantity: 1},
	}
	assert.Equal(t, 25.0, services.CalculateTotal(items))
	assert.Zero(t, services.CalculateTotal(nil))
}

func TestOrderService_CreateOrder(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	pub := new(MockPublisher)
	service := services.NewOrderService(repo, pub)

	pub.On("PublishJSON", rabbitmq.OrdersExchange, "order.created", mock.AnythingOfType("services.OrderEvent")).Return(nil).Once()

	order := newTestOrder("pi_1")
	order.PaymentStatus = ""
	require.NoError(t, service.CreateOrder(context.Background(), order))

	stored, err := service.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", stored.CustomerEmail)
	assert.Equal(t, 20.0, stored.TotalAmount)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, models.OrderCreated, stored.OrderStatus)
	pub.AssertExpectations(t)
}

func TestOrderService_PublishFailureDoesNotFailWrite(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	pub := new(MockPublisher)
	service := services.NewOrderService(repo, pub)

	pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))
	assert.NoError(t, service.CreateOrder(context.Background(), newTestOrder("pi_1")))
}

func TestOrderService_GetAllOrders_Pagination(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	service := services.NewOrderService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, service.CreateOrder(ctx, newTestOrder(fmt.Sprintf("pi_%d", i))))
	}

	page, err := service.GetAllOrders(ctx, 0, 0, models.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, models.Pagination{Page: 1, Limit: 10, Total: 15, Pages: 2}, page.Pagination)
	assert.Len(t, page.Orders, 10)

	page, err = service.GetAllOrders(ctx, 2, 10, models.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Orders, 5)

	page, err = service.GetAllOrders(ctx, 1, 1000, models.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Pagination.Limit)
	assert.Equal(t, 1, page.Pagination.Pages)

	page, err = service.GetAllOrders(ctx, 1, 10, models.OrderFilter{PaymentStatus: models.PaymentCaptured})
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Zero(t, page.Pagination.Pages)

	_, err = service.GetAllOrders(ctx, 1, 10, models.OrderFilter{PaymentStatus: "succeeded"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestOrderService_UpdateOrderByGatewayID(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	service := services.NewOrderService(repo, nil)
	ctx := context.Background()
	require.NoError(t, service.CreateOrder(ctx, newTestOrder("pi_1")))

	captured := models.PaymentCaptured
	processing := models.OrderProcessing
	pm := "pm_card_visa"
	patch := models.OrderPatch{PaymentStatus: &captured, OrderStatus: &processing, PaymentMethodID: &pm}

	updated, err := service.UpdateOrderByGatewayID(ctx, "pi_1", patch)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, updated.PaymentStatus)
	assert.Equal(t, models.OrderProcessing, updated.OrderStatus)
	assert.Equal(t, "pm_card_visa", updated.PaymentMethodID)

	// Replaying the same patch is harmless.
	again, err := service.UpdateOrderByGatewayID(ctx, "pi_1", patch)
	require.NoError(t, err)
	assert.Equal(t, updated.UpdatedAt, again.UpdatedAt)
}

func TestOrderService_TransitionRejected(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	service := services.NewOrderService(repo, nil)
	ctx := context.Background()

	order := newTestOrder("pi_1")
	order.PaymentStatus = models.PaymentCaptured
	order.OrderStatus = models.OrderProcessing
	require.NoError(t, service.CreateOrder(ctx, order))

	authorized := models.PaymentAuthorized
	_, err := service.UpdateOrderByGatewayID(ctx, "pi_1", models.OrderPatch{PaymentStatus: &authorized})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	assert.ErrorIs(t, err, services.ErrTransitionRejected)

	stored, err := repo.GetByGatewayID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, stored.PaymentStatus)

	_, err = service.UpdateFulfillmentStatus(ctx, order.ID, models.OrderDelivered)
	assert.ErrorIs(t, err, services.ErrTransitionRejected)

	shipped, err := service.UpdateFulfillmentStatus(ctx, order.ID, models.OrderShipped)
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, shipped.OrderStatus)

	_, err = service.UpdateFulfillmentStatus(ctx, order.ID, "lost")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestOrderService_UnknownGatewayIDWritesNothing(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	pub := new(MockPublisher)
	service := services.NewOrderService(repo, pub)
	ctx := context.Background()

	captured := models.PaymentCaptured
	_, err := service.UpdateOrderByGatewayID(ctx, "pi_missing", models.OrderPatch{PaymentStatus: &captured})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	count, err := repo.Count(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
	pub.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_StatusChangePublishesOnce(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	pub := new(MockPublisher)
	service := services.NewOrderService(repo, pub)
	ctx := context.Background()

	pub.On("PublishJSON", rabbitmq.OrdersExchange, "order.created", mock.Anything).Return(nil).Once()
	pub.On("PublishJSON", rabbitmq.OrdersExchange, "order.status_changed", mock.MatchedBy(func(evt services.OrderEvent) bool {
		return evt.PaymentStatus == models.PaymentCaptured
	})).Return(nil).Once()

	order := newTestOrder("pi_1")
	require.NoError(t, service.CreateOrder(ctx, order))

	captured := models.PaymentCaptured
	for i := 0; i < 2; i++ {
		_, err := service.UpdateOrderByGatewayID(ctx, "pi_1", models.OrderPatch{PaymentStatus: &captured})
		require.NoError(t, err)
	}
	pub.AssertExpectations(t)
}

func TestOrderService_DeleteOrder(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	service := services.NewOrderService(repo, nil)
	ctx := context.Background()

	order := newTestOrder("pi_1")
	require.NoError(t, service.CreateOrder(ctx, order))
	require.NoError(t, service.DeleteOrder(ctx, order.ID))

	_, err := service.GetOrderByID(ctx, order.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.True(t, apperrors.Is(service.DeleteOrder(ctx, order.ID), apperrors.KindNotFound))
}

// racingOrderRepository lets another writer land first on the initial update.
type racingOrderRepository struct {
	*repositories.MockOrderRepository
	raced bool
	first models.OrderPatch
}

func (r *racingOrderRepository) Update(ctx context.Context, id string, expected models.OrderState, patch models.OrderPatch) (*models.Order, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.MockOrderRepository.Update(ctx, id, expected, r.first); err != nil {
			return nil, err
		}
	}
	return r.MockOrderRepository.Update(ctx, id, expected, patch)
}

func TestOrderService_RechecksAfterLosingRace(t *testing.T) {
	ps := func(s models.PaymentStatus) *models.PaymentStatus { return &s }
	os := func(s models.OrderStatus) *models.OrderStatus { return &s }

	cases := []struct {
		name        string
		first       models.OrderPatch
		patch       models.OrderPatch
		wantErr     error
		wantPayment models.PaymentStatus
		wantOrder   models.OrderStatus
	}{
		{
			name:        "late processing loses to capture",
			first:       models.OrderPatch{PaymentStatus: ps(models.PaymentCaptured), OrderStatus: os(models.OrderProcessing)},
			patch:       models.OrderPatch{PaymentStatus: ps(models.PaymentAuthorized)},
			wantErr:     services.ErrTransitionRejected,
			wantPayment: models.PaymentCaptured,
			wantOrder:   models.OrderProcessing,
		},
		{
			name:        "capture still applies after authorization",
			first:       models.OrderPatch{PaymentStatus: ps(models.PaymentAuthorized)},
			patch:       models.OrderPatch{PaymentStatus: ps(models.PaymentCaptured), OrderStatus: os(models.OrderProcessing)},
			wantPayment: models.PaymentCaptured,
			wantOrder:   models.OrderProcessing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := repositories.NewMockOrderRepository()
			service := services.NewOrderService(&racingOrderRepository{MockOrderRepository: mem, first: tc.first}, nil)
			ctx := context.Background()
			require.NoError(t, mem.Create(ctx, newTestOrder("pi_1")))

			_, err := service.UpdateOrderByGatewayID(ctx, "pi_1", tc.patch)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}

			stored, err := mem.GetByGatewayID(ctx, "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tc.wantPayment, stored.PaymentStatus)
			assert.Equal(t, tc.wantOrder, stored.OrderStatus)
		})
	}
}

func TestOrderService_ConcurrentUpdatesNeverRegress(t *testing.T) {
	captured := models.PaymentCaptured
	processing := models.OrderProcessing
	authorized := models.PaymentAuthorized
	succeeded := models.OrderPatch{PaymentStatus: &captured, OrderStatus: &processing}
	pending := models.OrderPatch{PaymentStatus: &authorized}

	for i := 0; i < 50; i++ {
		repo := repositories.NewMockOrderRepository()
		service := services.NewOrderService(repo, nil)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, newTestOrder("pi_1")))

		var wg sync.WaitGroup
		for _, patch := range []models.OrderPatch{succeeded, pending} {
			wg.Add(1)
			go func(patch models.OrderPatch) {
				defer wg.Done()
				_, _ = service.UpdateOrderByGatewayID(ctx, "pi_1", patch)
			}(patch)
		}
		wg.Wait()

		stored, err := repo.GetByGatewayID(ctx, "pi_1")
		require.NoError(t, err)
		require.Equal(t, models.PaymentCaptured, stored.PaymentStatus, "iteration %d", i)
		require.Equal(t, models.OrderProcessing, stored.OrderStatus, "iteration %d", i)
	}
}

func TestOrderService_CreateFillsMissingStatuses(t *testing.T) {
	repo := repositories.NewMockOrderRepository()
	ctx := context.Background()

	order := newTestOrder("pi_1")
	order.PaymentStatus = ""
	order.OrderStatus = ""
	require.NoError(t, repo.Create(ctx, order))

	captured := models.PaymentCaptured
	updated, err := services.NewOrderService(repo, nil).UpdateOrderByGatewayID(ctx, "pi_1", models.OrderPatch{PaymentStatus: &captured})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, updated.PaymentStatus)
	assert.Equal(t, models.OrderCreated, updated.OrderStatus)
}
