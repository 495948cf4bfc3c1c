package handlers

import (
	"strconv"

	"storefront/internal/apperrors"
	"storefront/internal/models"
	"storefront/internal/payments"
	"storefront/internal/services"

	"github.com/gofiber/fiber/v2"
)

// OrderHandler handles HTTP requests for checkout and orders.
type OrderHandler struct {
	orders   *services.OrderService
	checkout *services.CheckoutService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders *services.OrderService, checkout *services.CheckoutService) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		checkout: checkout,
	}
}

// RegisterRoutes registers the order routes. adminGuards run before the routes
// that require the admin role.
func (h *OrderHandler) RegisterRoutes(router fiber.Router, adminGuards ...fiber.Handler) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Post("/create", h.HandleCreateOrder)
	orderRoutes.Post("/checkout/payment-intent", h.HandleCreateOrder)
	orderRoutes.Post("/checkout/session", h.HandleCreateSession)
	orderRoutes.Post("/verify", h.HandleVerifyPayment)
	orderRoutes.Get("/customer/orders", h.HandleGetCustomerOrders)
	orderRoutes.Get("/payment-intent/:gatewayId", h.HandleGetOrderByGatewayID)
	orderRoutes.Get("/:orderId", h.HandleGetOrderByID)
	orderRoutes.Get("/", h.HandleGetOrders)

	orderRoutes.Patch("/:orderId/status", guarded(adminGuards, h.HandleUpdateOrderStatus)...)
	orderRoutes.Post("/:orderId/refund", guarded(adminGuards, h.HandleRefund)...)
	orderRoutes.Delete("/:orderId", guarded(adminGuards, h.HandleDeleteOrder)...)
}

// HandleCreateOrder validates the cart, creates a payment intent and stores the order.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var req services.CheckoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.checkout.Checkout(c.UserContext(), req)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusCreated, "Order created successfully", result)
}

// HandleCreateSession creates a hosted checkout session.
func (h *OrderHandler) HandleCreateSession(c *fiber.Ctx) error {
	var req services.CheckoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.checkout.CreateSession(c.UserContext(), req)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusCreated, "Checkout session created successfully", result)
}

// verifyRequest accepts either gateway's client-side confirmation fields.
type verifyRequest struct {
	PaymentIntentID   string `json:"payment_intent_id"`
	SessionID         string `json:"session_id"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (r verifyRequest) proof() (payments.PaymentProof, error) {
	switch {
	case r.RazorpayOrderID != "" || r.RazorpayPaymentID != "" || r.RazorpaySignature != "":
		if r.RazorpayOrderID == "" || r.RazorpayPaymentID == "" || r.RazorpaySignature == "" {
			return payments.PaymentProof{}, apperrors.Validation("Missing required payment verification fields")
		}
		return payments.PaymentProof{
			GatewayID: r.RazorpayOrderID,
			PaymentID: r.RazorpayPaymentID,
			Signature: r.RazorpaySignature,
		}, nil
	case r.SessionID != "":
		return payments.PaymentProof{SessionID: r.SessionID}, nil
	case r.PaymentIntentID != "":
		return payments.PaymentProof{GatewayID: r.PaymentIntentID}, nil
	default:
		return payments.PaymentProof{}, apperrors.Validation("Missing payment intent ID")
	}
}

// HandleVerifyPayment confirms a payment the client reports as complete.
func (h *OrderHandler) HandleVerifyPayment(c *fiber.Ctx) error {
	var req verifyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	proof, err := req.proof()
	if err != nil {
		return err
	}

	order, err := h.checkout.VerifyPayment(c.UserContext(), proof)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Payment verified successfully", fiber.Map{
		"order":    order,
		"verified": true,
	})
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	order, err := h.orders.GetOrderByID(c.UserContext(), c.Params("orderId"))
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Order retrieved successfully", fiber.Map{"order": order})
}

// HandleGetOrderByGatewayID retrieves the order for a payment intent or gateway order.
func (h *OrderHandler) HandleGetOrderByGatewayID(c *fiber.Ctx) error {
	order, err := h.orders.GetOrderByGatewayID(c.UserContext(), c.Params("gatewayId"))
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Order retrieved successfully", fiber.Map{"order": order})
}

// HandleGetCustomerOrders lists a customer's orders by email.
func (h *OrderHandler) HandleGetCustomerOrders(c *fiber.Ctx) error {
	email := c.Query("email")
	if email == "" {
		return apperrors.Validation("Email is required")
	}
	orders, err := h.orders.GetOrdersByEmail(c.UserContext(), email)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Orders retrieved successfully", fiber.Map{
		"orders": orders,
		"count":  len(orders),
	})
}

// HandleGetOrders lists orders page by page, optionally filtered by status.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	filter := models.OrderFilter{
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
		OrderStatus:   models.OrderStatus(c.Query("orderStatus")),
	}

	result, err := h.orders.GetAllOrders(c.UserContext(), page, limit, filter)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Orders retrieved successfully", result)
}

// HandleUpdateOrderStatus moves an order along its fulfillment states.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	var updateData struct {
		Status models.OrderStatus `json:"status" validate:"required"`
	}
	if err := parseBody(c, &updateData); err != nil {
		return err
	}
	if err := validateStruct(updateData); err != nil {
		return err
	}

	order, err := h.orders.UpdateFulfillmentStatus(c.UserContext(), c.Params("orderId"), updateData.Status)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Order status updated successfully", fiber.Map{"order": order})
}

// HandleRefund refunds a captured order in full or in part.
func (h *OrderHandler) HandleRefund(c *fiber.Ctx) error {
	var req struct {
		Amount float64 `json:"amount" validate:"gte=0"`
		Reason string  `json:"reason" validate:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
	}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	if err := validateStruct(req); err != nil {
		return err
	}

	result, err := h.checkout.Refund(c.UserContext(), c.Params("orderId"), req.Amount, req.Reason)
	if err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Refund issued successfully", result)
}

// HandleDeleteOrder removes an order.
func (h *OrderHandler) HandleDeleteOrder(c *fiber.Ctx) error {
	if err := h.orders.DeleteOrder(c.UserContext(), c.Params("orderId")); err != nil {
		return err
	}
	return sendResponse(c, fiber.StatusOK, "Order deleted successfully", nil)
}
