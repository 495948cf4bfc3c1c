package models

// PaymentStatus tracks money movement for an order.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentCreated    PaymentStatus = "created"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// OrderStatus tracks fulfillment progress for an order.
type OrderStatus string

const (
	OrderCreated    OrderStatus = "created"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentCreated, PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentCancelled},
	PaymentCreated:    {PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentCancelled},
	PaymentAuthorized: {PaymentCaptured, PaymentFailed, PaymentCancelled},
	PaymentCaptured:   {PaymentCancelled}, // refund
	PaymentFailed:     nil,
	PaymentCancelled:  nil,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered, OrderCancelled},
	OrderDelivered:  {OrderCancelled},
	OrderCancelled:  nil,
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// Terminal reports whether no other status can follow s.
func (s PaymentStatus) Terminal() bool {
	return s.Valid() && len(paymentTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Staying in the same status is always allowed so replays are harmless.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no other status can follow s.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition reports the first status field of p that o may not move to.
// It returns ok=true when every set status is an allowed transition.
func (p OrderPatch) CheckTransition(o *Order) (field, from, to string, ok bool) {
	if p.PaymentStatus != nil && !o.PaymentStatus.CanTransitionTo(*p.PaymentStatus) {
		return "paymentStatus", string(o.PaymentStatus), string(*p.PaymentStatus), false
	}
	if p.OrderStatus != nil && !o.OrderStatus.CanTransitionTo(*p.OrderStatus) {
		return "orderStatus", string(o.OrderStatus), string(*p.OrderStatus), false
	}
	return "", "", "", true
}
