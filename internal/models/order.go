package models

import (
	"strings"
	"time"
)

// OrderItem represents a single line of an order. Items are immutable once the
// order is created.
type OrderItem struct {
	ProductID string  `json:"productId" bson:"productId"`
	Name      string  `json:"name" bson:"name"`
	Price     float64 `json:"price" bson:"price"` // unit price at the time of order
	Quantity  int     `json:"quantity" bson:"quantity"`
	Image     string  `json:"image,omitempty" bson:"image,omitempty"`
}

// Address is a shipping or billing address.
type Address struct {
	Line1      string `json:"line1" bson:"line1"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty"`
	City       string `json:"city" bson:"city"`
	State      string `json:"state" bson:"state"`
	PostalCode string `json:"postal_code" bson:"postal_code"`
	Country    string `json:"country" bson:"country"`
}

// Order is a customer order correlated with a payment gateway object.
type Order struct {
	ID               string            `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	Items            []OrderItem       `json:"items" bson:"items" gorm:"serializer:json;not null"`
	CustomerEmail    string            `json:"customerEmail" bson:"customerEmail" gorm:"type:varchar(255);index;not null"`
	TotalAmount      float64           `json:"totalAmount" bson:"totalAmount" gorm:"not null"`
	Currency         string            `json:"currency" bson:"currency" gorm:"type:varchar(8)"`
	Provider         string            `json:"provider" bson:"provider" gorm:"type:varchar(16)"`
	GatewayID        string            `json:"gatewayId" bson:"gatewayId" gorm:"type:varchar(255);uniqueIndex;not null"`
	SessionID        string            `json:"sessionId,omitempty" bson:"sessionId,omitempty" gorm:"type:varchar(255);index:idx_orders_session_id,unique,where:session_id <> ''"`
	PaymentID        string            `json:"paymentId,omitempty" bson:"paymentId,omitempty" gorm:"type:varchar(255)"`
	PaymentMethodID  string            `json:"paymentMethodId,omitempty" bson:"paymentMethodId,omitempty" gorm:"type:varchar(255)"`
	PaymentSignature string            `json:"-" bson:"paymentSignature,omitempty" gorm:"type:varchar(255)"`
	PaymentStatus    PaymentStatus     `json:"paymentStatus" bson:"paymentStatus" gorm:"type:varchar(20);index;not null"`
	OrderStatus      OrderStatus       `json:"orderStatus" bson:"orderStatus" gorm:"type:varchar(20);index;not null"`
	ShippingAddress  *Address          `json:"shippingAddress,omitempty" bson:"shippingAddress,omitempty" gorm:"serializer:json"`
	BillingAddress   *Address          `json:"billingAddress,omitempty" bson:"billingAddress,omitempty" gorm:"serializer:json"`
	Metadata         map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt        time.Time         `json:"createdAt" bson:"createdAt" gorm:"index"`
	UpdatedAt        time.Time         `json:"updatedAt" bson:"updatedAt"`
}

// NormalizeEmail trims and lowercases a customer email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ApplyDefaults fills in the statuses of a new order. An order stored without
// them could never pass a transition check.
func (o *Order) ApplyDefaults() {
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	if o.OrderStatus == "" {
		o.OrderStatus = OrderCreated
	}
}

// OrderState is the status pair a guarded update expects to find.
type OrderState struct {
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
}

// State returns the order's current status pair.
func (o *Order) State() OrderState {
	return OrderState{PaymentStatus: o.PaymentStatus, OrderStatus: o.OrderStatus}
}

// OrderPatch is a partial update of an order. Nil fields are left untouched.
type OrderPatch struct {
	PaymentStatus    *PaymentStatus
	OrderStatus      *OrderStatus
	GatewayID        *string
	PaymentID        *string
	PaymentMethodID  *string
	PaymentSignature *string
}

// IsEmpty reports whether the patch sets nothing.
func (p OrderPatch) IsEmpty() bool {
	return p.PaymentStatus == nil && p.OrderStatus == nil && p.GatewayID == nil &&
		p.PaymentID == nil && p.PaymentMethodID == nil && p.PaymentSignature == nil
}

// Apply copies the set fields of p onto o.
func (p OrderPatch) Apply(o *Order) {
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.OrderStatus != nil {
		o.OrderStatus = *p.OrderStatus
	}
	if p.GatewayID != nil {
		o.GatewayID = *p.GatewayID
	}
	if p.PaymentID != nil {
		o.PaymentID = *p.PaymentID
	}
	if p.PaymentMethodID != nil {
		o.PaymentMethodID = *p.PaymentMethodID
	}
	if p.PaymentSignature != nil {
		o.PaymentSignature = *p.PaymentSignature
	}
}

// Changes reports whether applying p to o would modify any field.
func (p OrderPatch) Changes(o *Order) bool {
	return (p.PaymentStatus != nil && *p.PaymentStatus != o.PaymentStatus) ||
		(p.OrderStatus != nil && *p.OrderStatus != o.OrderStatus) ||
		(p.GatewayID != nil && *p.GatewayID != o.GatewayID) ||
		(p.PaymentID != nil && *p.PaymentID != o.PaymentID) ||
		(p.PaymentMethodID != nil && *p.PaymentMethodID != o.PaymentMethodID) ||
		(p.PaymentSignature != nil && *p.PaymentSignature != o.PaymentSignature)
}

// Columns returns the patch as a column→value map for SQL updates.
func (p OrderPatch) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if p.PaymentStatus != nil {
		cols["payment_status"] = *p.PaymentStatus
	}
	if p.OrderStatus != nil {
		cols["order_status"] = *p.OrderStatus
	}
	if p.GatewayID != nil {
		cols["gateway_id"] = *p.GatewayID
	}
	if p.PaymentID != nil {
		cols["payment_id"] = *p.PaymentID
	}
	if p.PaymentMethodID != nil {
		cols["payment_method_id"] = *p.PaymentMethodID
	}
	if p.PaymentSignature != nil {
		cols["payment_signature"] = *p.PaymentSignature
	}
	return cols
}

// Fields returns the patch keyed by document field names.
func (p OrderPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.PaymentStatus != nil {
		fields["paymentStatus"] = *p.PaymentStatus
	}
	if p.OrderStatus != nil {
		fields["orderStatus"] = *p.OrderStatus
	}
	if p.GatewayID != nil {
		fields["gatewayId"] = *p.GatewayID
	}
	if p.PaymentID != nil {
		fields["paymentId"] = *p.PaymentID
	}
	if p.PaymentMethodID != nil {
		fields["paymentMethodId"] = *p.PaymentMethodID
	}
	if p.PaymentSignature != nil {
		fields["paymentSignature"] = *p.PaymentSignature
	}
	return fields
}

// OrderFilter narrows list queries. Empty fields match everything.
type OrderFilter struct {
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
}

// Pagination describes one page of a list result.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// OrderPage is a page of orders plus its pagination.
type OrderPage struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}
