package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "cod"
	PaymentZaloPay PaymentMethod = "zalopay"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusDelivering OrderStatus = "Delivering"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancel     OrderStatus = "Cancel"
	OrderStatusReturn     OrderStatus = "Return"
	OrderStatusRefund     OrderStatus = "Refund"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusDelivering,
		OrderStatusDelivered, OrderStatusCancel, OrderStatusReturn, OrderStatusRefund:
		return true
	}
	return false
}

// Terminal statuses never move again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancel, OrderStatusRefund:
		return true
	}
	return false
}

// StatusFromCode maps the client-side filter codes 1..6 onto statuses.
// Any other code means "no status filter".
func StatusFromCode(code int) (OrderStatus, bool) {
	switch code {
	case 1:
		return OrderStatusProcessing, true
	case 2:
		return OrderStatusDelivering, true
	case 3:
		return OrderStatusDelivered, true
	case 4:
		return OrderStatusCancel, true
	case 5:
		return OrderStatusReturn, true
	case 6:
		return OrderStatusRefund, true
	}
	return "", false
}

// CanTransition reports whether the strict status graph allows from -> to.
// Forward flow is Pending -> Processing -> Delivering -> Delivered;
// Cancel/Return/Refund are reachable from any non-terminal status.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case OrderStatusCancel, OrderStatusReturn, OrderStatusRefund:
		return true
	case OrderStatusProcessing:
		return from == OrderStatusPending
	case OrderStatusDelivering:
		return from == OrderStatusProcessing
	case OrderStatusDelivered:
		return from == OrderStatusDelivering
	}
	return false
}

// User is the owner projection. Password must be cleared before an order
// leaves the service layer.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password,omitempty"`
}

type Image struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

type AttributeValue struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

type Product struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images,omitempty"`
}

// Variant is a catalog projection, read-only for this subsystem.
type Variant struct {
	ID              int64            `json:"id"`
	SKU             string           `json:"sku"`
	ProductID       int64            `json:"productId"`
	Product         *Product         `json:"product,omitempty"`
	AttributeValues []AttributeValue `json:"attributeValues,omitempty"`
}

type OrderItem struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"orderId"`
	VariantID       int64           `json:"variantId"`
	OrderedPrice    decimal.Decimal `json:"orderedPrice"`
	OrderedQuantity int32           `json:"orderedQuantity"`
	Variant         *Variant        `json:"variant,omitempty"`
}

func (it OrderItem) Subtotal() decimal.Decimal {
	return it.OrderedPrice.Mul(decimal.NewFromInt32(it.OrderedQuantity))
}

// Order is a customer purchase. FullName/Phone/Address are a snapshot of
// the customer at checkout time, not a live reference to the user row.
type Order struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"userId"`
	FullName      string          `json:"fullName"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	IsPaid        bool            `json:"isPaid"`
	PaidDate      *time.Time      `json:"paidDate"`
	OrderStatus   OrderStatus     `json:"orderStatus"`
	CreatedDate   time.Time       `json:"createdDate"`
	UpdatedDate   time.Time       `json:"updatedDate"`
	User          *User           `json:"user,omitempty"`
	Items         []OrderItem     `json:"orderItems"`
}

// ItemsTotal sums item subtotals; this is the creation-time invariant
// behind Order.TotalPrice.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
