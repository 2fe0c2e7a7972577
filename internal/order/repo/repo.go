package repo

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
)

var (
	// ErrNotFound is returned when a referenced order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrValidation is returned for a malformed item set (missing variant,
	// non-positive quantity, negative price).
	ErrValidation = errors.New("order validation failed")
	// ErrDuplicateKey signals a lost idempotency race: another request with
	// the same key committed first.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// Expand selects which relations a read should populate. Keeping this as a
// fixed flag set keeps query cost bounded instead of open-ended graph walks.
type Expand struct {
	User            bool
	Items           bool
	Variant         bool
	Product         bool
	Images          bool
	AttributeValues bool
}

var (
	ExpandNone = Expand{}
	// ExpandListing is what the admin list returns: items + owner.
	ExpandListing = Expand{User: true, Items: true}
	// ExpandUserListing adds variant/product/attribute values for display.
	ExpandUserListing = Expand{Items: true, Variant: true, Product: true, AttributeValues: true}
	// ExpandFull is the findOne graph including product images.
	ExpandFull = Expand{User: true, Items: true, Variant: true, Product: true, Images: true, AttributeValues: true}
)

type ListQuery struct {
	Page   int
	Limit  int
	Filter string
}

type UserListQuery struct {
	UserID    int64
	Status    domain.OrderStatus
	HasStatus bool
	Page      int
	Limit     int
}

type Page struct {
	Items       []domain.Order `json:"items"`
	TotalItems  int64          `json:"totalItems"`
	TotalPages  int64          `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	PageSize    int            `json:"pageSize"`
}

type MonthlySales struct {
	Method domain.PaymentMethod `json:"method"`
	Month  int                  `json:"month"`
	Total  decimal.Decimal      `json:"total"`
}

type StatusCount struct {
	Status domain.OrderStatus `json:"orderStatus"`
	Total  int64              `json:"total"`
}

// OrderRepository is the durable store for orders and their items. It does
// not interpret business rules; that is the service layer's job.
type OrderRepository interface {
	// Create persists the order and its items as one unit. An empty
	// idempotency key skips replay bookkeeping.
	Create(ctx context.Context, o *domain.Order, idemKey string) error
	FindByID(ctx context.Context, id int64, exp Expand) (*domain.Order, error)
	FindIDByIdempotencyKey(ctx context.Context, key string) (int64, error)
	// Update replaces the order fields and the whole item set in one
	// transaction.
	Update(ctx context.Context, o *domain.Order) error
	UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error
	Delete(ctx context.Context, id int64) error

	List(ctx context.Context, q ListQuery) (*Page, error)
	ListByUser(ctx context.Context, q UserListQuery) (*Page, error)

	// Settle marks the order paid exactly once. The second return is false
	// when the order was already paid (duplicate callback).
	Settle(ctx context.Context, id int64, paidAt time.Time) (bool, error)
	OwnerID(ctx context.Context, id int64) (int64, error)
	VariantExists(ctx context.Context, id int64) (bool, error)

	TotalRevenue(ctx context.Context) (decimal.Decimal, error)
	SalesByMonth(ctx context.Context, year int) ([]MonthlySales, error)
	StatusOverview(ctx context.Context) ([]StatusCount, error)
	Count(ctx context.Context) (int64, error)
}
