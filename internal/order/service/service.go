package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
	"github.com/dipstickit/mickyShop-api/internal/order/repo"
)

var (
	// ErrForbidden is returned when an order exists but belongs to a
	// different user.
	ErrForbidden = errors.New("order belongs to another user")
	// ErrInvalidTransition is returned in strict mode for a status move the
	// graph does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Config struct {
	// StrictStatusFlow gates UpdateStatus behind the transition graph.
	// Default false preserves the historical unrestricted behavior.
	StrictStatusFlow bool
}

// Service owns the order lifecycle: creation, item correction, status
// moves, settlement and the read paths.
type Service struct {
	orders repo.OrderRepository
	cfg    Config
}

func New(orders repo.OrderRepository, cfg Config) *Service {
	return &Service{orders: orders, cfg: cfg}
}

type ItemInput struct {
	VariantID int64           `json:"variantId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int32           `json:"quantity"`
}

type CreateInput struct {
	UserID        int64                `json:"userId"`
	FullName      string               `json:"fullName"`
	Phone         string               `json:"phone"`
	Address       string               `json:"address"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	OrderStatus   domain.OrderStatus   `json:"orderStatus"`
	Items         []ItemInput          `json:"orderItems"`

	IdempotencyKey string `json:"-"`
}

type UpdateInput struct {
	FullName      string               `json:"fullName"`
	Phone         string               `json:"phone"`
	Address       string               `json:"address"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	TotalPrice    decimal.Decimal      `json:"totalPrice"`
	Items         []ItemInput          `json:"orderItems"`
}

// Create persists a new order with its items in one transaction. TotalPrice
// is derived from the items at this point and is not recomputed afterwards.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Order, error) {
	items, err := s.buildItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	status := in.OrderStatus
	if status == "" {
		status = domain.OrderStatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", repo.ErrValidation, in.OrderStatus)
	}

	if in.IdempotencyKey != "" {
		if id, err := s.orders.FindIDByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
			return s.findRedacted(ctx, id, repo.ExpandListing)
		}
	}

	o := &domain.Order{
		UserID:        in.UserID,
		FullName:      in.FullName,
		Phone:         in.Phone,
		Address:       in.Address,
		TotalPrice:    domain.ItemsTotal(items),
		PaymentMethod: in.PaymentMethod,
		OrderStatus:   status,
		Items:         items,
	}
	if err := s.orders.Create(ctx, o, in.IdempotencyKey); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) && in.IdempotencyKey != "" {
			if id, lookupErr := s.orders.FindIDByIdempotencyKey(ctx, in.IdempotencyKey); lookupErr == nil {
				return s.findRedacted(ctx, id, repo.ExpandListing)
			}
		}
		return nil, err
	}
	return o, nil
}

// Update replaces the order fields and the whole item set. TotalPrice comes
// from the caller and is not re-derived from the new items; admin
// corrections are expected to supply a consistent pair.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*domain.Order, error) {
	items, err := s.buildItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}
	if in.TotalPrice.IsNegative() {
		return nil, fmt.Errorf("%w: totalPrice must be >= 0", repo.ErrValidation)
	}

	o := &domain.Order{
		ID:            id,
		FullName:      in.FullName,
		Phone:         in.Phone,
		Address:       in.Address,
		TotalPrice:    in.TotalPrice,
		PaymentMethod: in.PaymentMethod,
		Items:         items,
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return s.findRedacted(ctx, id, repo.ExpandListing)
}

func (s *Service) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", repo.ErrValidation, status)
	}
	if s.cfg.StrictStatusFlow {
		current, err := s.orders.FindByID(ctx, id, repo.ExpandNone)
		if err != nil {
			return err
		}
		if !domain.CanTransition(current.OrderStatus, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.OrderStatus, status)
		}
	}
	return s.orders.UpdateStatus(ctx, id, status)
}

func (s *Service) Remove(ctx context.Context, id int64) error {
	return s.orders.Delete(ctx, id)
}

// FindOne returns the fully expanded order graph. The owner's password is
// cleared unconditionally before the order leaves this layer.
func (s *Service) FindOne(ctx context.Context, id int64) (*domain.Order, error) {
	return s.findRedacted(ctx, id, repo.ExpandFull)
}

// findRedacted is the single read path for orders leaving this layer; the
// owner's password never survives it.
func (s *Service) findRedacted(ctx context.Context, id int64, exp repo.Expand) (*domain.Order, error) {
	o, err := s.orders.FindByID(ctx, id, exp)
	if err != nil {
		return nil, err
	}
	if o.User != nil {
		o.User.Password = ""
	}
	return o, nil
}

// CheckOrderUser confirms the order belongs to the given user before any
// payment-related self-service action.
func (s *Service) CheckOrderUser(ctx context.Context, orderID, userID int64) error {
	ownerID, err := s.orders.OwnerID(ctx, orderID)
	if err != nil {
		return err
	}
	if ownerID != userID {
		return ErrForbidden
	}
	return nil
}

// Settlement is the outcome of consuming a payment callback.
type Settlement struct {
	OrderID     int64     `json:"orderId"`
	PaidDate    time.Time `json:"paidDate"`
	AlreadyPaid bool      `json:"alreadyPaid"`
}

// Settle marks the order paid. A repeat call for an already-paid order is a
// successful no-op so at-least-once callback delivery never double-counts.
func (s *Service) Settle(ctx context.Context, orderID int64, paidAt time.Time) (Settlement, error) {
	settled, err := s.orders.Settle(ctx, orderID, paidAt)
	if err != nil {
		return Settlement{}, err
	}
	return Settlement{OrderID: orderID, PaidDate: paidAt, AlreadyPaid: !settled}, nil
}

func (s *Service) buildItems(ctx context.Context, inputs []ItemInput) ([]domain.OrderItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: order needs at least one item", repo.ErrValidation)
	}
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be >= 1", repo.ErrValidation)
		}
		if in.Price.IsNegative() {
			return nil, fmt.Errorf("%w: price must be >= 0", repo.ErrValidation)
		}
		ok, err := s.orders.VariantExists(ctx, in.VariantID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: variant %d does not exist", repo.ErrValidation, in.VariantID)
		}
		items = append(items, domain.OrderItem{
			VariantID:       in.VariantID,
			OrderedPrice:    in.Price,
			OrderedQuantity: in.Quantity,
		})
	}
	return items, nil
}
