package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dipstickit/mickyShop-api/internal/order/repo"
)

// TotalRevenue sums totalPrice over paid orders; zero when none are paid.
func (s *Service) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	return s.orders.TotalRevenue(ctx)
}

// SalesByMonth groups paid orders of the given year by payment method and
// month of the paid date. Empty groups produce no rows.
func (s *Service) SalesByMonth(ctx context.Context, year int) ([]repo.MonthlySales, error) {
	return s.orders.SalesByMonth(ctx, year)
}

// StatusOverview counts orders per status. Statuses with no orders are
// omitted, matching the underlying GROUP BY.
func (s *Service) StatusOverview(ctx context.Context) ([]repo.StatusCount, error) {
	return s.orders.StatusOverview(ctx)
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.orders.Count(ctx)
}
