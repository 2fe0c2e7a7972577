package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
	"github.com/dipstickit/mickyShop-api/internal/order/repo"
)

func createWith(t *testing.T, svc *Service, userID int64, price int64, method domain.PaymentMethod) *domain.Order {
	t.Helper()
	in := createInput(userID, "Alice")
	in.PaymentMethod = method
	in.Items = []ItemInput{{VariantID: 1, Price: decimal.NewFromInt(price), Quantity: 1}}
	o, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return o
}

func TestTotalRevenueCountsOnlyPaid(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, Config{})

	paid := createWith(t, svc, 1, 100, domain.PaymentZaloPay)
	_ = createWith(t, svc, 1, 50, domain.PaymentCOD)

	_, err := svc.Settle(ctx, paid.ID, time.Now())
	require.NoError(t, err)

	revenue, err := svc.TotalRevenue(ctx)
	require.NoError(t, err)
	require.True(t, revenue.Equal(decimal.NewFromInt(100)))
}

func TestTotalRevenueZeroWhenNothingPaid(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, Config{})

	revenue, err := svc.TotalRevenue(ctx)
	require.NoError(t, err)
	require.True(t, revenue.Equal(decimal.Zero))
}

func TestSalesByMonthGroups(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, Config{})

	janZalo1 := createWith(t, svc, 1, 100000, domain.PaymentZaloPay)
	janZalo2 := createWith(t, svc, 1, 50000, domain.PaymentZaloPay)
	marCOD := createWith(t, svc, 1, 70000, domain.PaymentCOD)
	otherYear := createWith(t, svc, 1, 999999, domain.PaymentZaloPay)
	_ = createWith(t, svc, 1, 11111, domain.PaymentZaloPay) // never paid

	settle := func(o *domain.Order, at time.Time) {
		_, err := svc.Settle(ctx, o.ID, at)
		require.NoError(t, err)
	}
	settle(janZalo1, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	settle(janZalo2, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))
	settle(marCOD, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	settle(otherYear, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	sales, err := svc.SalesByMonth(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, sales, 2)

	byKey := map[string]repo.MonthlySales{}
	for _, row := range sales {
		byKey[fmt.Sprintf("%s/%d", row.Method, row.Month)] = row
	}
	zalo := byKey[string(domain.PaymentZaloPay)+"/1"]
	require.True(t, zalo.Total.Equal(decimal.NewFromInt(150000)))
	cod := byKey[string(domain.PaymentCOD)+"/3"]
	require.True(t, cod.Total.Equal(decimal.NewFromInt(70000)))
}

func TestStatusOverviewOmitsEmptyStatuses(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, Config{})

	_ = createWith(t, svc, 1, 100, domain.PaymentCOD)
	_ = createWith(t, svc, 1, 100, domain.PaymentCOD)
	delivered := createWith(t, svc, 1, 100, domain.PaymentCOD)
	require.NoError(t, svc.UpdateStatus(ctx, delivered.ID, domain.OrderStatusDelivered))

	overview, err := svc.StatusOverview(ctx)
	require.NoError(t, err)
	require.Len(t, overview, 2)

	counts := map[domain.OrderStatus]int64{}
	for _, row := range overview {
		counts[row.Status] = row.Total
	}
	require.EqualValues(t, 2, counts[domain.OrderStatusPending])
	require.EqualValues(t, 1, counts[domain.OrderStatusDelivered])
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, Config{})

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	_ = createWith(t, svc, 1, 100, domain.PaymentCOD)
	_ = createWith(t, svc, 2, 100, domain.PaymentCOD)

	n, err = svc.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
