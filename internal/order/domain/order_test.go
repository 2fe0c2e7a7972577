package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStatusFromCode(t *testing.T) {
	cases := []struct {
		code   int
		status OrderStatus
		ok     bool
	}{
		{1, OrderStatusProcessing, true},
		{2, OrderStatusDelivering, true},
		{3, OrderStatusDelivered, true},
		{4, OrderStatusCancel, true},
		{5, OrderStatusReturn, true},
		{6, OrderStatusRefund, true},
		{0, "", false},
		{7, "", false},
		{-1, "", false},
	}
	for _, tc := range cases {
		status, ok := StatusFromCode(tc.code)
		require.Equal(t, tc.ok, ok, "code %d", tc.code)
		require.Equal(t, tc.status, status, "code %d", tc.code)
	}
}

func TestCanTransitionForwardFlow(t *testing.T) {
	require.True(t, CanTransition(OrderStatusPending, OrderStatusProcessing))
	require.True(t, CanTransition(OrderStatusProcessing, OrderStatusDelivering))
	require.True(t, CanTransition(OrderStatusDelivering, OrderStatusDelivered))

	// forward jumps are not allowed
	require.False(t, CanTransition(OrderStatusPending, OrderStatusDelivering))
	require.False(t, CanTransition(OrderStatusPending, OrderStatusDelivered))
	require.False(t, CanTransition(OrderStatusProcessing, OrderStatusDelivered))
}

func TestCanTransitionExceptionalStatuses(t *testing.T) {
	for _, from := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusDelivering, OrderStatusReturn} {
		require.True(t, CanTransition(from, OrderStatusCancel), "from %s", from)
		require.True(t, CanTransition(from, OrderStatusRefund), "from %s", from)
	}
	require.True(t, CanTransition(OrderStatusDelivering, OrderStatusReturn))
}

func TestCanTransitionTerminal(t *testing.T) {
	for _, from := range []OrderStatus{OrderStatusDelivered, OrderStatusCancel, OrderStatusRefund} {
		for _, to := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusDelivering, OrderStatusDelivered, OrderStatusCancel, OrderStatusReturn, OrderStatusRefund} {
			require.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionRejectsUnknownAndSelf(t *testing.T) {
	require.False(t, CanTransition(OrderStatusPending, OrderStatusPending))
	require.False(t, CanTransition("Shipped", OrderStatusCancel))
	require.False(t, CanTransition(OrderStatusPending, "Shipped"))
}

func TestItemsTotal(t *testing.T) {
	items := []OrderItem{
		{OrderedPrice: decimal.NewFromInt(150000), OrderedQuantity: 2},
		{OrderedPrice: decimal.NewFromInt(99000), OrderedQuantity: 1},
	}
	require.True(t, ItemsTotal(items).Equal(decimal.NewFromInt(399000)))
	require.True(t, ItemsTotal(nil).Equal(decimal.Zero))
}
