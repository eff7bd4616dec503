package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tradedesk/src/model"
)

func TestOrderLifecyclePredicates(t *testing.T) {
	cases := []struct {
		status    string
		terminal  bool
		canUpdate bool
		canCancel bool
	}{
		{model.OrderStatusPending, false, true, true},
		{model.OrderStatusOpen, false, true, true},
		{model.OrderStatusPartiallyFilled, false, false, true},
		{model.OrderStatusFilled, true, false, false},
		{model.OrderStatusCanceled, true, false, false},
		{model.OrderStatusRejected, true, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			order := model.Order{Status: tc.status}
			require.Equal(t, tc.terminal, order.IsTerminal())
			require.Equal(t, tc.canUpdate, order.CanUpdate())
			require.Equal(t, tc.canCancel, order.CanCancel())
		})
	}
}

func TestOrderTypeRequirements(t *testing.T) {
	require.True(t, model.RequiresPrice(model.OrderTypeLimit))
	require.True(t, model.RequiresPrice(model.OrderTypeStopLossLimit))
	require.True(t, model.RequiresPrice(model.OrderTypeTrailingStopLimit))
	require.False(t, model.RequiresPrice(model.OrderTypeMarket))
	require.False(t, model.RequiresPrice(model.OrderTypeStopLoss))

	require.True(t, model.RequiresStopPrice(model.OrderTypeStopLoss))
	require.True(t, model.RequiresStopPrice(model.OrderTypeTakeProfitLimit))
	require.False(t, model.RequiresStopPrice(model.OrderTypeTrailingStop))
	require.False(t, model.RequiresStopPrice(model.OrderTypeLimit))

	require.True(t, model.RequiresTrailing(model.OrderTypeTrailingStop))
	require.True(t, model.RequiresTrailing(model.OrderTypeTrailingStopLimit))
	require.False(t, model.RequiresTrailing(model.OrderTypeStopLoss))

	require.True(t, model.KnownOrderType(model.OrderTypeMarket))
	require.False(t, model.KnownOrderType("iceberg"))
	require.False(t, model.KnownOrderType(""))
}
