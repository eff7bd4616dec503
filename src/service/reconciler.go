package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradedesk/src/exchange"
	"tradedesk/src/model"
)

// Reconciler merges exchange-reported execution state back into the local
// store. The exchange is the execution authority: its view of fills and
// order states wins. The local store stays the origination authority, so
// reconciliation never creates local orders, only updates them. Positions
// are the one exception, since they are born on the exchange.
type Reconciler struct {
	orders    OrderStore
	positions PositionStore
	creds     CredentialSource
	pool      ClientPool

	now func() time.Time
}

func NewReconciler(
	orders OrderStore,
	positions PositionStore,
	creds CredentialSource,
	clientPool ClientPool,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		positions: positions,
		creds:     creds,
		pool:      clientPool,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Useful for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// OrderSyncResult reports what one SyncOrders pass did.
type OrderSyncResult struct {
	Checked       int `json:"checked"`
	Updated       int `json:"updated"`
	FillsRecorded int `json:"fills_recorded"`
	Closed        int `json:"closed"`
}

// SyncOrders fetches the venue's open-order view for every symbol the
// connection has open orders on and merges it into the local store. A
// fetch failure aborts the whole pass; per-order merge failures are
// logged and skipped. Callers serialize passes per connection.
func (r *Reconciler) SyncOrders(ctx context.Context, connectionID uint) (*OrderSyncResult, error) {
	local, err := r.orders.FindOpenByConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	result := &OrderSyncResult{Checked: len(local)}
	if len(local) == 0 {
		return result, nil
	}

	creds, err := r.creds.Credentials(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	lease, err := r.pool.AcquireRestClient(creds)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	client := lease.Client()

	symbols := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	for i := range local {
		if _, ok := seen[local[i].Symbol]; ok {
			continue
		}
		seen[local[i].Symbol] = struct{}{}
		symbols = append(symbols, local[i].Symbol)
	}

	// Exchange-side open orders keyed by exchange order id. Ids we never
	// originated are skipped; the venue may host orders placed elsewhere.
	remote := make(map[string]exchange.OpenOrder)
	for _, symbol := range symbols {
		open, err := client.FetchOpenOrders(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("fetching open orders for %s: %w", symbol, err)
		}
		for _, o := range open {
			remote[o.ExchangeOrderID] = o
		}
	}

	for i := range local {
		order := &local[i]
		if order.ExchangeOrderID == nil || *order.ExchangeOrderID == "" {
			// Still in flight to the exchange; nothing to merge yet.
			continue
		}

		ro, stillOpen := remote[*order.ExchangeOrderID]
		if stillOpen {
			if err := r.mergeOpenOrder(ctx, order, ro, result); err != nil {
				logger.WithFields(map[string]interface{}{
					"component": "Reconciler",
					"order_id":  order.ID,
				}).WithError(err).Error("failed to merge exchange order state")
			}
			continue
		}

		// Gone from the open-order view: the order reached a terminal
		// state on the venue. Without a per-order lookup the last known
		// fill quantity decides between filled and canceled.
		status := model.OrderStatusCanceled
		if order.Filled >= order.Amount && order.Amount > 0 {
			status = model.OrderStatusFilled
		}
		if err := r.orders.ApplyExchangeState(ctx, order.ID, status,
			order.Filled, order.Remaining, order.AverageFillPrice, order.Cost, r.now()); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "Reconciler",
				"order_id":  order.ID,
			}).WithError(err).Error("failed to close order from exchange state")
			continue
		}
		result.Closed++
		result.Updated++
	}

	logger.WithFields(map[string]interface{}{
		"component":     "Reconciler",
		"connection_id": connectionID,
		"checked":       result.Checked,
		"updated":       result.Updated,
		"closed":        result.Closed,
	}).Info("order sync pass completed")

	return result, nil
}

func (r *Reconciler) mergeOpenOrder(
	ctx context.Context,
	order *model.Order,
	ro exchange.OpenOrder,
	result *OrderSyncResult,
) error {

	status := ro.Status
	if status == "" {
		status = model.OrderStatusOpen
	}

	// Record the execution delta as a fill before moving the aggregate
	// figures, so the fill history explains every change in Filled.
	if ro.Filled > order.Filled {
		fill := &model.OrderFill{
			OrderID:         order.ID,
			TradeID:         fmt.Sprintf("sync-%s-%d", ro.ExchangeOrderID, r.now().UnixMilli()),
			ExchangeOrderID: ro.ExchangeOrderID,
			Price:           ro.AveragePrice,
			Amount:          ro.Filled - order.Filled,
			Cost:            decimalMul(ro.AveragePrice, ro.Filled-order.Filled),
			Side:            order.Side,
			Liquidity:       model.LiquidityTaker,
			ExecutedAt:      r.now(),
		}
		if err := r.orders.CreateFill(ctx, fill); err != nil {
			return err
		}
		result.FillsRecorded++
	}

	if ro.Filled == order.Filled && status == order.Status {
		return nil
	}

	var avg *float64
	if ro.AveragePrice > 0 {
		avg = &ro.AveragePrice
	}
	if err := r.orders.ApplyExchangeState(ctx, order.ID, status,
		ro.Filled, ro.Remaining, avg, ro.Cost, r.now()); err != nil {
		return err
	}
	result.Updated++
	return nil
}

func decimalMul(a, b float64) float64 {
	v, _ := decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Float64()
	return v
}

// PositionSyncResult reports what one SyncPositions pass did.
type PositionSyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Closed  int `json:"closed"`
}

// SyncPositions pulls the venue's position view for a connection and
// mirrors it locally: unseen nonzero positions are created, known ones get
// their mark figures refreshed, and local open positions the venue no
// longer reports are closed.
func (r *Reconciler) SyncPositions(ctx context.Context, userID, tenantID, connectionID uint) (*PositionSyncResult, error) {
	creds, err := r.creds.Credentials(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	lease, err := r.pool.AcquireRestClient(creds)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	remote, err := lease.Client().FetchPositions(ctx, nil)
	if err != nil {
		return nil, err
	}

	result := &PositionSyncResult{}
	remoteBySymbol := make(map[string]exchange.PositionInfo, len(remote))
	for _, p := range remote {
		remoteBySymbol[p.Symbol] = p
	}

	for symbol, rp := range remoteBySymbol {
		if rp.Contracts == 0 {
			continue
		}

		local, err := r.positions.FindOpenBySymbol(ctx, connectionID, symbol)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "Reconciler",
				"symbol":    symbol,
			}).WithError(err).Error("failed to load local position")
			continue
		}

		if local == nil {
			entryAt := r.now()
			position := &model.Position{
				TenantID:         tenantID,
				UserID:           userID,
				ConnectionID:     connectionID,
				Symbol:           symbol,
				Side:             rp.Side,
				Contracts:        rp.Contracts,
				Leverage:         rp.Leverage,
				Collateral:       rp.Collateral,
				EntryPrice:       rp.EntryPrice,
				EntryAt:          &entryAt,
				MarkPrice:        rp.MarkPrice,
				LiquidationPrice: rp.LiquidationPrice,
				UnrealizedPnl:    rp.UnrealizedPnl,
				Percentage:       rp.Percentage,
				Status:           model.PositionStatusOpen,
			}
			if err := r.positions.Create(ctx, position); err != nil {
				logger.WithFields(map[string]interface{}{
					"component": "Reconciler",
					"symbol":    symbol,
				}).WithError(err).Error("failed to create position from exchange state")
				continue
			}
			result.Created++
			continue
		}

		if err := r.positions.UpdateMark(ctx, local.ID,
			rp.Contracts, rp.MarkPrice, rp.LiquidationPrice, rp.UnrealizedPnl, rp.Percentage); err != nil {
			logger.WithFields(map[string]interface{}{
				"component":   "Reconciler",
				"position_id": local.ID,
			}).WithError(err).Error("failed to refresh position mark")
			continue
		}
		result.Updated++
	}

	// Close whatever the venue no longer reports. The last unrealized
	// figure rolls into the realized result at close.
	localOpen, err := r.positions.FindOpenByConnection(ctx, connectionID)
	if err != nil {
		return result, err
	}
	for i := range localOpen {
		rp, ok := remoteBySymbol[localOpen[i].Symbol]
		if ok && rp.Contracts != 0 {
			continue
		}
		realized := localOpen[i].RealizedPnl + localOpen[i].UnrealizedPnl
		if err := r.positions.Close(ctx, localOpen[i].ID, realized, r.now()); err != nil {
			logger.WithFields(map[string]interface{}{
				"component":   "Reconciler",
				"position_id": localOpen[i].ID,
			}).WithError(err).Error("failed to close position")
			continue
		}
		result.Closed++
	}

	logger.WithFields(map[string]interface{}{
		"component":     "Reconciler",
		"connection_id": connectionID,
		"created":       result.Created,
		"updated":       result.Updated,
		"closed":        result.Closed,
	}).Info("position sync pass completed")

	return result, nil
}

// PositionStatistics summarizes a user's position book.
type PositionStatistics struct {
	OpenCount     int     `json:"open_count"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	ClosedCount   int64   `json:"closed_count"`
	Wins          int64   `json:"wins"`
	Losses        int64   `json:"losses"`
	WinRate       float64 `json:"win_rate"`
	RealizedPnl   float64 `json:"realized_pnl"`
}

// GetPositionStatistics aggregates open exposure and closed outcomes.
func (r *Reconciler) GetPositionStatistics(ctx context.Context, userID, tenantID uint) (*PositionStatistics, error) {
	open, err := r.positions.FindByUser(ctx, userID, tenantID, model.PositionStatusOpen)
	if err != nil {
		return nil, err
	}
	closed, err := r.positions.SumClosed(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &PositionStatistics{
		OpenCount:   len(open),
		ClosedCount: closed.Total,
		Wins:        closed.Wins,
		Losses:      closed.Losses,
		RealizedPnl: closed.RealizedPnl,
	}
	for i := range open {
		stats.UnrealizedPnl += open[i].UnrealizedPnl
	}

	decided := closed.Wins + closed.Losses
	if decided > 0 {
		rate, _ := decimal.NewFromInt(closed.Wins).
			Div(decimal.NewFromInt(decided)).Round(6).Float64()
		stats.WinRate = rate
	}

	return stats, nil
}
