package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradedesk/src/apperror"
	"tradedesk/src/exchange"
	"tradedesk/src/model"
	"tradedesk/src/repository"
	"tradedesk/src/risk"
)

const submitTimeout = 30 * time.Second

// OrderService owns the order lifecycle: validation, risk approval, local
// persistence and asynchronous hand-off to the exchange. The local store
// is the origination authority; the exchange remains the execution
// authority, so exchange-reported state is only merged in afterwards by
// the reconciler.
type OrderService struct {
	orders     OrderStore
	exceptions ExceptionStore
	creds      CredentialSource
	pool       ClientPool
	gate       Gate

	// reconciler serves the sync surface when order intake and
	// reconciliation run in one process. Optional.
	reconciler *Reconciler

	now        func() time.Time
	newOrderID func() string

	submitWG sync.WaitGroup
}

// NewOrderService wires an order service from its collaborators. gate may
// be nil, in which case every trade is admitted.
func NewOrderService(
	orders OrderStore,
	exceptions ExceptionStore,
	creds CredentialSource,
	clientPool ClientPool,
	gate Gate,
) *OrderService {
	return &OrderService{
		orders:     orders,
		exceptions: exceptions,
		creds:      creds,
		pool:       clientPool,
		gate:       gate,
		now:        time.Now,
		newOrderID: uuid.NewString,
	}
}

// WithClock overrides the time source. Useful for tests.
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// WithReconciler attaches a reconciler so SyncOrders can be served from
// the order service.
func (s *OrderService) WithReconciler(r *Reconciler) *OrderService {
	s.reconciler = r
	return s
}

// SyncOrders runs one reconciliation pass for the user's connection.
func (s *OrderService) SyncOrders(ctx context.Context, userID, tenantID, connectionID uint) (*OrderSyncResult, error) {
	if s.reconciler == nil {
		return nil, apperror.E(apperror.KindUnsupportedOperation,
			"order synchronization is not wired in this process")
	}

	logger.WithFields(map[string]interface{}{
		"component":     "OrderService",
		"user_id":       userID,
		"tenant_id":     tenantID,
		"connection_id": connectionID,
	}).Info("running order sync")

	return s.reconciler.SyncOrders(ctx, connectionID)
}

// WaitSubmissions blocks until every in-flight exchange submission has
// settled. Tests and graceful shutdown use it.
func (s *OrderService) WaitSubmissions() {
	s.submitWG.Wait()
}

// CreateOrderInput is the request to originate a new order.
type CreateOrderInput struct {
	UserID       uint
	TenantID     uint
	ConnectionID uint
	Exchange     string
	Symbol       string
	Type         string
	Side         string
	TimeInForce  string

	Amount          float64
	Price           *float64
	StopPrice       *float64
	TrailingDelta   *float64
	TrailingPercent *float64

	ReduceOnly bool
	PostOnly   bool
	Strategy   string
	Notes      string

	// ClientOrderID is generated when empty.
	ClientOrderID string
}

func validateCreateInput(in CreateOrderInput) []string {
	var violations []string

	if in.ConnectionID == 0 {
		violations = append(violations, "connection id is required")
	}
	if in.Symbol == "" {
		violations = append(violations, "symbol is required")
	}
	if !model.KnownOrderType(in.Type) {
		violations = append(violations, fmt.Sprintf("unknown order type %q", in.Type))
	}
	if in.Side != model.OrderSideBuy && in.Side != model.OrderSideSell {
		violations = append(violations, fmt.Sprintf("side must be buy or sell, got %q", in.Side))
	}
	if in.Amount <= 0 {
		violations = append(violations, "amount must be positive")
	}

	if model.RequiresPrice(in.Type) && (in.Price == nil || *in.Price <= 0) {
		violations = append(violations, fmt.Sprintf("order type %s requires a positive price", in.Type))
	}
	if model.RequiresStopPrice(in.Type) && (in.StopPrice == nil || *in.StopPrice <= 0) {
		violations = append(violations, fmt.Sprintf("order type %s requires a positive stop price", in.Type))
	}
	if model.RequiresTrailing(in.Type) {
		hasDelta := in.TrailingDelta != nil && *in.TrailingDelta > 0
		hasPercent := in.TrailingPercent != nil && *in.TrailingPercent > 0
		if hasDelta == hasPercent {
			violations = append(violations,
				fmt.Sprintf("order type %s requires exactly one of trailing delta or trailing percent", in.Type))
		}
	}

	return violations
}

// CreateOrder validates and risk-checks the request, persists the order as
// pending, and hands it to the exchange asynchronously. The returned order
// reflects the persisted pending state; the submission outcome lands via
// UpdateSubmission or MarkRejected.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {

	if violations := validateCreateInput(in); len(violations) > 0 {
		return nil, apperror.WithViolations(apperror.KindInvalidRequest,
			"order validation failed", violations)
	}

	if s.gate != nil {
		refPrice := 0.0
		if in.Price != nil {
			refPrice = *in.Price
		} else if in.StopPrice != nil {
			refPrice = *in.StopPrice
		}

		decision, err := s.gate.ValidateTrade(ctx, in.UserID, in.TenantID, risk.TradeCheck{
			Exchange: in.Exchange,
			Symbol:   in.Symbol,
			Side:     in.Side,
			Type:     in.Type,
			Amount:   decimal.NewFromFloat(in.Amount),
			Price:    decimal.NewFromFloat(refPrice),
			Strategy: in.Strategy,
		})
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, apperror.WithViolations(apperror.KindRiskRejected,
				"trade rejected by risk gate", decision.Violations)
		}
		for _, w := range decision.Warnings {
			logger.WithFields(map[string]interface{}{
				"component": "OrderService",
				"symbol":    in.Symbol,
			}).Warn(w)
		}
	}

	// A caller-supplied client order id makes creation idempotent: a
	// resubmission returns the original order instead of duplicating it.
	clientOrderID := in.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = s.newOrderID()
	} else {
		existing, err := s.orders.FindByClientOrderID(ctx, in.TenantID, clientOrderID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.WithFields(map[string]interface{}{
				"component":       "OrderService",
				"client_order_id": clientOrderID,
				"order_id":        existing.ID,
			}).Info("duplicate client order id, returning existing order")
			return existing, nil
		}
	}

	order := &model.Order{
		TenantID:        in.TenantID,
		UserID:          in.UserID,
		ConnectionID:    in.ConnectionID,
		Exchange:        in.Exchange,
		Symbol:          in.Symbol,
		ClientOrderID:   clientOrderID,
		Type:            in.Type,
		Side:            in.Side,
		TimeInForce:     in.TimeInForce,
		Price:           in.Price,
		StopPrice:       in.StopPrice,
		TrailingDelta:   in.TrailingDelta,
		TrailingPercent: in.TrailingPercent,
		Amount:          in.Amount,
		Filled:          0,
		Remaining:       in.Amount,
		ReduceOnly:      in.ReduceOnly,
		PostOnly:        in.PostOnly,
		Strategy:        in.Strategy,
		Notes:           in.Notes,
		Status:          model.OrderStatusPending,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.submitWG.Add(1)
	go s.submit(order)

	return order, nil
}

// submit performs the exchange hand-off for a freshly persisted order.
// Every failure path ends in a local rejection plus an exception record;
// nothing propagates back to the caller of CreateOrder.
func (s *OrderService) submit(order *model.Order) {
	defer s.submitWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	creds, err := s.creds.Credentials(ctx, order.ConnectionID)
	if err != nil {
		s.failSubmission(ctx, order, fmt.Errorf("resolving credentials: %w", err))
		return
	}

	lease, err := s.pool.AcquireRestClient(creds)
	if err != nil {
		s.failSubmission(ctx, order, fmt.Errorf("acquiring exchange client: %w", err))
		return
	}
	defer lease.Release()

	client := lease.Client()
	params := exchange.OrderParams{
		ClientOrderID:   order.ClientOrderID,
		TimeInForce:     order.TimeInForce,
		StopPrice:       order.StopPrice,
		TrailingDelta:   order.TrailingDelta,
		TrailingPercent: order.TrailingPercent,
		ReduceOnly:      order.ReduceOnly,
		PostOnly:        order.PostOnly,
	}

	var placed *exchange.PlacedOrder
	switch order.Type {
	case model.OrderTypeMarket:
		placed, err = client.CreateMarketOrder(ctx, order.Symbol, order.Side, order.Amount, params)
	case model.OrderTypeLimit:
		placed, err = client.CreateLimitOrder(ctx, order.Symbol, order.Side, order.Amount, *order.Price, params)
	default:
		placed, err = client.CreateOrder(ctx, order.Symbol, order.Type, order.Side, order.Amount, order.Price, params)
	}
	if err != nil {
		s.failSubmission(ctx, order, err)
		return
	}

	status := placed.Status
	if status == "" {
		status = model.OrderStatusOpen
	}

	if err := s.orders.UpdateSubmission(ctx, order.ID, placed.ExchangeOrderID, status, placed.Raw, s.now()); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "OrderService",
			"order_id":  order.ID,
		}).WithError(err).Error("failed to record submission result")
		return
	}

	// Some venues report an immediate (partial) execution in the ack.
	if placed.Filled > 0 {
		var avg *float64
		if placed.AveragePrice > 0 {
			avg = &placed.AveragePrice
		}
		if err := s.orders.ApplyExchangeState(ctx, order.ID, status,
			placed.Filled, placed.Remaining, avg, placed.Cost, s.now()); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "OrderService",
				"order_id":  order.ID,
			}).WithError(err).Error("failed to apply immediate execution state")
		}
	}

	logger.WithFields(map[string]interface{}{
		"component":         "OrderService",
		"order_id":          order.ID,
		"exchange_order_id": placed.ExchangeOrderID,
		"status":            status,
	}).Info("order submitted to exchange")
}

func (s *OrderService) failSubmission(ctx context.Context, order *model.Order, cause error) {
	logger.WithFields(map[string]interface{}{
		"component": "OrderService",
		"order_id":  order.ID,
		"symbol":    order.Symbol,
	}).WithError(cause).Error("order submission failed")

	if err := s.orders.MarkRejected(ctx, order.ID, cause.Error()); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "OrderService",
			"order_id":  order.ID,
		}).WithError(err).Error("failed to mark order rejected")
	}

	if s.exceptions != nil {
		exc := &model.Exception{
			Service: "tradedesk",
			Module:  "service",
			Method:  "submit",
			Message: cause.Error(),
			Level:   "error",
			Context: fmt.Sprintf("order_id=%d connection_id=%d symbol=%s", order.ID, order.ConnectionID, order.Symbol),
		}
		if err := s.exceptions.Create(ctx, exc); err != nil {
			logger.WithError(err).Error("failed to persist submission exception")
		}
	}
}

// BatchItem is the per-request outcome of a batch creation.
type BatchItem struct {
	Order *model.Order `json:"order,omitempty"`
	Error string       `json:"error,omitempty"`
}

// BatchResult aggregates a batch creation. Individual failures never abort
// the batch.
type BatchResult struct {
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Results []BatchItem `json:"results"`
}

// CreateBatchOrders creates the given orders sequentially. Each request
// fails or succeeds on its own; the result carries one entry per input in
// order.
func (s *OrderService) CreateBatchOrders(ctx context.Context, inputs []CreateOrderInput) *BatchResult {
	result := &BatchResult{Results: make([]BatchItem, 0, len(inputs))}

	for _, in := range inputs {
		order, err := s.CreateOrder(ctx, in)
		if err != nil {
			result.Failed++
			result.Results = append(result.Results, BatchItem{Error: err.Error()})
			continue
		}
		result.Success++
		result.Results = append(result.Results, BatchItem{Order: order})
	}

	return result
}

// GetOrder fetches one of the user's orders with its fills.
func (s *OrderService) GetOrder(ctx context.Context, id, userID, tenantID uint) (*model.Order, error) {
	order, err := s.orders.FindByIDForUser(ctx, id, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperror.Ef(apperror.KindNotFound, "order %d not found", id)
	}
	return order, nil
}

// GetOrders searches orders, newest first.
func (s *OrderService) GetOrders(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error) {
	return s.orders.Search(ctx, opts)
}

// GetOrderFills returns an order's fills, newest first.
func (s *OrderService) GetOrderFills(ctx context.Context, orderID, userID, tenantID uint) ([]model.OrderFill, error) {
	order, err := s.orders.FindByIDForUser(ctx, orderID, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperror.Ef(apperror.KindNotFound, "order %d not found", orderID)
	}
	return s.orders.FindFillsByOrderID(ctx, orderID)
}

// UpdateOrderInput is the patch allowed on a not-yet-executed order. Nil
// fields stay untouched.
type UpdateOrderInput struct {
	Price           *float64
	StopPrice       *float64
	Amount          *float64
	TrailingDelta   *float64
	TrailingPercent *float64
}

// UpdateOrder amends price, stop price, amount or trailing trigger of a
// pending or open order. Orders that started executing can only be
// canceled and replaced.
func (s *OrderService) UpdateOrder(ctx context.Context, id, userID, tenantID uint, patch UpdateOrderInput) (*model.Order, error) {
	order, err := s.orders.FindByIDForUser(ctx, id, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperror.Ef(apperror.KindNotFound, "order %d not found", id)
	}
	if !order.CanUpdate() {
		return nil, apperror.Ef(apperror.KindInvalidState,
			"order %d is %s and can no longer be updated", id, order.Status)
	}

	if patch.Price != nil {
		if *patch.Price <= 0 {
			return nil, apperror.E(apperror.KindInvalidRequest, "price must be positive")
		}
		order.Price = patch.Price
	}
	if patch.StopPrice != nil {
		if *patch.StopPrice <= 0 {
			return nil, apperror.E(apperror.KindInvalidRequest, "stop price must be positive")
		}
		order.StopPrice = patch.StopPrice
	}
	if patch.Amount != nil {
		if *patch.Amount <= 0 {
			return nil, apperror.E(apperror.KindInvalidRequest, "amount must be positive")
		}
		if *patch.Amount < order.Filled {
			return nil, apperror.Ef(apperror.KindInvalidRequest,
				"amount %.8f is below the filled quantity %.8f", *patch.Amount, order.Filled)
		}
		order.Amount = *patch.Amount
		order.Remaining = order.Amount - order.Filled
	}
	if patch.TrailingDelta != nil {
		if *patch.TrailingDelta <= 0 {
			return nil, apperror.E(apperror.KindInvalidRequest, "trailing delta must be positive")
		}
		order.TrailingDelta = patch.TrailingDelta
	}
	if patch.TrailingPercent != nil {
		if *patch.TrailingPercent <= 0 {
			return nil, apperror.E(apperror.KindInvalidRequest, "trailing percent must be positive")
		}
		order.TrailingPercent = patch.TrailingPercent
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder cancels a local order, attempting the remote cancel first
// when the order reached the exchange. A failed remote cancel is recorded
// but never blocks the local transition; the reconciler settles any
// discrepancy on the next pass.
func (s *OrderService) CancelOrder(ctx context.Context, id, userID, tenantID uint, reason string) (*model.Order, error) {
	order, err := s.orders.FindByIDForUser(ctx, id, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperror.Ef(apperror.KindNotFound, "order %d not found", id)
	}
	if !order.CanCancel() {
		return nil, apperror.Ef(apperror.KindInvalidState,
			"order %d is %s and cannot be canceled", id, order.Status)
	}

	if order.ExchangeOrderID != nil && *order.ExchangeOrderID != "" {
		if err := s.cancelRemote(ctx, order); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "OrderService",
				"order_id":  order.ID,
			}).WithError(err).Warn("remote cancel failed, canceling locally anyway")
		}
	}

	order.Status = model.OrderStatusCanceled
	now := s.now()
	order.CanceledAt = &now
	if reason != "" {
		if order.Notes != "" {
			order.Notes += "; "
		}
		order.Notes += "canceled: " + reason
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"component": "OrderService",
		"order_id":  order.ID,
		"reason":    reason,
	}).Info("order canceled")

	return order, nil
}

func (s *OrderService) cancelRemote(ctx context.Context, order *model.Order) error {
	creds, err := s.creds.Credentials(ctx, order.ConnectionID)
	if err != nil {
		return err
	}
	lease, err := s.pool.AcquireRestClient(creds)
	if err != nil {
		return err
	}
	defer lease.Release()

	return lease.Client().CancelOrder(ctx, *order.ExchangeOrderID, order.Symbol)
}

// CancelAllOrders cancels every cancelable order of a user, optionally
// restricted to one symbol, and returns how many were canceled. Per-order
// failures are logged and skipped.
func (s *OrderService) CancelAllOrders(ctx context.Context, userID, tenantID uint, symbol string) (int, error) {
	orders, err := s.orders.FindNonTerminal(ctx, userID, tenantID)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for i := range orders {
		if !orders[i].CanCancel() {
			continue
		}
		if symbol != "" && orders[i].Symbol != symbol {
			continue
		}
		if _, err := s.CancelOrder(ctx, orders[i].ID, userID, tenantID, "cancel all"); err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "OrderService",
				"order_id":  orders[i].ID,
			}).WithError(err).Error("failed to cancel order in cancel-all")
			continue
		}
		canceled++
	}

	return canceled, nil
}

// OrderStatistics summarizes a user's order history.
type OrderStatistics struct {
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
	TotalAmount float64          `json:"total_amount"`
	TotalFilled float64          `json:"total_filled"`
	TotalCost   float64          `json:"total_cost"`
	TotalFees   float64          `json:"total_fees"`
	// FillRate is the percentage of orders that reached filled, zero when
	// there are no orders.
	FillRate float64 `json:"fill_rate"`
}

// GetOrderStatistics aggregates counts and execution totals for a user.
func (s *OrderService) GetOrderStatistics(ctx context.Context, userID, tenantID uint) (*OrderStatistics, error) {
	counts, err := s.orders.CountByStatus(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	totals, err := s.orders.SumTotals(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &OrderStatistics{
		Total:       totals.Total,
		ByStatus:    make(map[string]int64, len(counts)),
		TotalAmount: totals.TotalAmount,
		TotalFilled: totals.TotalFilled,
		TotalCost:   totals.TotalCost,
		TotalFees:   totals.TotalFees,
	}
	var filledOrders int64
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		if c.Status == model.OrderStatusFilled {
			filledOrders = c.Count
		}
	}

	if totals.Total > 0 {
		stats.FillRate, _ = decimal.NewFromInt(filledOrders).
			Div(decimal.NewFromInt(totals.Total)).
			Mul(decimal.NewFromInt(100)).
			Round(6).Float64()
	}

	return stats, nil
}
