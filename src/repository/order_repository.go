package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradedesk/src/database"
	"tradedesk/src/model"
)

// OrderRepository handles read/write operations for orders and their fills.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// OrderSearchOptions narrows a Search call. Zero values mean "no filter".
type OrderSearchOptions struct {
	UserID        uint
	TenantID      uint
	ConnectionID  uint
	Symbol        string
	Strategy      string
	Statuses      []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// ---------------------------------------------------
// Order methods
// ---------------------------------------------------

// Create inserts a new order into the database.
// The given order is updated with the generated ID and timestamps.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":            "OrderRepository",
		"op":              "Create",
		"symbol":          order.Symbol,
		"side":            order.Side,
		"type":            order.Type,
		"client_order_id": order.ClientOrderID,
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// FindByIDForUser fetches a single order by its primary ID, fills
// included. The lookup is scoped to the owning user and tenant so one
// tenant can never read another tenant's orders.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByIDForUser(
	ctx context.Context,
	id uint,
	userID uint,
	tenantID uint,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Preload("Fills").
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		First(&order, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":      "OrderRepository",
				"op":        "FindByIDForUser",
				"id":        id,
				"user_id":   userID,
				"tenant_id": tenantID,
			}).Info("Order not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByIDForUser",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindByClientOrderID fetches an order by tenant and client order id.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByClientOrderID(
	ctx context.Context,
	tenantID uint,
	clientOrderID string,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND client_order_id = ?", tenantID, clientOrderID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":            "OrderRepository",
			"op":              "FindByClientOrderID",
			"tenant_id":       tenantID,
			"client_order_id": clientOrderID,
		}).WithError(err).Error("Failed to fetch order by client order id")

		return nil, err
	}

	return &order, nil
}

// FindByExchangeOrderID fetches an order by the id the exchange assigned.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByExchangeOrderID(
	ctx context.Context,
	connectionID uint,
	exchangeOrderID string,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND exchange_order_id = ?", connectionID, exchangeOrderID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":              "OrderRepository",
			"op":                "FindByExchangeOrderID",
			"connection_id":     connectionID,
			"exchange_order_id": exchangeOrderID,
		}).WithError(err).Error("Failed to fetch order by exchange order id")

		return nil, err
	}

	return &order, nil
}

// Search returns orders matching the options, newest first.
func (r *OrderRepository) Search(
	ctx context.Context,
	opts OrderSearchOptions,
) ([]model.Order, error) {

	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "OrderRepository",
		"op":    "Search",
		"limit": opts.Limit,
	}).Debug("Searching orders")

	q := r.db.WithContext(ctx).Model(&model.Order{})

	if opts.UserID != 0 {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.TenantID != 0 {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}
	if opts.ConnectionID != 0 {
		q = q.Where("connection_id = ?", opts.ConnectionID)
	}
	if opts.Symbol != "" {
		q = q.Where("symbol = ?", opts.Symbol)
	}
	if opts.Strategy != "" {
		q = q.Where("strategy = ?", opts.Strategy)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("status IN ?", opts.Statuses)
	}
	if opts.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *opts.CreatedBefore)
	}

	var orders []model.Order

	err := q.Order("created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search orders")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "Search",
		"rows_return": len(orders),
	}).Debug("Orders fetched")

	return orders, nil
}

// FindNonTerminal returns every order of a user that can still change on
// the exchange side.
func (r *OrderRepository) FindNonTerminal(
	ctx context.Context,
	userID uint,
	tenantID uint,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND status IN ?",
			userID, tenantID,
			[]string{model.OrderStatusPending, model.OrderStatusOpen, model.OrderStatusPartiallyFilled}).
		Order("created_at DESC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "OrderRepository",
			"op":        "FindNonTerminal",
			"user_id":   userID,
			"tenant_id": tenantID,
		}).WithError(err).Error("Failed to fetch non-terminal orders")

		return nil, err
	}

	return orders, nil
}

// FindOpenByConnection returns the orders of a connection that are open
// or partially filled on the exchange.
func (r *OrderRepository) FindOpenByConnection(
	ctx context.Context,
	connectionID uint,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND status IN ?",
			connectionID,
			[]string{model.OrderStatusOpen, model.OrderStatusPartiallyFilled}).
		Order("created_at DESC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":          "OrderRepository",
			"op":            "FindOpenByConnection",
			"connection_id": connectionID,
		}).WithError(err).Error("Failed to fetch open orders for connection")

		return nil, err
	}

	return orders, nil
}

// Update persists the mutable pre-submission fields of an order.
func (r *OrderRepository) Update(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Update",
		"order_id": order.ID,
	}).Debug("Updating order")

	err := r.db.WithContext(ctx).Save(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "Update",
			"order_id": order.ID,
		}).WithError(err).Error("Failed to update order")

		return err
	}

	return nil
}

// UpdateSubmission records the result of handing an order to the exchange.
func (r *OrderRepository) UpdateSubmission(
	ctx context.Context,
	id uint,
	exchangeOrderID string,
	status string,
	raw string,
	submittedAt time.Time,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":              "OrderRepository",
		"op":                "UpdateSubmission",
		"order_id":          id,
		"exchange_order_id": exchangeOrderID,
		"status":            status,
	}).Debug("Recording order submission")

	updates := map[string]interface{}{
		"status":       status,
		"submitted_at": submittedAt,
	}
	if exchangeOrderID != "" {
		updates["exchange_order_id"] = exchangeOrderID
	}
	if raw != "" {
		updates["exchange_response"] = raw
	}

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "UpdateSubmission",
			"order_id": id,
		}).WithError(err).Error("Failed to record order submission")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "UpdateSubmission",
		"order_id": id,
		"status":   status,
	}).Info("Order submission recorded")

	return nil
}

// MarkRejected moves an order to rejected and appends the reason to its notes.
func (r *OrderRepository) MarkRejected(
	ctx context.Context,
	id uint,
	reason string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "MarkRejected",
		"order_id": id,
		"reason":   reason,
	}).Info("Marking order rejected")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order

		if err := tx.First(&order, id).Error; err != nil {
			logger.WithError(err).Error("Failed to load order inside transaction")
			return err
		}

		notes := order.Notes
		if notes != "" {
			notes += "; "
		}
		notes += reason

		err := tx.Model(&model.Order{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status": model.OrderStatusRejected,
				"notes":  notes,
			}).Error

		if err != nil {
			logger.WithError(err).Error("Failed to mark order rejected inside transaction")
			return err
		}

		return nil
	})
}

// ApplyExchangeState writes the execution fields reported by the exchange
// onto the local order, setting timestamps when a terminal state is reached.
func (r *OrderRepository) ApplyExchangeState(
	ctx context.Context,
	id uint,
	status string,
	filled float64,
	remaining float64,
	averageFillPrice *float64,
	cost float64,
	at time.Time,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "ApplyExchangeState",
		"order_id": id,
		"status":   status,
		"filled":   filled,
	}).Debug("Applying exchange state to order")

	updates := map[string]interface{}{
		"status":    status,
		"filled":    filled,
		"remaining": remaining,
		"cost":      cost,
	}
	if averageFillPrice != nil {
		updates["average_fill_price"] = *averageFillPrice
	}
	switch status {
	case model.OrderStatusFilled:
		updates["filled_at"] = at
	case model.OrderStatusCanceled:
		updates["canceled_at"] = at
	}

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "ApplyExchangeState",
			"order_id": id,
		}).WithError(err).Error("Failed to apply exchange state")

		return err
	}

	return nil
}

// ---------------------------------------------------
// OrderFill methods
// ---------------------------------------------------

// CreateFill appends one execution record to an order. Fills are never
// updated after insertion.
func (r *OrderRepository) CreateFill(
	ctx context.Context,
	fill *model.OrderFill,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "CreateFill",
		"order_id": fill.OrderID,
		"trade_id": fill.TradeID,
	}).Debug("Creating order fill")

	err := r.db.WithContext(ctx).Create(fill).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "CreateFill",
			"order_id": fill.OrderID,
		}).WithError(err).Error("Failed to create order fill")

		return err
	}

	return nil
}

// FindFillsByOrderID returns the fills of an order, newest first.
func (r *OrderRepository) FindFillsByOrderID(
	ctx context.Context,
	orderID uint,
) ([]model.OrderFill, error) {

	var fills []model.OrderFill

	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("executed_at DESC").
		Find(&fills).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "FindFillsByOrderID",
			"order_id": orderID,
		}).WithError(err).Error("Failed to fetch order fills")

		return nil, err
	}

	return fills, nil
}

// ---------------------------------------------------
// Aggregates
// ---------------------------------------------------

// StatusCount is one row of the per-status breakdown.
type StatusCount struct {
	Status string
	Count  int64
}

// OrderTotals are the summed execution figures over a set of orders.
type OrderTotals struct {
	Total       int64
	TotalAmount float64
	TotalFilled float64
	TotalCost   float64
	TotalFees   float64
}

// CountByStatus groups a user's orders by status.
func (r *OrderRepository) CountByStatus(
	ctx context.Context,
	userID uint,
	tenantID uint,
) ([]StatusCount, error) {

	var rows []StatusCount

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Select("status, COUNT(*) as count").
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Group("status").
		Scan(&rows).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "OrderRepository",
			"op":        "CountByStatus",
			"user_id":   userID,
			"tenant_id": tenantID,
		}).WithError(err).Error("Failed to count orders by status")

		return nil, err
	}

	return rows, nil
}

// SumTotals aggregates amount, filled, cost and fee figures for a user.
func (r *OrderRepository) SumTotals(
	ctx context.Context,
	userID uint,
	tenantID uint,
) (*OrderTotals, error) {

	var totals OrderTotals

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Select("COUNT(*) as total, " +
			"COALESCE(SUM(amount), 0) as total_amount, " +
			"COALESCE(SUM(filled), 0) as total_filled, " +
			"COALESCE(SUM(cost), 0) as total_cost, " +
			"COALESCE(SUM(fee_cost), 0) as total_fees").
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Scan(&totals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "OrderRepository",
			"op":        "SumTotals",
			"user_id":   userID,
			"tenant_id": tenantID,
		}).WithError(err).Error("Failed to sum order totals")

		return nil, err
	}

	return &totals, nil
}
