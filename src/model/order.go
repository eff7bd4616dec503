package model

import "time"

// Order lifecycle statuses. pending means persisted locally but not yet
// acknowledged by the exchange.
const (
	OrderStatusPending         = "pending"
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
)

// Order types. The *_limit variants carry a limit price in addition to
// their trigger.
const (
	OrderTypeMarket            = "market"
	OrderTypeLimit             = "limit"
	OrderTypeStopLoss          = "stop_loss"
	OrderTypeStopLossLimit     = "stop_loss_limit"
	OrderTypeTakeProfit        = "take_profit"
	OrderTypeTakeProfitLimit   = "take_profit_limit"
	OrderTypeTrailingStop      = "trailing_stop"
	OrderTypeTrailingStopLimit = "trailing_stop_limit"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

const (
	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
	TimeInForceFOK = "FOK"
)

// Order is a trading order this system originated. The local row is the
// source of truth for origination; the exchange is the source of truth
// for execution state.
type Order struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	TenantID     uint   `gorm:"index;uniqueIndex:idx_orders_tenant_client_oid,priority:1" json:"tenant_id"`
	UserID       uint   `gorm:"index" json:"user_id"`
	ConnectionID uint   `gorm:"index" json:"connection_id"`
	Exchange     string `gorm:"size:50;index" json:"exchange"`
	Symbol       string `gorm:"size:100;index" json:"symbol"`

	// ClientOrderID is generated locally and unique per tenant, so a
	// resubmission cannot duplicate the order on the exchange.
	ClientOrderID   string  `gorm:"size:64;uniqueIndex:idx_orders_tenant_client_oid,priority:2" json:"client_order_id"`
	ExchangeOrderID *string `gorm:"size:255;index" json:"exchange_order_id,omitempty"`

	Type            string   `gorm:"size:50;not null" json:"type"`
	Side            string   `gorm:"size:10;not null" json:"side"`
	TimeInForce     string   `gorm:"size:10" json:"time_in_force,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	StopPrice       *float64 `json:"stop_price,omitempty"`
	TrailingDelta   *float64 `json:"trailing_delta,omitempty"`
	TrailingPercent *float64 `json:"trailing_percent,omitempty"`

	Amount           float64  `json:"amount"`
	Filled           float64  `json:"filled"`
	Remaining        float64  `json:"remaining"`
	AverageFillPrice *float64 `json:"average_fill_price,omitempty"`
	Cost             float64  `json:"cost"`
	FeeCost          float64  `json:"fee_cost"`
	FeeCurrency      string   `gorm:"size:20" json:"fee_currency,omitempty"`

	ReduceOnly bool `json:"reduce_only"`
	PostOnly   bool `json:"post_only"`

	Strategy string `gorm:"size:100;index" json:"strategy,omitempty"`
	Notes    string `gorm:"type:text" json:"notes,omitempty"`

	Status string `gorm:"size:50;not null;default:pending;index" json:"status"`

	// Raw acknowledgment from the exchange, kept for audit.
	ExchangeResponse string `gorm:"type:text" json:"exchange_response,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Fills []OrderFill `gorm:"foreignKey:OrderID" json:"fills,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// IsTerminal reports whether the order reached a final, immutable state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// CanUpdate reports whether economic fields may still be patched.
func (o *Order) CanUpdate() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusOpen
}

// CanCancel reports whether a cancel request is permitted in the current
// lifecycle state.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// RequiresPrice reports whether the order type belongs to the limit family.
func RequiresPrice(orderType string) bool {
	switch orderType {
	case OrderTypeLimit, OrderTypeStopLossLimit, OrderTypeTakeProfitLimit, OrderTypeTrailingStopLimit:
		return true
	}
	return false
}

// RequiresStopPrice reports whether the order type belongs to the stop or
// take-profit families.
func RequiresStopPrice(orderType string) bool {
	switch orderType {
	case OrderTypeStopLoss, OrderTypeStopLossLimit, OrderTypeTakeProfit, OrderTypeTakeProfitLimit:
		return true
	}
	return false
}

// RequiresTrailing reports whether the order type is a trailing variant.
func RequiresTrailing(orderType string) bool {
	return orderType == OrderTypeTrailingStop || orderType == OrderTypeTrailingStopLimit
}

// KnownOrderType reports whether orderType is one of the supported types.
func KnownOrderType(orderType string) bool {
	switch orderType {
	case OrderTypeMarket, OrderTypeLimit,
		OrderTypeStopLoss, OrderTypeStopLossLimit,
		OrderTypeTakeProfit, OrderTypeTakeProfitLimit,
		OrderTypeTrailingStop, OrderTypeTrailingStopLimit:
		return true
	}
	return false
}
