package model

import "time"

const (
	LiquidityTaker = "taker"
	LiquidityMaker = "maker"
)

// OrderFill is a single execution against an order. Fills are append-only:
// they are created from exchange data and never updated or deleted.
type OrderFill struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	OrderID uint `gorm:"index" json:"order_id"`

	TradeID         string `gorm:"size:255;index" json:"trade_id"`
	ExchangeOrderID string `gorm:"size:255" json:"exchange_order_id"`

	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Cost   float64 `json:"cost"`
	Side   string  `gorm:"size:10" json:"side"`

	// taker or maker
	Liquidity   string  `gorm:"size:10" json:"liquidity"`
	FeeCost     float64 `json:"fee_cost"`
	FeeCurrency string  `gorm:"size:20" json:"fee_currency,omitempty"`

	ExecutedAt time.Time `gorm:"index" json:"executed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName allows you to control the exact table name for fills.
func (OrderFill) TableName() string {
	return "order_fills"
}
