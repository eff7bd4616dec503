package model

import "time"

const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

const (
	PositionSideLong  = "long"
	PositionSideShort = "short"
)

// Position mirrors an open derivative exposure reported by the exchange.
// Reconciliation creates one when the exchange reports nonzero contracts
// with no local counterpart and closes it when contracts return to zero.
type Position struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	TenantID     uint   `gorm:"index" json:"tenant_id"`
	UserID       uint   `gorm:"index" json:"user_id"`
	ConnectionID uint   `gorm:"index" json:"connection_id"`
	Symbol       string `gorm:"size:100;index" json:"symbol"`

	Side       string  `gorm:"size:10" json:"side"`
	Contracts  float64 `json:"contracts"`
	Leverage   float64 `json:"leverage"`
	Collateral float64 `json:"collateral"`

	EntryPrice       float64    `json:"entry_price"`
	EntryAt          *time.Time `json:"entry_at,omitempty"`
	MarkPrice        float64    `json:"mark_price"`
	LiquidationPrice float64    `json:"liquidation_price"`

	UnrealizedPnl float64 `json:"unrealized_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
	Percentage    float64 `json:"percentage"`

	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`

	Status   string     `gorm:"size:50;not null;default:open;index" json:"status"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName allows you to control the exact table name for positions.
func (Position) TableName() string {
	return "positions"
}
