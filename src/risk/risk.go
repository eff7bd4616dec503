package risk

import (
	"context"

	"github.com/shopspring/decimal"
)

// TradeCheck describes an intended trade submitted for pre-trade approval.
type TradeCheck struct {
	Exchange string          `json:"exchange"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
	Strategy string          `json:"strategy,omitempty"`
}

// Notional is amount * price; zero when no price is known (market orders
// without a reference price).
func (t TradeCheck) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

// Decision is the outcome of a risk check. Violations block the trade,
// warnings do not.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Gate approves or rejects trades before they reach an exchange.
type Gate interface {
	ValidateTrade(ctx context.Context, userID, tenantID uint, check TradeCheck) (*Decision, error)
}
