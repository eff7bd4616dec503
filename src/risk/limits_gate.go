package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradedesk/src/apperror"
)

// LimitsGate enforces static per-order limits: a maximum quantity, a
// maximum notional, and an optional symbol allowlist. A zero limit means
// unlimited.
type LimitsGate struct {
	maxQty      decimal.Decimal
	maxNotional decimal.Decimal
	symbols     map[string]struct{}
}

func NewLimitsGate(cfg Config) (*LimitsGate, error) {
	maxQty, err := decimal.NewFromString(cfg.MaxOrderQty)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInvalidRequest, "invalid RISK_MAX_ORDER_QTY", err)
	}
	maxNotional, err := decimal.NewFromString(cfg.MaxOrderNotional)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInvalidRequest, "invalid RISK_MAX_ORDER_NOTIONAL", err)
	}

	g := &LimitsGate{maxQty: maxQty, maxNotional: maxNotional}
	if len(cfg.AllowedSymbols) > 0 {
		g.symbols = make(map[string]struct{}, len(cfg.AllowedSymbols))
		for _, s := range cfg.AllowedSymbols {
			g.symbols[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
		}
	}
	return g, nil
}

func (g *LimitsGate) ValidateTrade(ctx context.Context, userID, tenantID uint, check TradeCheck) (*Decision, error) {
	decision := &Decision{Allowed: true}

	if g.symbols != nil {
		if _, ok := g.symbols[strings.ToUpper(check.Symbol)]; !ok {
			decision.Violations = append(decision.Violations,
				fmt.Sprintf("symbol %s is not in the allowed list", check.Symbol))
		}
	}

	if g.maxQty.IsPositive() && check.Amount.GreaterThan(g.maxQty) {
		decision.Violations = append(decision.Violations,
			fmt.Sprintf("order quantity %s exceeds the maximum of %s", check.Amount, g.maxQty))
	}

	notional := check.Notional()
	if g.maxNotional.IsPositive() {
		if notional.IsPositive() && notional.GreaterThan(g.maxNotional) {
			decision.Violations = append(decision.Violations,
				fmt.Sprintf("order notional %s exceeds the maximum of %s", notional, g.maxNotional))
		}
		if notional.IsZero() {
			// Market orders carry no reference price, so the notional
			// limit cannot be enforced pre-trade.
			decision.Warnings = append(decision.Warnings,
				"notional limit not enforced: order has no reference price")
		}
	}

	decision.Allowed = len(decision.Violations) == 0
	if !decision.Allowed {
		logger.WithFields(map[string]interface{}{
			"component": "LimitsGate",
			"userID":    userID,
			"tenantID":  tenantID,
			"symbol":    check.Symbol,
		}).Info("trade blocked by limits")
	}
	return decision, nil
}
