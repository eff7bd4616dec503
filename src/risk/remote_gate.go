package risk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"tradedesk/src/apperror"
)

const (
	remoteRetryBaseDelay  = 500 * time.Millisecond
	remoteRetryMaxBackoff = 8 * time.Second
)

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	return r.StatusCode() >= http.StatusInternalServerError ||
		r.StatusCode() == http.StatusTooManyRequests
}

// RemoteGate delegates trade approval to an external risk service over
// HTTP. The service answers POST /v1/trades/validate with a Decision body.
type RemoteGate struct {
	httpClient *resty.Client
}

func NewRemoteGate(cfg Config) *RemoteGate {
	httpClient := resty.New().
		SetBaseURL(cfg.RemoteURL).
		SetTimeout(cfg.RemoteTimeout).
		SetRetryCount(cfg.RemoteRetryCount).
		SetRetryWaitTime(remoteRetryBaseDelay).
		SetRetryMaxWaitTime(remoteRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RemoteGate{httpClient: httpClient}
}

type remoteCheckRequest struct {
	UserID   uint       `json:"user_id"`
	TenantID uint       `json:"tenant_id"`
	Trade    TradeCheck `json:"trade"`
}

func (g *RemoteGate) ValidateTrade(ctx context.Context, userID, tenantID uint, check TradeCheck) (*Decision, error) {
	var decision Decision

	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(remoteCheckRequest{UserID: userID, TenantID: tenantID, Trade: check}).
		SetResult(&decision).
		Post("/v1/trades/validate")
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "RemoteGate",
			"symbol":    check.Symbol,
		}).WithError(err).Error("risk service unreachable")
		return nil, apperror.Wrap(apperror.KindConnectionError, "risk service unreachable", err)
	}
	if resp.IsError() {
		return nil, apperror.Ef(apperror.KindConnectionError,
			"risk service returned status %d: %s", resp.StatusCode(), resp.String())
	}

	return &decision, nil
}

// ChainGate runs gates in order and returns the first blocking decision.
// Warnings accumulate across gates.
type ChainGate struct {
	gates []Gate
}

func NewChainGate(gates ...Gate) *ChainGate {
	return &ChainGate{gates: gates}
}

func (g *ChainGate) ValidateTrade(ctx context.Context, userID, tenantID uint, check TradeCheck) (*Decision, error) {
	combined := &Decision{Allowed: true}
	for i, gate := range g.gates {
		decision, err := gate.ValidateTrade(ctx, userID, tenantID, check)
		if err != nil {
			return nil, fmt.Errorf("gate %d: %w", i, err)
		}
		combined.Warnings = append(combined.Warnings, decision.Warnings...)
		if !decision.Allowed {
			combined.Allowed = false
			combined.Violations = decision.Violations
			return combined, nil
		}
	}
	return combined, nil
}
