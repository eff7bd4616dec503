package service

import (
	"context"
	"time"

	"tradedesk/src/exchange"
	"tradedesk/src/model"
	"tradedesk/src/pool"
	"tradedesk/src/repository"
	"tradedesk/src/risk"
	"tradedesk/src/security"
)

// OrderStore is the persistence surface the order service needs. It is
// satisfied by repository.OrderRepository.
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	FindByIDForUser(ctx context.Context, id, userID, tenantID uint) (*model.Order, error)
	FindByClientOrderID(ctx context.Context, tenantID uint, clientOrderID string) (*model.Order, error)
	Search(ctx context.Context, opts repository.OrderSearchOptions) ([]model.Order, error)
	FindNonTerminal(ctx context.Context, userID, tenantID uint) ([]model.Order, error)
	FindOpenByConnection(ctx context.Context, connectionID uint) ([]model.Order, error)
	Update(ctx context.Context, order *model.Order) error
	UpdateSubmission(ctx context.Context, id uint, exchangeOrderID, status, raw string, submittedAt time.Time) error
	MarkRejected(ctx context.Context, id uint, reason string) error
	ApplyExchangeState(ctx context.Context, id uint, status string, filled, remaining float64, averageFillPrice *float64, cost float64, at time.Time) error
	CreateFill(ctx context.Context, fill *model.OrderFill) error
	FindFillsByOrderID(ctx context.Context, orderID uint) ([]model.OrderFill, error)
	CountByStatus(ctx context.Context, userID, tenantID uint) ([]repository.StatusCount, error)
	SumTotals(ctx context.Context, userID, tenantID uint) (*repository.OrderTotals, error)
}

// PositionStore is satisfied by repository.PositionRepository.
type PositionStore interface {
	Create(ctx context.Context, position *model.Position) error
	FindOpenBySymbol(ctx context.Context, connectionID uint, symbol string) (*model.Position, error)
	FindOpenByConnection(ctx context.Context, connectionID uint) ([]model.Position, error)
	FindByUser(ctx context.Context, userID, tenantID uint, status string) ([]model.Position, error)
	UpdateMark(ctx context.Context, id uint, contracts, markPrice, liquidationPrice, unrealizedPnl, percentage float64) error
	Close(ctx context.Context, id uint, realizedPnl float64, closedAt time.Time) error
	SumClosed(ctx context.Context, userID, tenantID uint) (*repository.PositionTotals, error)
}

// ExceptionStore is satisfied by repository.ExceptionRepository.
type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// CredentialSource resolves decrypted key material for a stored
// connection. It is satisfied by repository.ConnectionRepository.
type CredentialSource interface {
	Credentials(ctx context.Context, connectionID uint) (security.Credentials, error)
}

// RestLease is a held, releasable exchange client.
type RestLease interface {
	Client() exchange.Client
	Release()
}

// ClientPool leases REST clients by credential set.
type ClientPool interface {
	AcquireRestClient(creds security.Credentials) (RestLease, error)
}

type poolLeaser struct {
	pool *pool.ConnectionPool
}

func (p poolLeaser) AcquireRestClient(creds security.Credentials) (RestLease, error) {
	handle, err := p.pool.AcquireRestClient(creds)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// PoolLeaser adapts a ConnectionPool to the narrow ClientPool surface.
func PoolLeaser(p *pool.ConnectionPool) ClientPool {
	return poolLeaser{pool: p}
}

// Gate re-exports the risk gate contract for wiring convenience.
type Gate = risk.Gate
