package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradedesk/src/exchange"
	"tradedesk/src/model"
	"tradedesk/src/repository"
	"tradedesk/src/risk"
	"tradedesk/src/security"
)

// fakeOrderStore is an in-memory OrderStore. Mutations run under a mutex
// because submissions land from their own goroutines.
type fakeOrderStore struct {
	mu     sync.Mutex
	seq    uint
	orders map[uint]*model.Order
	fills  []model.OrderFill

	counts []repository.StatusCount
	totals repository.OrderTotals
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[uint]*model.Order)}
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	return &c
}

func (s *fakeOrderStore) Create(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	order.ID = s.seq
	order.CreatedAt = time.Now()
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *fakeOrderStore) FindByIDForUser(_ context.Context, id, userID, tenantID uint) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok || order.UserID != userID || order.TenantID != tenantID {
		return nil, nil
	}
	return cloneOrder(order), nil
}

func (s *fakeOrderStore) FindByClientOrderID(_ context.Context, tenantID uint, clientOrderID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.TenantID == tenantID && o.ClientOrderID == clientOrderID {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (s *fakeOrderStore) Search(_ context.Context, opts repository.OrderSearchOptions) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if opts.UserID != 0 && o.UserID != opts.UserID {
			continue
		}
		if opts.Symbol != "" && o.Symbol != opts.Symbol {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (s *fakeOrderStore) FindNonTerminal(_ context.Context, userID, tenantID uint) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID != userID || o.TenantID != tenantID {
			continue
		}
		switch o.Status {
		case model.OrderStatusPending, model.OrderStatusOpen, model.OrderStatusPartiallyFilled:
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) FindOpenByConnection(_ context.Context, connectionID uint) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.ConnectionID != connectionID {
			continue
		}
		switch o.Status {
		case model.OrderStatusOpen, model.OrderStatusPartiallyFilled:
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) Update(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return errors.New("order not persisted")
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *fakeOrderStore) UpdateSubmission(_ context.Context, id uint, exchangeOrderID, status, raw string, submittedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return errors.New("order not persisted")
	}
	if exchangeOrderID != "" {
		o.ExchangeOrderID = &exchangeOrderID
	}
	o.Status = status
	o.ExchangeResponse = raw
	o.SubmittedAt = &submittedAt
	return nil
}

func (s *fakeOrderStore) MarkRejected(_ context.Context, id uint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return errors.New("order not persisted")
	}
	o.Status = model.OrderStatusRejected
	if o.Notes != "" {
		o.Notes += "; "
	}
	o.Notes += reason
	return nil
}

func (s *fakeOrderStore) ApplyExchangeState(_ context.Context, id uint, status string, filled, remaining float64, averageFillPrice *float64, cost float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return errors.New("order not persisted")
	}
	o.Status = status
	o.Filled = filled
	o.Remaining = remaining
	if averageFillPrice != nil {
		o.AverageFillPrice = averageFillPrice
	}
	o.Cost = cost
	switch status {
	case model.OrderStatusFilled:
		o.FilledAt = &at
	case model.OrderStatusCanceled:
		o.CanceledAt = &at
	}
	return nil
}

func (s *fakeOrderStore) CreateFill(_ context.Context, fill *model.OrderFill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fill.ID = uint(len(s.fills) + 1)
	s.fills = append(s.fills, *fill)
	return nil
}

func (s *fakeOrderStore) FindFillsByOrderID(_ context.Context, orderID uint) ([]model.OrderFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderFill
	for _, f := range s.fills {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) CountByStatus(_ context.Context, _, _ uint) ([]repository.StatusCount, error) {
	return s.counts, nil
}

func (s *fakeOrderStore) SumTotals(_ context.Context, _, _ uint) (*repository.OrderTotals, error) {
	totals := s.totals
	return &totals, nil
}

func (s *fakeOrderStore) get(id uint) *model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *fakeOrderStore) fillCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fills)
}

// fakePositionStore is an in-memory PositionStore.
type fakePositionStore struct {
	mu        sync.Mutex
	seq       uint
	positions map[uint]*model.Position
	closedAgg repository.PositionTotals
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[uint]*model.Position)}
}

func (s *fakePositionStore) Create(_ context.Context, position *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	position.ID = s.seq
	c := *position
	s.positions[position.ID] = &c
	return nil
}

func (s *fakePositionStore) FindOpenBySymbol(_ context.Context, connectionID uint, symbol string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.ConnectionID == connectionID && p.Symbol == symbol && p.Status == model.PositionStatusOpen {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakePositionStore) FindOpenByConnection(_ context.Context, connectionID uint) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.ConnectionID == connectionID && p.Status == model.PositionStatusOpen {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) FindByUser(_ context.Context, userID, tenantID uint, status string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.UserID != userID || p.TenantID != tenantID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakePositionStore) UpdateMark(_ context.Context, id uint, contracts, markPrice, liquidationPrice, unrealizedPnl, percentage float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return errors.New("position not persisted")
	}
	p.Contracts = contracts
	p.MarkPrice = markPrice
	p.LiquidationPrice = liquidationPrice
	p.UnrealizedPnl = unrealizedPnl
	p.Percentage = percentage
	return nil
}

func (s *fakePositionStore) Close(_ context.Context, id uint, realizedPnl float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return errors.New("position not persisted")
	}
	p.Status = model.PositionStatusClosed
	p.Contracts = 0
	p.UnrealizedPnl = 0
	p.RealizedPnl = realizedPnl
	p.ClosedAt = &closedAt
	return nil
}

func (s *fakePositionStore) SumClosed(_ context.Context, _, _ uint) (*repository.PositionTotals, error) {
	totals := s.closedAgg
	return &totals, nil
}

func (s *fakePositionStore) get(id uint) *model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.positions[id]
	return &c
}

// fakeExceptionStore records persisted exceptions.
type fakeExceptionStore struct {
	mu   sync.Mutex
	excs []model.Exception
}

func (s *fakeExceptionStore) Create(_ context.Context, exc *model.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excs = append(s.excs, *exc)
	return nil
}

func (s *fakeExceptionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.excs)
}

// fakeCredentialSource hands out fixed credentials or a canned error.
type fakeCredentialSource struct {
	creds security.Credentials
	err   error
}

func (s *fakeCredentialSource) Credentials(_ context.Context, _ uint) (security.Credentials, error) {
	if s.err != nil {
		return security.Credentials{}, s.err
	}
	return s.creds, nil
}

// fakeExchangeClient scripts the exchange side of a test.
type fakeExchangeClient struct {
	mu sync.Mutex

	placed    *exchange.PlacedOrder
	placeErr  error
	cancelErr error

	openOrders map[string][]exchange.OpenOrder
	openErr    error

	positions    []exchange.PositionInfo
	positionsErr error

	marketCalls int
	limitCalls  int
	cancelCalls int
}

func (c *fakeExchangeClient) Name() string               { return "fake" }
func (c *fakeExchangeClient) Has() exchange.Capabilities { return exchange.Capabilities{} }

func (c *fakeExchangeClient) CreateMarketOrder(_ context.Context, _, _ string, _ float64, _ exchange.OrderParams) (*exchange.PlacedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marketCalls++
	return c.placed, c.placeErr
}

func (c *fakeExchangeClient) CreateLimitOrder(_ context.Context, _, _ string, _, _ float64, _ exchange.OrderParams) (*exchange.PlacedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limitCalls++
	return c.placed, c.placeErr
}

func (c *fakeExchangeClient) CreateOrder(_ context.Context, _, _, _ string, _ float64, _ *float64, _ exchange.OrderParams) (*exchange.PlacedOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placed, c.placeErr
}

func (c *fakeExchangeClient) CancelOrder(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCalls++
	return c.cancelErr
}

func (c *fakeExchangeClient) FetchOpenOrders(_ context.Context, symbol string) ([]exchange.OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.openOrders[symbol], nil
}

func (c *fakeExchangeClient) FetchBalance(_ context.Context) ([]exchange.Balance, error) {
	return nil, nil
}

func (c *fakeExchangeClient) FetchPositions(_ context.Context, _ []string) ([]exchange.PositionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions, c.positionsErr
}

func (c *fakeExchangeClient) FetchTicker(_ context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol}, nil
}

func (c *fakeExchangeClient) FetchTrades(_ context.Context, _ string, _ time.Time, _ int) ([]exchange.Trade, error) {
	return nil, nil
}

func (c *fakeExchangeClient) FetchOrderBook(_ context.Context, symbol string, _ int) (*exchange.OrderBook, error) {
	return &exchange.OrderBook{Symbol: symbol}, nil
}

func (c *fakeExchangeClient) FetchOHLCV(_ context.Context, _, _ string, _ time.Time, _ int) ([]exchange.Candle, error) {
	return nil, nil
}

func (c *fakeExchangeClient) cancels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCalls
}

// fakeClientPool leases one scripted client and counts releases.
type fakeClientPool struct {
	mu       sync.Mutex
	client   *fakeExchangeClient
	err      error
	acquires int
	releases int
}

type fakeLease struct {
	pool   *fakeClientPool
	client *fakeExchangeClient
}

func (l *fakeLease) Client() exchange.Client { return l.client }

func (l *fakeLease) Release() {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	l.pool.releases++
}

func (p *fakeClientPool) AcquireRestClient(_ security.Credentials) (RestLease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.acquires++
	return &fakeLease{pool: p, client: p.client}, nil
}

func (p *fakeClientPool) balanced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires == p.releases
}

// fakeGate returns one canned decision.
type fakeGate struct {
	decision risk.Decision
	err      error
	calls    int
}

func (g *fakeGate) ValidateTrade(_ context.Context, _, _ uint, _ risk.TradeCheck) (*risk.Decision, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	decision := g.decision
	return &decision, nil
}
