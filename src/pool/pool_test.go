package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradedesk/src/exchange"
	"tradedesk/src/marketdata"
	"tradedesk/src/security"
)

// stubClient satisfies exchange.Client with canned answers. Only the calls
// the pool and adapter actually make are meaningful.
type stubClient struct {
	name string
}

func (c *stubClient) Name() string { return c.name }

func (c *stubClient) Has() exchange.Capabilities {
	return exchange.Capabilities{exchange.CapFetchTicker: true}
}

func (c *stubClient) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, params exchange.OrderParams) (*exchange.PlacedOrder, error) {
	return &exchange.PlacedOrder{ExchangeOrderID: "stub"}, nil
}

func (c *stubClient) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, params exchange.OrderParams) (*exchange.PlacedOrder, error) {
	return &exchange.PlacedOrder{ExchangeOrderID: "stub"}, nil
}

func (c *stubClient) CreateOrder(ctx context.Context, symbol, orderType, side string, amount float64, price *float64, params exchange.OrderParams) (*exchange.PlacedOrder, error) {
	return &exchange.PlacedOrder{ExchangeOrderID: "stub"}, nil
}

func (c *stubClient) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	return nil
}

func (c *stubClient) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	return nil, nil
}

func (c *stubClient) FetchBalance(ctx context.Context) ([]exchange.Balance, error) {
	return nil, nil
}

func (c *stubClient) FetchPositions(ctx context.Context, symbols []string) ([]exchange.PositionInfo, error) {
	return nil, nil
}

func (c *stubClient) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol, Last: 100, Timestamp: time.Now()}, nil
}

func (c *stubClient) FetchTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]exchange.Trade, error) {
	return nil, nil
}

func (c *stubClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	return &exchange.OrderBook{Symbol: symbol}, nil
}

func (c *stubClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]exchange.Candle, error) {
	return nil, nil
}

func newTestPool(clientCalls *int, adapterCalls *int) *ConnectionPool {
	p := &ConnectionPool{
		rest:     make(map[string]*restEntry),
		adapters: make(map[string]*adapterEntry),
	}
	p.newClient = func(creds security.Credentials) (exchange.Client, error) {
		if clientCalls != nil {
			*clientCalls++
		}
		return &stubClient{name: creds.Exchange}, nil
	}
	p.newAdapter = func(exchangeID string) (*marketdata.PollingAdapter, error) {
		if adapterCalls != nil {
			*adapterCalls++
		}
		factory := func() (exchange.Client, error) {
			return &stubClient{name: exchangeID}, nil
		}
		return marketdata.NewPollingAdapter(exchangeID, factory, nil), nil
	}
	return p
}

func TestRestClientIsShared(t *testing.T) {
	calls := 0
	p := newTestPool(&calls, nil)

	creds := security.Credentials{Exchange: "binance", APIKey: "k", APISecret: "s"}

	h1, err := p.AcquireRestClient(creds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := p.AcquireRestClient(creds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected one client build for the same credentials, got %d", calls)
	}
	if h1.Client() != h2.Client() {
		t.Fatal("both handles must share one client")
	}

	stats := p.Stats()
	if stats.RestClients != 1 || stats.TotalRefs != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	h1.Release()
	if p.Stats().RestClients != 1 {
		t.Fatal("entry must survive while a reference remains")
	}

	h2.Release()
	if p.Stats().RestClients != 0 {
		t.Fatal("entry must be evicted when the last reference is released")
	}

	// A fresh acquisition after eviction builds a new client.
	h3, err := p.AcquireRestClient(creds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h3.Release()
	if calls != 2 {
		t.Fatalf("expected a rebuild after eviction, got %d builds", calls)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(nil, nil)

	creds := security.Credentials{Exchange: "kraken", APIKey: "k", APISecret: "s"}

	h1, err := p.AcquireRestClient(creds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := p.AcquireRestClient(creds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Releasing the same handle twice must not steal h2's reference.
	h1.Release()
	h1.Release()
	h1.Release()

	if p.Stats().RestClients != 1 {
		t.Fatal("double release must not evict a held entry")
	}

	h2.Release()
	if p.Stats().RestClients != 0 {
		t.Fatal("entry must be gone after the true last release")
	}
}

func TestDifferentCredentialsGetDifferentClients(t *testing.T) {
	calls := 0
	p := newTestPool(&calls, nil)

	h1, err := p.AcquireRestClient(security.Credentials{Exchange: "binance", APIKey: "a", APISecret: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h1.Release()

	h2, err := p.AcquireRestClient(security.Credentials{Exchange: "binance", APIKey: "b", APISecret: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h2.Release()

	if calls != 2 {
		t.Fatalf("expected two client builds for distinct keys, got %d", calls)
	}
	if p.Stats().RestClients != 2 {
		t.Fatalf("expected two pooled clients, got %+v", p.Stats())
	}
}

func TestMarketAdapterLifecycle(t *testing.T) {
	builds := 0
	p := newTestPool(nil, &builds)

	h1, err := p.AcquireMarketAdapter("binance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := p.AcquireMarketAdapter("Binance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if builds != 1 {
		t.Fatalf("exchange ids must be normalized to one entry, got %d builds", builds)
	}
	if h1.Adapter() != h2.Adapter() {
		t.Fatal("both handles must share one adapter")
	}
	if h1.Adapter().State() != marketdata.StateConnected {
		t.Fatalf("adapter must be connected after acquisition, got %s", h1.Adapter().State())
	}

	adapter := h1.Adapter()
	h1.Release()
	if adapter.State() != marketdata.StateConnected {
		t.Fatal("adapter must stay connected while referenced")
	}

	h2.Release()
	if adapter.State() != marketdata.StateDisconnected {
		t.Fatalf("adapter must be disconnected on last release, got %s", adapter.State())
	}
	if p.Stats().Adapters != 0 {
		t.Fatal("adapter entry must be evicted on last release")
	}
}

func TestAdapterConnectFailureIsNotCached(t *testing.T) {
	p := newTestPool(nil, nil)

	attempts := 0
	p.newAdapter = func(exchangeID string) (*marketdata.PollingAdapter, error) {
		attempts++
		factory := func() (exchange.Client, error) {
			if attempts == 1 {
				return nil, errors.New("dial refused")
			}
			return &stubClient{name: exchangeID}, nil
		}
		return marketdata.NewPollingAdapter(exchangeID, factory, nil), nil
	}

	if _, err := p.AcquireMarketAdapter("okex"); err == nil {
		t.Fatal("expected the first acquisition to fail")
	}
	if p.Stats().Adapters != 0 {
		t.Fatal("failed adapters must never be cached")
	}

	h, err := p.AcquireMarketAdapter("okex")
	if err != nil {
		t.Fatalf("retry after failure must work: %v", err)
	}
	defer h.Release()

	if attempts != 2 {
		t.Fatalf("expected two build attempts, got %d", attempts)
	}
}

func TestShutdownDisconnectsEverything(t *testing.T) {
	p := newTestPool(nil, nil)

	if _, err := p.AcquireRestClient(security.Credentials{Exchange: "binance", APIKey: "k", APISecret: "s"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, err := p.AcquireMarketAdapter("binance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adapter := h.Adapter()

	p.Shutdown()

	stats := p.Stats()
	if stats.RestClients != 0 || stats.Adapters != 0 {
		t.Fatalf("pool must be empty after shutdown, got %+v", stats)
	}
	if adapter.State() != marketdata.StateDisconnected {
		t.Fatalf("adapter must be disconnected by shutdown, got %s", adapter.State())
	}
}
