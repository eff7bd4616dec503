package exchange

import (
	"context"
	"time"
)

// Capability names mirror the operations of the Client interface. An
// exchange that lacks a capability must fail the call with kind
// unsupported_operation instead of silently doing nothing.
type Capability string

const (
	CapCreateMarketOrder Capability = "createMarketOrder"
	CapCreateLimitOrder  Capability = "createLimitOrder"
	CapCreateOrder       Capability = "createOrder"
	CapCancelOrder       Capability = "cancelOrder"
	CapFetchOpenOrders   Capability = "fetchOpenOrders"
	CapFetchBalance      Capability = "fetchBalance"
	CapFetchPositions    Capability = "fetchPositions"
	CapFetchTicker       Capability = "fetchTicker"
	CapFetchTrades       Capability = "fetchTrades"
	CapFetchOrderBook    Capability = "fetchOrderBook"
	CapFetchOHLCV        Capability = "fetchOHLCV"
)

type Capabilities map[Capability]bool

// Supports reports whether the capability is present and enabled.
func (c Capabilities) Supports(cap Capability) bool {
	return c[cap]
}

// OrderParams carries the optional knobs of an order placement.
type OrderParams struct {
	ClientOrderID   string
	TimeInForce     string
	StopPrice       *float64
	TrailingDelta   *float64
	TrailingPercent *float64
	ReduceOnly      bool
	PostOnly        bool
}

// PlacedOrder is the exchange's acknowledgment of a placement.
type PlacedOrder struct {
	ExchangeOrderID string
	// Status uses the local order status vocabulary; empty when the
	// exchange did not report one.
	Status       string
	Filled       float64
	Remaining    float64
	AveragePrice float64
	Cost         float64
	// Raw acknowledgment payload, kept for audit.
	Raw string
}

// OpenOrder is one entry of the exchange's open-order view.
type OpenOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            string
	Type            string
	Price           float64
	Amount          float64
	Filled          float64
	Remaining       float64
	AveragePrice    float64
	Cost            float64
	Status          string
}

type Balance struct {
	Currency string
	Free     float64
	Used     float64
	Total    float64
}

type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	High      float64
	Low       float64
	Volume    float64
	Timestamp time.Time
}

type Trade struct {
	ID        string
	Symbol    string
	Side      string
	Price     float64
	Amount    float64
	Timestamp time.Time
}

type BookLevel struct {
	Price  float64
	Amount float64
}

type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

type Candle struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PositionInfo is the exchange's view of one derivative position.
type PositionInfo struct {
	Symbol           string
	Side             string
	Contracts        float64
	Leverage         float64
	Collateral       float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	UnrealizedPnl    float64
	Percentage       float64
}

// Client is the uniform call surface this core expects from the exchange
// integration library. Symbols use the BASE/QUOTE form (e.g. "BTC/USDT").
type Client interface {
	Name() string
	Has() Capabilities

	CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, params OrderParams) (*PlacedOrder, error)
	CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, params OrderParams) (*PlacedOrder, error)
	// CreateOrder places the stop/take-profit/trailing variants; price may
	// be nil for non-limit variants.
	CreateOrder(ctx context.Context, symbol, orderType, side string, amount float64, price *float64, params OrderParams) (*PlacedOrder, error)
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error

	FetchOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	FetchBalance(ctx context.Context) ([]Balance, error)
	FetchPositions(ctx context.Context, symbols []string) ([]PositionInfo, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]Trade, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]Candle, error)
}
