package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradedesk/src/apperror"
	"tradedesk/src/exchange"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateTerminated   State = "terminated"
)

type Channel string

const (
	ChannelTicker    Channel = "ticker"
	ChannelTrades    Channel = "trades"
	ChannelOrderBook Channel = "orderbook"
	ChannelCandles   Channel = "candles"
)

const (
	minPollInterval     = time.Second
	defaultPollInterval = 3 * time.Second
	maxTradesPerPoll    = 10
	defaultBookDepth    = 20
	defaultTimeframe    = "1m"
	defaultCandleLimit  = 100
	defaultProbeSymbol  = "BTC/USDT"
)

// SubscribeParams tunes one subscription. Zero values select the defaults.
type SubscribeParams struct {
	PollInterval time.Duration
	Depth        int
	Timeframe    string
	Limit        int
	Since        time.Time
}

func (p SubscribeParams) serialize() string {
	parts := []string{
		fmt.Sprintf("interval=%d", p.PollInterval),
		fmt.Sprintf("depth=%d", p.Depth),
		"timeframe=" + p.Timeframe,
		fmt.Sprintf("limit=%d", p.Limit),
		fmt.Sprintf("since=%d", p.Since.UnixMilli()),
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// SubscribeRequest identifies one polled stream.
type SubscribeRequest struct {
	Channel Channel
	Symbol  string
	Params  SubscribeParams
}

// Key is the dedup identity of the subscription.
func (r SubscribeRequest) Key() string {
	return string(r.Channel) + "|" + strings.ToUpper(r.Symbol) + "|" + r.Params.serialize()
}

// Metrics is a snapshot of adapter counters. Not persisted.
type Metrics struct {
	MessagesReceived uint64
	MessagesSent     uint64
	ReconnectCount   int
	ErrorCount       uint64
	AverageLatencyMs float64
	LastPingAt       time.Time
}

// ClientFactory builds the underlying exchange client on connect.
type ClientFactory func() (exchange.Client, error)

type subscription struct {
	req  SubscribeRequest
	stop chan struct{}
	done chan struct{}
}

// PollingAdapter emulates a push/subscribe market-data feed over periodic
// REST polling. One recurring poll runs per subscription key; polls for a
// key never overlap.
type PollingAdapter struct {
	exchange    string
	probeSymbol string
	newClient   ClientFactory
	handler     Handler

	mu          sync.Mutex
	state       State
	client      exchange.Client
	subs        map[string]*subscription
	connectedAt time.Time

	metricsMu sync.Mutex
	metrics   Metrics
	pingCount int64
}

// NewPollingAdapter builds an adapter for one exchange. The handler may be
// nil when only metrics are of interest.
func NewPollingAdapter(exchangeID string, factory ClientFactory, handler Handler) *PollingAdapter {
	return &PollingAdapter{
		exchange:    exchange.NormalizeExchange(exchangeID),
		probeSymbol: defaultProbeSymbol,
		newClient:   factory,
		handler:     handler,
		state:       StateDisconnected,
		subs:        make(map[string]*subscription),
	}
}

// Exchange returns the normalized exchange id this adapter polls.
func (a *PollingAdapter) Exchange() string {
	return a.exchange
}

// State returns the current connection state.
func (a *PollingAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SubscriptionCount returns the number of active subscription timers.
func (a *PollingAdapter) SubscriptionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Metrics returns a snapshot of the adapter counters.
func (a *PollingAdapter) Metrics() Metrics {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	return a.metrics
}

// Connect builds the underlying client and transitions to connected.
// Calling it on a connected adapter is a no-op; a terminated adapter
// rejects it permanently.
func (a *PollingAdapter) Connect() error {
	a.mu.Lock()
	switch a.state {
	case StateTerminated:
		a.mu.Unlock()
		return apperror.Ef(apperror.KindConnectionClosed, "%s: adapter was terminated", a.exchange)
	case StateConnected:
		a.mu.Unlock()
		return nil
	}

	from := a.state
	a.state = StateConnecting
	a.mu.Unlock()
	a.emitStateChange(from, StateConnecting)

	client, err := a.newClient()
	if err != nil {
		a.mu.Lock()
		a.state = StateError
		a.mu.Unlock()
		a.emitStateChange(StateConnecting, StateError)
		a.emitError("connect_failed", err.Error(), true)
		return apperror.Wrap(apperror.KindConnectionError, a.exchange+": connect failed", err)
	}

	a.mu.Lock()
	a.client = client
	a.connectedAt = time.Now()
	a.state = StateConnected
	a.mu.Unlock()

	a.metricsMu.Lock()
	a.metrics = Metrics{}
	a.pingCount = 0
	a.metricsMu.Unlock()

	a.emitStateChange(StateConnecting, StateConnected)
	a.emit(Event{Type: EventConnected})

	logger.WithFields(map[string]interface{}{
		"component": "PollingAdapter",
		"exchange":  a.exchange,
	}).Info("market data adapter connected")

	return nil
}

// Disconnect cancels every subscription timer and drops the client.
// Idempotent. Returns only after all polling goroutines have stopped.
func (a *PollingAdapter) Disconnect() error {
	a.mu.Lock()
	if a.state != StateConnected && a.state != StateConnecting && a.state != StateError {
		a.mu.Unlock()
		return nil
	}

	from := a.state
	stopped := make([]*subscription, 0, len(a.subs))
	for key, sub := range a.subs {
		stopped = append(stopped, sub)
		delete(a.subs, key)
	}
	a.client = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	for _, sub := range stopped {
		close(sub.stop)
		<-sub.done
	}

	a.emitStateChange(from, StateDisconnected)
	a.emit(Event{Type: EventDisconnected})

	logger.WithFields(map[string]interface{}{
		"component":     "PollingAdapter",
		"exchange":      a.exchange,
		"subscriptions": len(stopped),
	}).Info("market data adapter disconnected")

	return nil
}

// Terminate disconnects and then permanently disables the adapter. There
// is no way back: Connect fails with connection_closed afterwards.
func (a *PollingAdapter) Terminate() {
	_ = a.Disconnect()

	a.mu.Lock()
	from := a.state
	a.state = StateTerminated
	a.mu.Unlock()

	if from != StateTerminated {
		a.emitStateChange(from, StateTerminated)
	}
}

// Subscribe starts a recurring poll for the requested channel/symbol. A
// duplicate request (same channel, symbol and params) is a no-op. The
// first poll runs synchronously before the timer starts.
func (a *PollingAdapter) Subscribe(req SubscribeRequest) error {
	switch req.Channel {
	case ChannelTicker, ChannelTrades, ChannelOrderBook, ChannelCandles:
	default:
		return apperror.Ef(apperror.KindInvalidRequest, "unknown channel %q", req.Channel)
	}

	a.mu.Lock()
	if a.state != StateConnected {
		a.mu.Unlock()
		return apperror.Ef(apperror.KindConnectionError, "%s: subscribe requires a connected adapter", a.exchange)
	}

	key := req.Key()
	if _, exists := a.subs[key]; exists {
		a.mu.Unlock()
		return nil
	}

	sub := &subscription{
		req:  req,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	a.subs[key] = sub
	client := a.client
	a.mu.Unlock()

	interval := req.Params.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if interval < minPollInterval {
		interval = minPollInterval
	}

	a.pollOnce(client, req)

	go a.pollLoop(client, sub, interval)

	logger.WithFields(map[string]interface{}{
		"component": "PollingAdapter",
		"exchange":  a.exchange,
		"channel":   req.Channel,
		"symbol":    req.Symbol,
		"interval":  interval.String(),
	}).Debug("subscription started")

	return nil
}

// Unsubscribe cancels the matching timer. No-op when the subscription is
// absent. Returns only after the polling goroutine has stopped, so no
// further polls occur once it returns.
func (a *PollingAdapter) Unsubscribe(req SubscribeRequest) {
	key := req.Key()

	a.mu.Lock()
	sub, exists := a.subs[key]
	if exists {
		delete(a.subs, key)
	}
	a.mu.Unlock()

	if !exists {
		return
	}
	close(sub.stop)
	<-sub.done
}

// Ping measures round-trip latency with a lightweight ticker fetch and
// folds it into the running average.
func (a *PollingAdapter) Ping(ctx context.Context) (time.Duration, error) {
	a.mu.Lock()
	if a.state != StateConnected {
		a.mu.Unlock()
		return 0, apperror.Ef(apperror.KindConnectionError, "%s: ping requires a connected adapter", a.exchange)
	}
	client := a.client
	a.mu.Unlock()

	start := time.Now()
	_, err := client.FetchTicker(ctx, a.probeSymbol)
	if err != nil {
		a.countError()
		a.emitError("ping_failed", err.Error(), false)
		return 0, apperror.Wrap(apperror.KindConnectionError, a.exchange+": ping failed", err)
	}

	latency := time.Since(start)

	a.metricsMu.Lock()
	a.pingCount++
	ms := float64(latency.Microseconds()) / 1000.0
	a.metrics.AverageLatencyMs += (ms - a.metrics.AverageLatencyMs) / float64(a.pingCount)
	a.metrics.LastPingAt = time.Now()
	a.metricsMu.Unlock()

	return latency, nil
}

func (a *PollingAdapter) pollLoop(client exchange.Client, sub *subscription, interval time.Duration) {
	defer close(sub.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			a.pollOnce(client, sub.req)
		}
	}
}

func (a *PollingAdapter) pollOnce(client exchange.Client, req SubscribeRequest) {
	ctx := context.Background()

	var err error
	switch req.Channel {
	case ChannelTicker:
		var t *exchange.Ticker
		if t, err = client.FetchTicker(ctx, req.Symbol); err == nil {
			a.emit(Event{Type: EventTicker, Ticker: t})
		}

	case ChannelTrades:
		var trades []exchange.Trade
		if trades, err = client.FetchTrades(ctx, req.Symbol, req.Params.Since, maxTradesPerPoll); err == nil {
			if len(trades) > maxTradesPerPoll {
				trades = trades[len(trades)-maxTradesPerPoll:]
			}
			for i := range trades {
				a.emit(Event{Type: EventTrade, Trade: &trades[i]})
			}
		}

	case ChannelOrderBook:
		depth := req.Params.Depth
		if depth <= 0 {
			depth = defaultBookDepth
		}
		var book *exchange.OrderBook
		if book, err = client.FetchOrderBook(ctx, req.Symbol, depth); err == nil {
			a.emit(Event{Type: EventOrderBook, OrderBook: book})
		}

	case ChannelCandles:
		timeframe := req.Params.Timeframe
		if timeframe == "" {
			timeframe = defaultTimeframe
		}
		limit := req.Params.Limit
		if limit <= 0 {
			limit = defaultCandleLimit
		}
		var candles []exchange.Candle
		if candles, err = client.FetchOHLCV(ctx, req.Symbol, timeframe, req.Params.Since, limit); err == nil {
			for i := range candles {
				a.emit(Event{Type: EventCandle, Candle: &candles[i]})
			}
		}
	}

	if err != nil {
		// A single failed poll does not tear the subscription down.
		a.countError()
		a.emitError("poll_failed", err.Error(), false)

		logger.WithFields(map[string]interface{}{
			"component": "PollingAdapter",
			"exchange":  a.exchange,
			"channel":   req.Channel,
			"symbol":    req.Symbol,
		}).WithError(err).Warn("poll failed")
		return
	}

	a.metricsMu.Lock()
	a.metrics.MessagesReceived++
	a.metricsMu.Unlock()
}

func (a *PollingAdapter) emit(ev Event) {
	ev.Exchange = a.exchange
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	a.metricsMu.Lock()
	a.metrics.MessagesSent++
	a.metricsMu.Unlock()

	if a.handler != nil {
		a.handler(ev)
	}
}

func (a *PollingAdapter) emitStateChange(from, to State) {
	if from == to {
		return
	}
	a.emit(Event{Type: EventStateChange, StateChange: &StateChange{From: from, To: to}})
}

func (a *PollingAdapter) emitError(code, message string, fatal bool) {
	a.emit(Event{Type: EventError, Error: &ErrorEvent{Code: code, Message: message, Fatal: fatal}})
}

func (a *PollingAdapter) countError() {
	a.metricsMu.Lock()
	a.metrics.ErrorCount++
	a.metricsMu.Unlock()
}
