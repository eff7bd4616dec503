package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/builder"
	logger "github.com/sirupsen/logrus"

	"tradedesk/src/apperror"
	"tradedesk/src/model"
	"tradedesk/src/security"
)

// goexExchangeNames maps the short exchange ids used in connection records
// to the identifiers the goex builder understands.
var goexExchangeNames = map[string]string{
	"binance":  goex.BINANCE,
	"okex":     goex.OKEX,
	"huobi":    goex.HUOBI_PRO,
	"kucoin":   goex.KUCOIN,
	"kraken":   goex.KRAKEN,
	"bitstamp": goex.BITSTAMP,
	"bitfinex": goex.BITFINEX,
	"poloniex": goex.POLONIEX,
	"gateio":   goex.GATEIO,
	"bittrex":  goex.BITTREX,
}

// GoexClient implements Client over the goex spot REST surface. Conditional
// order types and derivative positions are outside that surface, so the
// capability map reports them unsupported.
type GoexClient struct {
	name string
	api  goex.API
}

// NewGoexClient builds an authenticated (or public, when the key is empty)
// goex-backed client for the given credentials.
func NewGoexClient(creds security.Credentials, cfg Config) (*GoexClient, error) {
	name := NormalizeExchange(creds.Exchange)
	exName, ok := goexExchangeNames[name]
	if !ok {
		return nil, apperror.Ef(apperror.KindUnsupportedOperation, "exchange %q is not supported", creds.Exchange)
	}

	b := builder.NewAPIBuilder().HttpTimeout(cfg.HTTPTimeout)
	if creds.APIKey != "" {
		b = b.APIKey(creds.APIKey).APISecretkey(creds.APISecret)
	}
	if creds.Passphrase != "" {
		b = b.ApiPassphrase(creds.Passphrase)
	}
	if creds.Sandbox {
		endpoint, found := cfg.SandboxEndpoints[name]
		if !found {
			return nil, apperror.Ef(apperror.KindUnsupportedOperation, "no sandbox endpoint configured for %q", name)
		}
		b = b.Endpoint(endpoint)
	}

	api := b.Build(exName)
	if api == nil {
		return nil, apperror.Ef(apperror.KindConnectionError, "goex builder returned no client for %q", exName)
	}

	logger.WithFields(map[string]interface{}{
		"component": "GoexClient",
		"exchange":  name,
		"sandbox":   creds.Sandbox,
	}).Debug("exchange client built")

	return &GoexClient{name: name, api: api}, nil
}

// NormalizeExchange lower-cases and trims an exchange identifier.
func NormalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

func (c *GoexClient) Name() string {
	return c.name
}

func (c *GoexClient) Has() Capabilities {
	return Capabilities{
		CapCreateMarketOrder: true,
		CapCreateLimitOrder:  true,
		CapCreateOrder:       false,
		CapCancelOrder:       true,
		CapFetchOpenOrders:   true,
		CapFetchBalance:      true,
		CapFetchPositions:    false,
		CapFetchTicker:       true,
		CapFetchTrades:       true,
		CapFetchOrderBook:    true,
		CapFetchOHLCV:        true,
	}
}

func (c *GoexClient) pair(symbol string) goex.CurrencyPair {
	return goex.NewCurrencyPair2(strings.ReplaceAll(strings.ToUpper(symbol), "/", "_"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func limitOptions(params OrderParams) []goex.LimitOrderOptionalParameter {
	var opts []goex.LimitOrderOptionalParameter
	if params.PostOnly {
		opts = append(opts, goex.PostOnly)
	}
	switch strings.ToUpper(params.TimeInForce) {
	case model.TimeInForceIOC:
		opts = append(opts, goex.Ioc)
	case model.TimeInForceFOK:
		opts = append(opts, goex.Fok)
	}
	return opts
}

func mapTradeStatus(status goex.TradeStatus) string {
	switch status {
	case goex.ORDER_UNFINISH, goex.ORDER_CANCEL_ING:
		return model.OrderStatusOpen
	case goex.ORDER_PART_FINISH:
		return model.OrderStatusPartiallyFilled
	case goex.ORDER_FINISH:
		return model.OrderStatusFilled
	case goex.ORDER_CANCEL:
		return model.OrderStatusCanceled
	case goex.ORDER_REJECT, goex.ORDER_FAIL:
		return model.OrderStatusRejected
	}
	return ""
}

func mapTradeSide(side goex.TradeSide) string {
	switch side {
	case goex.BUY, goex.BUY_MARKET:
		return model.OrderSideBuy
	case goex.SELL, goex.SELL_MARKET:
		return model.OrderSideSell
	}
	return ""
}

func placedFromOrder(o *goex.Order) *PlacedOrder {
	raw, _ := json.Marshal(o)
	return &PlacedOrder{
		ExchangeOrderID: o.OrderID2,
		Status:          mapTradeStatus(o.Status),
		Filled:          o.DealAmount,
		Remaining:       o.Amount - o.DealAmount,
		AveragePrice:    o.AvgPrice,
		Cost:            o.AvgPrice * o.DealAmount,
		Raw:             string(raw),
	}
}

func (c *GoexClient) CreateMarketOrder(_ context.Context, symbol, side string, amount float64, _ OrderParams) (*PlacedOrder, error) {
	pair := c.pair(symbol)

	var (
		order *goex.Order
		err   error
	)
	if side == model.OrderSideBuy {
		order, err = c.api.MarketBuy(formatFloat(amount), "0", pair)
	} else {
		order, err = c.api.MarketSell(formatFloat(amount), "0", pair)
	}
	if err != nil {
		return nil, err
	}
	return placedFromOrder(order), nil
}

func (c *GoexClient) CreateLimitOrder(_ context.Context, symbol, side string, amount, price float64, params OrderParams) (*PlacedOrder, error) {
	pair := c.pair(symbol)
	opts := limitOptions(params)

	var (
		order *goex.Order
		err   error
	)
	if side == model.OrderSideBuy {
		order, err = c.api.LimitBuy(formatFloat(amount), formatFloat(price), pair, opts...)
	} else {
		order, err = c.api.LimitSell(formatFloat(amount), formatFloat(price), pair, opts...)
	}
	if err != nil {
		return nil, err
	}
	return placedFromOrder(order), nil
}

func (c *GoexClient) CreateOrder(_ context.Context, _ string, orderType, _ string, _ float64, _ *float64, _ OrderParams) (*PlacedOrder, error) {
	return nil, apperror.Ef(apperror.KindUnsupportedOperation,
		"%s: conditional order type %q is not supported by the spot surface", c.name, orderType)
}

func (c *GoexClient) CancelOrder(_ context.Context, exchangeOrderID, symbol string) error {
	ok, err := c.api.CancelOrder(exchangeOrderID, c.pair(symbol))
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Ef(apperror.KindConnectionError, "%s: cancel of %s was not accepted", c.name, exchangeOrderID)
	}
	return nil
}

func (c *GoexClient) FetchOpenOrders(_ context.Context, symbol string) ([]OpenOrder, error) {
	orders, err := c.api.GetUnfinishOrders(c.pair(symbol))
	if err != nil {
		return nil, err
	}

	open := make([]OpenOrder, 0, len(orders))
	for i := range orders {
		o := orders[i]
		open = append(open, OpenOrder{
			ExchangeOrderID: o.OrderID2,
			ClientOrderID:   o.Cid,
			Symbol:          symbol,
			Side:            mapTradeSide(o.Side),
			Type:            o.Type,
			Price:           o.Price,
			Amount:          o.Amount,
			Filled:          o.DealAmount,
			Remaining:       o.Amount - o.DealAmount,
			AveragePrice:    o.AvgPrice,
			Cost:            o.AvgPrice * o.DealAmount,
			Status:          mapTradeStatus(o.Status),
		})
	}
	return open, nil
}

func (c *GoexClient) FetchBalance(_ context.Context) ([]Balance, error) {
	account, err := c.api.GetAccount()
	if err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(account.SubAccounts))
	for currency, sub := range account.SubAccounts {
		if sub.Amount == 0 && sub.ForzenAmount == 0 {
			continue
		}
		balances = append(balances, Balance{
			Currency: currency.Symbol,
			Free:     sub.Amount,
			Used:     sub.ForzenAmount,
			Total:    sub.Amount + sub.ForzenAmount,
		})
	}
	return balances, nil
}

func (c *GoexClient) FetchPositions(_ context.Context, _ []string) ([]PositionInfo, error) {
	return nil, apperror.Ef(apperror.KindUnsupportedOperation, "%s: positions are not available on the spot surface", c.name)
}

func (c *GoexClient) FetchTicker(_ context.Context, symbol string) (*Ticker, error) {
	t, err := c.api.GetTicker(c.pair(symbol))
	if err != nil {
		return nil, err
	}
	return &Ticker{
		Symbol:    symbol,
		Last:      t.Last,
		Bid:       t.Buy,
		Ask:       t.Sell,
		High:      t.High,
		Low:       t.Low,
		Volume:    t.Vol,
		Timestamp: unixGuess(int64(t.Date)),
	}, nil
}

func (c *GoexClient) FetchTrades(_ context.Context, symbol string, since time.Time, limit int) ([]Trade, error) {
	var sinceArg int64
	if !since.IsZero() {
		sinceArg = since.UnixMilli()
	}

	raw, err := c.api.GetTrades(c.pair(symbol), sinceArg)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}

	trades := make([]Trade, 0, len(raw))
	for _, t := range raw {
		trades = append(trades, Trade{
			ID:        strconv.FormatInt(t.Tid, 10),
			Symbol:    symbol,
			Side:      mapTradeSide(t.Type),
			Price:     t.Price,
			Amount:    t.Amount,
			Timestamp: unixGuess(t.Date),
		})
	}
	return trades, nil
}

func (c *GoexClient) FetchOrderBook(_ context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}

	d, err := c.api.GetDepth(depth, c.pair(symbol))
	if err != nil {
		return nil, err
	}

	book := &OrderBook{
		Symbol:    symbol,
		Bids:      make([]BookLevel, 0, len(d.BidList)),
		Asks:      make([]BookLevel, 0, len(d.AskList)),
		Timestamp: d.UTime,
	}
	for i, bid := range d.BidList {
		if i >= depth {
			break
		}
		book.Bids = append(book.Bids, BookLevel{Price: bid.Price, Amount: bid.Amount})
	}
	for i, ask := range d.AskList {
		if i >= depth {
			break
		}
		book.Asks = append(book.Asks, BookLevel{Price: ask.Price, Amount: ask.Amount})
	}
	return book, nil
}

var klinePeriods = map[string]goex.KlinePeriod{
	"1m":  goex.KLINE_PERIOD_1MIN,
	"5m":  goex.KLINE_PERIOD_5MIN,
	"15m": goex.KLINE_PERIOD_15MIN,
	"30m": goex.KLINE_PERIOD_30MIN,
	"1h":  goex.KLINE_PERIOD_1H,
	"4h":  goex.KLINE_PERIOD_4H,
	"1d":  goex.KLINE_PERIOD_1DAY,
	"1w":  goex.KLINE_PERIOD_1WEEK,
}

func (c *GoexClient) FetchOHLCV(_ context.Context, symbol, timeframe string, since time.Time, limit int) ([]Candle, error) {
	period, ok := klinePeriods[timeframe]
	if !ok {
		return nil, apperror.Ef(apperror.KindInvalidRequest, "unknown timeframe %q", timeframe)
	}
	if limit <= 0 {
		limit = 100
	}

	var opts []goex.OptionalParameter
	if !since.IsZero() {
		opts = append(opts, goex.OptionalParameter{}.Optional("startTime", since.UnixMilli()))
	}

	klines, err := c.api.GetKlineRecords(c.pair(symbol), period, limit, opts...)
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: unixGuess(k.Timestamp),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Vol,
		})
	}
	return candles, nil
}

// unixGuess converts an exchange timestamp that may be in seconds or
// milliseconds depending on the venue.
func unixGuess(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	if ts > 1_000_000_000_000 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}
