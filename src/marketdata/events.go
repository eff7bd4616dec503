package marketdata

import (
	"time"

	"tradedesk/src/exchange"
)

type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventStateChange  EventType = "stateChange"
	EventTicker       EventType = "ticker"
	EventTrade        EventType = "trade"
	EventOrderBook    EventType = "orderbook"
	EventCandle       EventType = "candle"
	EventError        EventType = "error"
)

// StateChange is the payload of a stateChange event.
type StateChange struct {
	From State
	To   State
}

// ErrorEvent is the payload of an error event. Fatal marks errors after
// which the adapter cannot continue; poll failures are never fatal.
type ErrorEvent struct {
	Code    string
	Message string
	Fatal   bool
}

// Event is the tagged union emitted by a polling adapter. Exactly one
// payload pointer matching Type is non-nil.
type Event struct {
	Type     EventType
	Exchange string
	At       time.Time

	StateChange *StateChange
	Ticker      *exchange.Ticker
	Trade       *exchange.Trade
	OrderBook   *exchange.OrderBook
	Candle      *exchange.Candle
	Error       *ErrorEvent
}

// Handler receives adapter events. Handlers run on the adapter's polling
// goroutines and must not call back into the adapter.
type Handler func(Event)
