package events

// Event enumerates high-level topics inside the signal trader.
type Event string

const (
	EventPriceTick     Event = "price.tick"
	EventFeedDown      Event = "feed.down"
	EventSignal        Event = "signal.received"
	EventTradeExecuted Event = "trade.executed"
	EventTradeClosed   Event = "trade.closed"
	EventTradeRejected Event = "trade.rejected"
	EventOrderFailed   Event = "order.failed"
)

// Topics lists every event the websocket hub relays.
var Topics = []Event{
	EventPriceTick,
	EventFeedDown,
	EventSignal,
	EventTradeExecuted,
	EventTradeClosed,
	EventTradeRejected,
	EventOrderFailed,
}
