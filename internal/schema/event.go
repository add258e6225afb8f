package schema

import "time"

// EventType identifies the variant carried by an Event. The numeric value is
// also the tie-break priority when multiple events share a timestamp:
// corporate actions must reach the portfolio before any bar or quote with the
// same effective timestamp is shown to a strategy.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventClock
	EventCorporateAction
	EventBar
	EventQuote
	EventTrade
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventClock:
		return "Clock"
	case EventCorporateAction:
		return "CorporateAction"
	case EventBar:
		return "Bar"
	case EventQuote:
		return "Quote"
	case EventTrade:
		return "Trade"
	default:
		return "Unknown"
	}
}

// Bar is an OHLCV observation for one symbol.
type Bar struct {
	Open   Price
	High   Price
	Low    Price
	Close  Price
	Volume Quantity
}

// Quote is a top-of-book observation.
type Quote struct {
	BidPrice Price
	BidSize  Quantity
	AskPrice Price
	AskSize  Quantity
}

// Trade is a single print.
type Trade struct {
	Price Price
	Size  Quantity
}

// CorporateAction adjusts open positions on its effective date. SplitRatio of
// 2 means a 2:1 split. Dividend is the per-share cash amount in the symbol's
// currency, zero when the action is a pure split.
type CorporateAction struct {
	SplitRatio float64
	Dividend   Price
}

// ClockTick marks a session boundary.
type ClockTick struct {
	Exchange string
	Label    string
}

// Event is the tagged variant consumed by the event loop. Exactly one payload
// pointer is set, matching Type. Seq is assigned by the event source and makes
// the total order unambiguous even for identical (Ts, Type, SymbolID) keys.
type Event struct {
	Ts       time.Time
	Type     EventType
	SymbolID SymbolID
	Seq      uint64

	Bar    *Bar
	Quote  *Quote
	Trade  *Trade
	Action *CorporateAction
	Tick   *ClockTick
}

// Before reports whether e sorts strictly before other in the deterministic
// total order (timestamp, variant priority, symbol id, sequence).
func (e Event) Before(other Event) bool {
	if !e.Ts.Equal(other.Ts) {
		return e.Ts.Before(other.Ts)
	}
	if e.Type != other.Type {
		return e.Type < other.Type
	}
	if e.SymbolID != other.SymbolID {
		return e.SymbolID < other.SymbolID
	}
	return e.Seq < other.Seq
}
