package schema

import "time"

// OrderID is the run-scoped numeric identifier for an order.
type OrderID uint64

// FillID is the run-scoped numeric identifier for a fill.
type FillID uint64

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// String returns the side name as recorded in artifacts.
func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

// String returns the order type name as recorded in artifacts.
func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MKT"
	case OrderTypeLimit:
		return "LMT"
	case OrderTypeStop:
		return "STP"
	case OrderTypeStopLimit:
		return "STP_LMT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce describes order lifetime policy.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceDay
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// String returns the time-in-force name as recorded in artifacts.
func (t TimeInForce) String() string {
	switch t {
	case TimeInForceDay:
		return "DAY"
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// OrderState tracks the lifecycle of an order. Terminal states are final.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStatePending
	OrderStatePartFilled
	OrderStateFilled
	OrderStateExpired
	OrderStateCancelled
	OrderStateRejected
)

// String returns the state name as recorded in artifacts.
func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "PENDING"
	case OrderStatePartFilled:
		return "PARTIALLY_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateExpired:
		return "EXPIRED"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state is final.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateExpired, OrderStateCancelled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// Urgency scales market-order aggressiveness. Urgent orders cross more of the
// spread but never breach the guardrail bound.
type Urgency uint16

const (
	UrgencyNormal Urgency = iota
	UrgencyHigh
)

// Order is a strategy's request as accepted by the engine. LimitPrice is set
// for limit and stop-limit orders, StopPrice for stop and stop-limit orders.
type Order struct {
	ID          OrderID
	SymbolID    SymbolID
	Side        OrderSide
	Quantity    Quantity
	Type        OrderType
	LimitPrice  Price
	StopPrice   Price
	TimeInForce TimeInForce
	Urgency     Urgency
	SubmittedAt time.Time
	Tag         string
}

// Fill is one execution against an order. SlippageComponent and
// ImpactComponent record the signed per-share price displacement relative to
// the arrival mid so gross and net-of-cost performance can both be rebuilt.
type Fill struct {
	OrderID           OrderID
	FillID            FillID
	Ts                time.Time
	SymbolID          SymbolID
	Side              OrderSide
	Quantity          Quantity
	Price             Price
	Fees              Fee
	BorrowFee         Fee
	SlippageComponent Price
	ImpactComponent   Price
}
