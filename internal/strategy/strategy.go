// Package strategy defines the capability surface a trading strategy sees
// during a run. The engine never inspects strategy internals; strategies see
// the run only through the Context.
package strategy

import (
	"time"

	"quant/internal/pit"
	"quant/internal/portfolio"
	"quant/internal/risk"
	"quant/internal/schema"
)

// OrderRequest is an order intent. The engine assigns the id and submission
// timestamp when it accepts the request.
type OrderRequest struct {
	SymbolID    schema.SymbolID
	Side        schema.OrderSide
	Quantity    schema.Quantity
	Type        schema.OrderType
	LimitPrice  schema.Price
	StopPrice   schema.Price
	TimeInForce schema.TimeInForce
	Urgency     schema.Urgency
	Tag         string
}

// PortfolioView is the read-only position surface exposed to strategies.
type PortfolioView interface {
	// Quantity returns the signed open quantity for a symbol, zero if flat.
	Quantity(id schema.SymbolID) schema.Quantity
	// LastSnapshot returns the most recent mark-to-market snapshot.
	LastSnapshot() portfolio.Snapshot
}

// Context is what the engine hands a strategy on every callback.
type Context interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Data exposes point-in-time market data, guarded against look-ahead.
	Data() *pit.Reader
	// Submit routes an order intent through risk into execution and
	// returns the assigned order id. A risk rejection is not an error;
	// inspect the returned decision.
	Submit(req OrderRequest) (schema.OrderID, risk.Decision, error)
	// Cancel cancels one order by id. No-op on terminal or unknown ids.
	Cancel(id schema.OrderID)
	// CancelTag cancels every open order carrying the tag.
	CancelTag(tag string)
	// Portfolio exposes the read-only position view.
	Portfolio() PortfolioView
	// SetCaps replaces the risk caps for subsequent submissions.
	SetCaps(caps risk.Caps)
}

// Strategy reacts to the event stream. Errors from any callback abort the
// run; strategies should handle expected conditions themselves.
type Strategy interface {
	OnStart(ctx Context) error
	OnEvent(ctx Context, evt schema.Event) error
	OnEnd(ctx Context) error
}
