// Package risk validates and clips order requests against exposure caps
// before they reach the execution simulator. The engine only reads immutable
// portfolio snapshots; it never mutates the ledger.
package risk

import (
	"quant/internal/portfolio"
	"quant/internal/schema"
)

// Action is the outcome of a risk decision.
type Action uint16

const (
	ActionUnknown Action = iota
	ActionAccept
	ActionClip
	ActionReject
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "ACCEPT"
	case ActionClip:
		return "CLIP"
	case ActionReject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// Reason names the triggering cap or validation failure for audit records.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonInvalidQuantity
	ReasonMissingLimitPrice
	ReasonMissingStopPrice
	ReasonMaxPerSymbol
	ReasonMaxGross
	ReasonMaxNet
	ReasonMaxLeverage
)

// String returns the reason name as recorded in orders.csv.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonInvalidQuantity:
		return "invalid_quantity"
	case ReasonMissingLimitPrice:
		return "missing_limit_price"
	case ReasonMissingStopPrice:
		return "missing_stop_price"
	case ReasonMaxPerSymbol:
		return "max_per_symbol"
	case ReasonMaxGross:
		return "max_gross"
	case ReasonMaxNet:
		return "max_net"
	case ReasonMaxLeverage:
		return "max_leverage"
	default:
		return "unknown"
	}
}

// Caps are the exposure limits for one run, in base-currency notional.
// A zero value disables the corresponding cap.
type Caps struct {
	MaxGross     schema.Notional `json:"maxGross"`
	MaxNet       schema.Notional `json:"maxNet"`
	MaxPerSymbol schema.Notional `json:"maxPerSymbol"`
	MaxLeverage  float64         `json:"maxLeverage"`
}

// Decision is the audit record of one risk check. Quantity is the allowed
// quantity: the requested one on accept, the reduced one on clip, zero on
// reject.
type Decision struct {
	OrderID  schema.OrderID
	Action   Action
	Reason   Reason
	Quantity schema.Quantity
}

// Engine evaluates orders against the configured caps. Strategies may adjust
// caps between events through the context's risk setter.
type Engine struct {
	caps Caps
}

// NewEngine creates a risk engine with the given caps.
func NewEngine(caps Caps) *Engine {
	return &Engine{caps: caps}
}

// Caps returns the current limits.
func (e *Engine) Caps() Caps {
	return e.caps
}

// SetCaps replaces the limits.
func (e *Engine) SetCaps(caps Caps) {
	e.caps = caps
}

// Check validates an order against the caps given a pre-trade snapshot.
// refPrice is the arrival mark for the order's symbol and rateToBase converts
// the instrument currency to the snapshot's base currency. Clipping reduces
// by the minimum amount needed, rounding down to lotSize; an order with no
// feasible partial size is rejected with the binding cap as reason.
func (e *Engine) Check(order schema.Order, snap portfolio.Snapshot, refPrice schema.Price, rateToBase schema.Rate, lotSize schema.Quantity) Decision {
	decision := Decision{OrderID: order.ID, Action: ActionAccept, Quantity: order.Quantity}

	if order.Quantity <= 0 {
		return Decision{OrderID: order.ID, Action: ActionReject, Reason: ReasonInvalidQuantity}
	}
	if (order.Type == schema.OrderTypeLimit || order.Type == schema.OrderTypeStopLimit) && order.LimitPrice <= 0 {
		return Decision{OrderID: order.ID, Action: ActionReject, Reason: ReasonMissingLimitPrice}
	}
	if (order.Type == schema.OrderTypeStop || order.Type == schema.OrderTypeStopLimit) && order.StopPrice <= 0 {
		return Decision{OrderID: order.ID, Action: ActionReject, Reason: ReasonMissingStopPrice}
	}
	if lotSize <= 0 {
		lotSize = 1
	}

	perShare := schema.Convert(schema.MulPrice(refPrice, 1), rateToBase)
	if perShare <= 0 {
		// Without a usable reference price exposure caps cannot bind.
		return decision
	}

	sign := order.Side.Sign()
	symbolMV := symbolExposure(snap, order.SymbolID)

	// For each enabled cap, the maximum allowed trade notional in the order's
	// direction. The binding cap is the one with the smallest allowance.
	allowed := order.Quantity
	reason := ReasonNone

	apply := func(maxNotional schema.Notional, r Reason) {
		if maxNotional < 0 {
			maxNotional = 0
		}
		qty := schema.Quantity(int64(maxNotional) / int64(perShare))
		qty = (qty / lotSize) * lotSize
		if qty < allowed {
			allowed = qty
			reason = r
		}
	}

	if e.caps.MaxPerSymbol > 0 {
		apply(directionalAllowance(symbolMV, sign, e.caps.MaxPerSymbol), ReasonMaxPerSymbol)
	}
	if e.caps.MaxNet > 0 {
		apply(directionalAllowance(snap.NetExposure, sign, e.caps.MaxNet), ReasonMaxNet)
	}
	if e.caps.MaxGross > 0 {
		apply(grossAllowance(snap.GrossExposure, symbolMV, sign, e.caps.MaxGross), ReasonMaxGross)
	}
	if e.caps.MaxLeverage > 0 && snap.Equity > 0 {
		budget := schema.Notional(e.caps.MaxLeverage * float64(snap.Equity))
		apply(grossAllowance(snap.GrossExposure, symbolMV, sign, budget), ReasonMaxLeverage)
	}

	switch {
	case allowed >= order.Quantity:
		return decision
	case allowed >= lotSize:
		return Decision{OrderID: order.ID, Action: ActionClip, Reason: reason, Quantity: allowed}
	default:
		return Decision{OrderID: order.ID, Action: ActionReject, Reason: reason}
	}
}

func symbolExposure(snap portfolio.Snapshot, id schema.SymbolID) schema.Notional {
	for _, pos := range snap.Positions {
		if pos.SymbolID == id {
			return pos.MarketValue
		}
	}
	return 0
}

// directionalAllowance returns the maximum trade notional m >= 0 such that
// |current + sign*m| <= cap.
func directionalAllowance(current schema.Notional, sign int64, cap schema.Notional) schema.Notional {
	if sign > 0 {
		return cap - current
	}
	return cap + current
}

// grossAllowance returns the maximum trade notional m >= 0 such that
// gross - |sym| + |sym + sign*m| <= budget. Trading against an existing
// position first unwinds it before adding new exposure.
func grossAllowance(gross, symbolMV schema.Notional, sign int64, budget schema.Notional) schema.Notional {
	headroom := budget - gross
	var reduce schema.Notional
	if sign > 0 && symbolMV < 0 {
		reduce = -symbolMV
	} else if sign < 0 && symbolMV > 0 {
		reduce = symbolMV
	}
	return headroom + 2*reduce
}
