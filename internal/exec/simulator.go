// Package exec simulates order execution against historical market events,
// applying slippage, market impact, and transaction costs. Orders live in an
// arena keyed by generated ids; cancellation and matching operate over ids,
// never object references.
package exec

import (
	stderrors "errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"quant/internal/cost"
	"quant/internal/schema"
)

var (
	ErrDuplicateOrder = stderrors.New("order already exists")
	ErrUnknownOrder   = stderrors.New("order not found")
)

// quote is the simulator's view of one market event.
type quote struct {
	bid, ask schema.Price
	volume   schema.Quantity
}

func (q quote) mid() float64 {
	return (q.bid.Float() + q.ask.Float()) / 2
}

func (q quote) spread() float64 {
	return q.ask.Float() - q.bid.Float()
}

type orderState struct {
	order      schema.Order
	state      schema.OrderState
	filled     schema.Quantity
	triggered  bool
	arrivalMid schema.Price
	reason     string
	riskReason string
	closedAt   time.Time
}

func (s *orderState) remaining() schema.Quantity {
	return s.order.Quantity - s.filled
}

// OrderView is the audit snapshot of one order for artifact emission.
// Reason records the terminal lifecycle cause; RiskReason records the cap
// that clipped the order at submission, if any.
type OrderView struct {
	Order      schema.Order
	State      schema.OrderState
	Filled     schema.Quantity
	ArrivalMid schema.Price
	Reason     string
	RiskReason string
	ClosedAt   time.Time
}

// Simulator matches pending orders against market events. All randomness
// (queue-priority jitter) comes from the run-scoped seeded generator, drawn
// in arrival order, so identical inputs replay identical fills.
type Simulator struct {
	cfg   Config
	costs *cost.Calculator
	rng   *rand.Rand
	stats map[schema.SymbolID]SymbolStats

	orders  map[schema.OrderID]*orderState
	arrival []schema.OrderID
	byTag   map[string][]schema.OrderID

	nextFillID schema.FillID
}

// NewSimulator creates a simulator. stats may be nil when impact is disabled;
// costs may be nil for free execution.
func NewSimulator(cfg Config, costs *cost.Calculator, stats map[schema.SymbolID]SymbolStats, rng *rand.Rand) *Simulator {
	if costs == nil {
		costs = cost.NewCalculator(nil)
	}
	return &Simulator{
		cfg:    cfg,
		costs:  costs,
		rng:    rng,
		stats:  stats,
		orders: make(map[schema.OrderID]*orderState),
		byTag:  make(map[string][]schema.OrderID),
	}
}

// Submit registers a validated order as Pending.
func (s *Simulator) Submit(order schema.Order) error {
	if _, ok := s.orders[order.ID]; ok {
		return errors.Wrapf(ErrDuplicateOrder, "id %d", order.ID)
	}
	st := &orderState{order: order, state: schema.OrderStatePending}
	s.orders[order.ID] = st
	s.arrival = append(s.arrival, order.ID)
	if order.Tag != "" {
		s.byTag[order.Tag] = append(s.byTag[order.Tag], order.ID)
	}
	return nil
}

// SetRiskReason annotates an order with the risk cap that reduced it at
// submission. Unknown ids are ignored.
func (s *Simulator) SetRiskReason(id schema.OrderID, reason string) {
	if st, ok := s.orders[id]; ok {
		st.riskReason = reason
	}
}

// Cancel transitions a non-terminal order to Cancelled. Cancelling an
// already-terminal or unknown order is a no-op.
func (s *Simulator) Cancel(id schema.OrderID, ts time.Time) {
	st, ok := s.orders[id]
	if !ok || st.state.Terminal() {
		return
	}
	st.state = schema.OrderStateCancelled
	st.reason = "cancelled"
	st.closedAt = ts
}

// CancelTag cancels every non-terminal order carrying the tag. Idempotent.
func (s *Simulator) CancelTag(tag string, ts time.Time) {
	for _, id := range s.byTag[tag] {
		s.Cancel(id, ts)
	}
}

// OnMarketEvent matches pending orders of the event's symbol, in arrival
// order, and returns the fills. venue selects the cost profile.
func (s *Simulator) OnMarketEvent(evt schema.Event, venue string) ([]schema.Fill, error) {
	q, ok := s.quoteFor(evt)
	if !ok {
		return nil, nil
	}

	var fills []schema.Fill
	for _, id := range s.arrival {
		st := s.orders[id]
		if st.state.Terminal() || st.order.SymbolID != evt.SymbolID {
			continue
		}
		if st.arrivalMid == 0 {
			st.arrivalMid = schema.PriceFromFloat(q.mid())
		}
		fill, err := s.match(st, q, venue, evt.Ts)
		if err != nil {
			return nil, err
		}
		if fill != nil {
			fills = append(fills, *fill)
		}
	}
	return fills, nil
}

// match attempts one fill for one order against the event quote.
func (s *Simulator) match(st *orderState, q quote, venue string, ts time.Time) (*schema.Fill, error) {
	order := st.order

	// Stop orders are inert until the trigger price is crossed.
	if !st.triggered && (order.Type == schema.OrderTypeStop || order.Type == schema.OrderTypeStopLimit) {
		mid := schema.PriceFromFloat(q.mid())
		if order.Side == schema.OrderSideBuy && mid < order.StopPrice {
			return nil, nil
		}
		if order.Side == schema.OrderSideSell && mid > order.StopPrice {
			return nil, nil
		}
		st.triggered = true
	}

	effective := order.Type
	switch order.Type {
	case schema.OrderTypeStop:
		effective = schema.OrderTypeMarket
	case schema.OrderTypeStopLimit:
		effective = schema.OrderTypeLimit
	}

	// Limit orders fill only when the book crosses the limit.
	if effective == schema.OrderTypeLimit {
		if order.Side == schema.OrderSideBuy && q.ask > order.LimitPrice {
			return nil, nil
		}
		if order.Side == schema.OrderSideSell && q.bid < order.LimitPrice {
			return nil, nil
		}
	}

	// Queue-priority heuristic: a single event yields at most a jittered
	// fraction of its traded volume. One RNG draw per qualifying attempt,
	// in arrival order, keeps replays bit-identical.
	remaining := st.remaining()
	fillable := remaining
	if q.volume > 0 && s.cfg.ParticipationRate > 0 {
		jitter := 0.75 + 0.25*s.rng.Float64()
		bound := schema.Quantity(s.cfg.ParticipationRate * float64(q.volume) * jitter)
		if bound < fillable {
			fillable = bound
		}
	}
	if order.TimeInForce == schema.TimeInForceFOK && fillable < remaining {
		st.state = schema.OrderStateCancelled
		st.reason = "fok_unfillable"
		st.closedAt = ts
		return nil, nil
	}
	if fillable <= 0 {
		if order.TimeInForce == schema.TimeInForceIOC {
			st.state = schema.OrderStateCancelled
			st.reason = "ioc_no_liquidity"
			st.closedAt = ts
		}
		return nil, nil
	}

	price, slip, impact := s.price(order, effective, q, fillable)

	fee, err := s.costs.Cost(venue, order.Side, fillable, price)
	if err != nil {
		return nil, err
	}

	st.filled += fillable
	if st.filled >= order.Quantity {
		st.state = schema.OrderStateFilled
		st.closedAt = ts
	} else {
		st.state = schema.OrderStatePartFilled
		if order.TimeInForce == schema.TimeInForceIOC {
			st.state = schema.OrderStateCancelled
			st.reason = "ioc_partial"
			st.closedAt = ts
		}
	}

	s.nextFillID++
	return &schema.Fill{
		OrderID:           order.ID,
		FillID:            s.nextFillID,
		Ts:                ts,
		SymbolID:          order.SymbolID,
		Side:              order.Side,
		Quantity:          fillable,
		Price:             price,
		Fees:              fee,
		SlippageComponent: slip,
		ImpactComponent:   impact,
	}, nil
}

// price computes the execution price and its recorded components.
func (s *Simulator) price(order schema.Order, effective schema.OrderType, q quote, qty schema.Quantity) (schema.Price, schema.Price, schema.Price) {
	mid := q.mid()
	spread := q.spread()
	sign := float64(order.Side.Sign())

	k := s.cfg.KLimit
	if effective == schema.OrderTypeMarket {
		k = s.cfg.KMarket
		if order.Urgency == schema.UrgencyHigh {
			k *= s.cfg.UrgencyBoost
		}
	}

	impact := 0.0
	if st, ok := s.stats[order.SymbolID]; ok && st.ADV > 0 && s.cfg.ImpactAlpha > 0 {
		impact = sign * st.Sigma * math.Sqrt(float64(qty)/st.ADV) * s.cfg.ImpactAlpha
	}

	target := mid + impact + sign*k*spread

	switch effective {
	case schema.OrderTypeLimit:
		// Clamp into the quoted book, then respect the limit.
		target = math.Min(math.Max(target, q.bid.Float()), q.ask.Float())
		limit := order.LimitPrice.Float()
		if order.Side == schema.OrderSideBuy && target > limit {
			target = limit
		}
		if order.Side == schema.OrderSideSell && target < limit {
			target = limit
		}
	default:
		// Market orders may pay through the touch on impact, but never
		// more than the guardrail margin beyond the worst quote.
		guard := s.cfg.GuardrailBps / 10000.0
		if order.Side == schema.OrderSideBuy {
			target = math.Max(target, q.bid.Float())
			target = math.Min(target, q.ask.Float()*(1+guard))
		} else {
			target = math.Min(target, q.ask.Float())
			target = math.Max(target, q.bid.Float()*(1-guard))
		}
	}

	price := schema.PriceFromFloat(target)
	impactPx := schema.PriceFromFloat(impact)
	slipPx := price - schema.PriceFromFloat(mid) - impactPx
	return price, slipPx, impactPx
}

// quoteFor derives bid/ask/volume from a market event. Bars get a synthetic
// spread around the close; clock and corporate-action events do not trade.
func (s *Simulator) quoteFor(evt schema.Event) (quote, bool) {
	switch evt.Type {
	case schema.EventBar:
		px := evt.Bar.Close.Float()
		half := px * (s.cfg.SpreadBps / 10000.0) / 2
		return quote{
			bid:    schema.PriceFromFloat(px - half),
			ask:    schema.PriceFromFloat(px + half),
			volume: evt.Bar.Volume,
		}, true
	case schema.EventQuote:
		return quote{
			bid:    evt.Quote.BidPrice,
			ask:    evt.Quote.AskPrice,
			volume: evt.Quote.BidSize + evt.Quote.AskSize,
		}, true
	case schema.EventTrade:
		return quote{
			bid:    evt.Trade.Price,
			ask:    evt.Trade.Price,
			volume: evt.Trade.Size,
		}, true
	default:
		return quote{}, false
	}
}

// ExpireSession expires DAY orders for symbols matched by onExchange at a
// session close. Returns the expired order ids.
func (s *Simulator) ExpireSession(ts time.Time, onExchange func(schema.SymbolID) bool) []schema.OrderID {
	var expired []schema.OrderID
	for _, id := range s.arrival {
		st := s.orders[id]
		if st.state.Terminal() || st.order.TimeInForce != schema.TimeInForceDay {
			continue
		}
		if onExchange != nil && !onExchange(st.order.SymbolID) {
			continue
		}
		st.state = schema.OrderStateExpired
		st.reason = "day_expired"
		st.closedAt = ts
		expired = append(expired, id)
	}
	return expired
}

// Order returns the audit view of one order.
func (s *Simulator) Order(id schema.OrderID) (OrderView, error) {
	st, ok := s.orders[id]
	if !ok {
		return OrderView{}, errors.Wrapf(ErrUnknownOrder, "id %d", id)
	}
	return st.view(), nil
}

// Orders returns audit views of every submitted order, sorted by id.
func (s *Simulator) Orders() []OrderView {
	out := make([]OrderView, 0, len(s.orders))
	for _, st := range s.orders {
		out = append(out, st.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.ID < out[j].Order.ID })
	return out
}

// PendingCount returns the number of non-terminal orders.
func (s *Simulator) PendingCount() int {
	count := 0
	for _, st := range s.orders {
		if !st.state.Terminal() {
			count++
		}
	}
	return count
}

func (st *orderState) view() OrderView {
	return OrderView{
		Order:      st.order,
		State:      st.state,
		Filled:     st.filled,
		ArrivalMid: st.arrivalMid,
		Reason:     st.reason,
		RiskReason: st.riskReason,
		ClosedAt:   st.closedAt,
	}
}
