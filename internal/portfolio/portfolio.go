// Package portfolio is the authoritative ledger of cash, lots, and P&L.
// It is mutated only by applying fills and corporate actions; by the time a
// fill reaches it, risk and execution have already validated it, so any
// invariant breach here is a fatal integrity error.
package portfolio

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"

	"quant/internal/schema"
)

var (
	// ErrIntegrity marks a ledger invariant breach. Fatal to the run.
	ErrIntegrity = stderrors.New("portfolio integrity violation")
)

// Lot is a discrete open quantity with its own entry price and time.
// Quantity is signed: positive lots form a long position, negative a short.
type Lot struct {
	Quantity   schema.Quantity
	EntryPrice schema.Price
	EntryTime  time.Time
}

// Position is an ordered sequence of open lots for one symbol. All lots share
// the same sign; closing consumes lots FIFO.
type Position struct {
	SymbolID schema.SymbolID
	Currency schema.Currency
	Lots     []Lot
}

// Quantity returns the aggregate signed position quantity.
func (p *Position) Quantity() schema.Quantity {
	var total schema.Quantity
	for _, lot := range p.Lots {
		total += lot.Quantity
	}
	return total
}

// CostBasis returns the total signed entry notional of the open lots.
func (p *Position) CostBasis() schema.Notional {
	var total schema.Notional
	for _, lot := range p.Lots {
		total += schema.MulPrice(lot.EntryPrice, lot.Quantity)
	}
	return total
}

// Portfolio tracks cash per currency and open positions per symbol. Realized
// P&L, fees, and borrow costs are accumulated in the base currency.
type Portfolio struct {
	base      schema.Currency
	cash      map[schema.Currency]schema.Notional
	positions map[schema.SymbolID]*Position

	realizedBase schema.Notional
	feesBase     schema.Notional
	borrowBase   schema.Notional
}

// New creates an empty portfolio reporting in the given base currency.
func New(base schema.Currency) *Portfolio {
	return &Portfolio{
		base:      base,
		cash:      make(map[schema.Currency]schema.Notional),
		positions: make(map[schema.SymbolID]*Position),
	}
}

// Base returns the reporting currency.
func (p *Portfolio) Base() schema.Currency {
	return p.base
}

// Deposit credits cash in the given currency.
func (p *Portfolio) Deposit(amount schema.Notional, ccy schema.Currency) {
	p.cash[ccy] += amount
}

// Cash returns the cash balance in the given currency.
func (p *Portfolio) Cash(ccy schema.Currency) schema.Notional {
	return p.cash[ccy]
}

// Position returns the open position for a symbol, or nil.
func (p *Portfolio) Position(id schema.SymbolID) *Position {
	return p.positions[id]
}

// RealizedBase returns cumulative realized P&L in the base currency.
func (p *Portfolio) RealizedBase() schema.Notional {
	return p.realizedBase
}

// FeesBase returns cumulative transaction fees in the base currency.
func (p *Portfolio) FeesBase() schema.Notional {
	return p.feesBase
}

// BorrowBase returns cumulative borrow costs in the base currency.
func (p *Portfolio) BorrowBase() schema.Notional {
	return p.borrowBase
}

// Applied summarizes one committed fill: the realized P&L delta in the base
// currency, how many open lots the fill consumed, and how many of those lots
// closed at a profit.
type Applied struct {
	Realized   schema.Notional
	LotsClosed int
	LotsWon    int
}

// Apply commits a fill to the ledger. Trade notional moves cash in the
// instrument currency; fees and borrow are charged to base-currency cash.
// rateToBase converts the instrument currency into the base currency at the
// fill instant.
func (p *Portfolio) Apply(fill schema.Fill, currency schema.Currency, rateToBase schema.Rate) (Applied, error) {
	if fill.Quantity <= 0 {
		return Applied{}, errors.Wrapf(ErrIntegrity, "fill quantity %d", fill.Quantity)
	}
	pos := p.positions[fill.SymbolID]
	if pos == nil {
		pos = &Position{SymbolID: fill.SymbolID, Currency: currency}
		p.positions[fill.SymbolID] = pos
	}

	signed := schema.Quantity(fill.Side.Sign() * int64(fill.Quantity))
	realizedLocal, lotsClosed, lotsWon, err := pos.applySigned(signed, fill.Price, fill.Ts)
	if err != nil {
		return Applied{}, err
	}
	if pos.Quantity() == 0 {
		delete(p.positions, fill.SymbolID)
	}

	// Cash moves by trade notional in the instrument currency.
	notional := schema.MulPrice(fill.Price, fill.Quantity)
	if fill.Side == schema.OrderSideBuy {
		p.cash[currency] -= notional
	} else {
		p.cash[currency] += notional
	}

	// Fees and borrow settle in base currency.
	fees := schema.Convert(schema.Notional(fill.Fees), rateToBase)
	borrow := schema.Convert(schema.Notional(fill.BorrowFee), rateToBase)
	p.cash[p.base] -= fees + borrow
	p.feesBase += fees
	p.borrowBase += borrow

	realized := schema.Convert(realizedLocal, rateToBase)
	p.realizedBase += realized
	return Applied{Realized: realized, LotsClosed: lotsClosed, LotsWon: lotsWon}, nil
}

// applySigned appends or consumes lots FIFO and returns realized P&L in the
// instrument currency plus the consumed-lot counts. A lot reduced but not
// emptied still counts as one consumed lot.
func (pos *Position) applySigned(delta schema.Quantity, price schema.Price, ts time.Time) (schema.Notional, int, int, error) {
	current := pos.Quantity()
	if current == 0 || sameSign(current, delta) {
		pos.Lots = append(pos.Lots, Lot{Quantity: delta, EntryPrice: price, EntryTime: ts})
		return 0, 0, 0, nil
	}

	// Reducing or flipping: consume lots oldest first.
	var realized schema.Notional
	var lotsClosed, lotsWon int
	remaining := delta
	for len(pos.Lots) > 0 && remaining != 0 && !sameSign(pos.Lots[0].Quantity, remaining) {
		lot := &pos.Lots[0]
		closed := minAbs(lot.Quantity, remaining)
		gain := schema.MulPrice(price-lot.EntryPrice, closed)
		realized += gain
		lotsClosed++
		if gain > 0 {
			lotsWon++
		}
		lot.Quantity -= closed
		remaining += closed
		if lot.Quantity == 0 {
			pos.Lots = pos.Lots[1:]
		} else if !sameSign(lot.Quantity, pos.direction()) {
			return 0, 0, 0, errors.Wrapf(ErrIntegrity, "lot sign flipped for symbol %d", pos.SymbolID)
		}
	}
	if remaining != 0 {
		// Flipped through zero: residual opens a new position at fill price.
		pos.Lots = append(pos.Lots, Lot{Quantity: remaining, EntryPrice: price, EntryTime: ts})
	}
	return realized, lotsClosed, lotsWon, nil
}

func (pos *Position) direction() schema.Quantity {
	if len(pos.Lots) == 0 {
		return 0
	}
	return pos.Lots[0].Quantity
}

// ChargeBorrow debits a short-holding cost from base-currency cash. The
// amount is already in the base currency.
func (p *Portfolio) ChargeBorrow(amount schema.Notional) {
	if amount <= 0 {
		return
	}
	p.cash[p.base] -= amount
	p.borrowBase += amount
}

// ApplyAction adjusts open lots for a split and credits dividend cash on the
// effective date. Each lot's cost basis is preserved across the split so P&L
// measured across the adjustment is unchanged. Returns the dividend cashflow
// in the instrument currency.
func (p *Portfolio) ApplyAction(id schema.SymbolID, action schema.CorporateAction) (schema.Notional, error) {
	pos := p.positions[id]
	if pos == nil || pos.Quantity() == 0 {
		return 0, nil
	}

	if action.SplitRatio > 0 && action.SplitRatio != 1.0 {
		for i := range pos.Lots {
			lot := &pos.Lots[i]
			basis := schema.MulPrice(lot.EntryPrice, lot.Quantity)
			newQty := schema.Quantity(roundHalfAway(float64(lot.Quantity) * action.SplitRatio))
			if newQty == 0 || !sameSign(newQty, lot.Quantity) {
				return 0, errors.Wrapf(ErrIntegrity, "split ratio %f wiped lot for symbol %d", action.SplitRatio, id)
			}
			lot.Quantity = newQty
			lot.EntryPrice = schema.Price((int64(basis) + int64(newQty)/2) / int64(newQty))
		}
	}

	var dividend schema.Notional
	if action.Dividend != 0 {
		dividend = schema.MulPrice(action.Dividend, pos.Quantity())
		p.cash[pos.Currency] += dividend
	}
	return dividend, nil
}

// MarkError is returned when a snapshot is requested without a mark price for
// an open position.
var MarkError = stderrors.New("missing mark price for open position")

// PositionMark pairs an open symbol with its mark price and FX rate.
type PositionMark struct {
	Price      schema.Price
	RateToBase schema.Rate
}

// PositionSnapshot is a lot-level view of one open position.
type PositionSnapshot struct {
	SymbolID      schema.SymbolID
	Currency      schema.Currency
	Quantity      schema.Quantity
	CostBasis     schema.Notional
	MarketValue   schema.Notional
	UnrealizedPnL schema.Notional
	Lots          []Lot
}

// Snapshot is a point-in-time view of the ledger in the base currency.
type Snapshot struct {
	Ts            time.Time
	CashBase      schema.Notional
	Equity        schema.Notional
	GrossExposure schema.Notional
	NetExposure   schema.Notional
	MarginUsed    schema.Notional
	Leverage      float64
	RealizedPnL   schema.Notional
	UnrealizedPnL schema.Notional
	Fees          schema.Notional
	Borrow        schema.Notional
	Positions     []PositionSnapshot
}

// Snapshot values the ledger at the given marks. cashRates converts each
// held cash currency to base; marks must cover every open symbol.
func (p *Portfolio) Snapshot(ts time.Time, marks map[schema.SymbolID]PositionMark, cashRates map[schema.Currency]schema.Rate) (Snapshot, error) {
	snap := Snapshot{
		Ts:          ts,
		RealizedPnL: p.realizedBase,
		Fees:        p.feesBase,
		Borrow:      p.borrowBase,
	}

	for ccy, amount := range p.cash {
		if ccy == p.base {
			snap.CashBase += amount
			continue
		}
		rate, ok := cashRates[ccy]
		if !ok {
			return Snapshot{}, errors.Wrapf(MarkError, "no fx rate for cash currency %s", ccy)
		}
		snap.CashBase += schema.Convert(amount, rate)
	}

	for _, id := range sortedSymbolIDs(p.positions) {
		pos := p.positions[id]
		mark, ok := marks[id]
		if !ok {
			return Snapshot{}, errors.Wrapf(MarkError, "symbol %d", id)
		}
		qty := pos.Quantity()
		mvLocal := schema.MulPrice(mark.Price, qty)
		mv := schema.Convert(mvLocal, mark.RateToBase)
		unrealized := schema.Convert(mvLocal-pos.CostBasis(), mark.RateToBase)

		snap.NetExposure += mv
		if mv < 0 {
			snap.GrossExposure -= mv
		} else {
			snap.GrossExposure += mv
		}
		snap.UnrealizedPnL += unrealized
		snap.Positions = append(snap.Positions, PositionSnapshot{
			SymbolID:      id,
			Currency:      pos.Currency,
			Quantity:      qty,
			CostBasis:     pos.CostBasis(),
			MarketValue:   mv,
			UnrealizedPnL: unrealized,
			Lots:          append([]Lot(nil), pos.Lots...),
		})
	}

	snap.Equity = snap.CashBase + snap.NetExposure
	snap.MarginUsed = snap.GrossExposure
	if snap.Equity != 0 {
		snap.Leverage = snap.GrossExposure.Float() / snap.Equity.Float()
		if snap.Leverage < 0 {
			snap.Leverage = -snap.Leverage
		}
	}
	return snap, nil
}

func sortedSymbolIDs(m map[schema.SymbolID]*Position) []schema.SymbolID {
	out := make([]schema.SymbolID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func sameSign(a, b schema.Quantity) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func minAbs(lot, remaining schema.Quantity) schema.Quantity {
	abs := func(q schema.Quantity) schema.Quantity {
		if q < 0 {
			return -q
		}
		return q
	}
	closed := abs(lot)
	if abs(remaining) < closed {
		closed = abs(remaining)
	}
	if lot < 0 {
		return -closed
	}
	return closed
}

func roundHalfAway(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}
