package strategy

import (
	"quant/internal/pit"
	"quant/internal/schema"
)

// Momentum is a long-only rate-of-change strategy with hysteresis: it enters
// when momentum exceeds Enter and exits only once it decays below Exit, so a
// signal oscillating between the two thresholds does not churn the book.
type Momentum struct {
	Lookback  int
	Enter     float64
	Exit      float64
	TargetVol float64
}

func (m *Momentum) OnStart(ctx Context) error { return nil }
func (m *Momentum) OnEnd(ctx Context) error   { return nil }

func (m *Momentum) OnEvent(ctx Context, evt schema.Event) error {
	if evt.Type != schema.EventBar {
		return nil
	}
	rows, err := ctx.Data().Bars(evt.SymbolID, m.Lookback+1, ctx.Now())
	if err != nil {
		return err
	}
	if len(rows) <= m.Lookback {
		return nil
	}
	closes := pit.Closes(rows)
	roc := ROC(closes, m.Lookback)

	pos := ctx.Portfolio().Quantity(evt.SymbolID)
	switch {
	case pos == 0 && roc > m.Enter:
		equity := ctx.Portfolio().LastSnapshot().Equity.Float()
		qty := VolTargetQuantity(equity, m.TargetVol, DailyVol(closes), closes[len(closes)-1])
		if qty <= 0 {
			return nil
		}
		_, _, err := ctx.Submit(OrderRequest{
			SymbolID:    evt.SymbolID,
			Side:        schema.OrderSideBuy,
			Quantity:    schema.Quantity(qty),
			Type:        schema.OrderTypeMarket,
			TimeInForce: schema.TimeInForceDay,
			Tag:         "momentum",
		})
		return err
	case pos > 0 && roc < m.Exit:
		_, _, err := ctx.Submit(OrderRequest{
			SymbolID:    evt.SymbolID,
			Side:        schema.OrderSideSell,
			Quantity:    pos,
			Type:        schema.OrderTypeMarket,
			TimeInForce: schema.TimeInForceDay,
			Urgency:     schema.UrgencyHigh,
			Tag:         "momentum",
		})
		return err
	}
	return nil
}
