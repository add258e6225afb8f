package strategy

import (
	"quant/internal/pit"
	"quant/internal/schema"
)

// Bollinger is a mean-reversion strategy: enter when the close breaks a band
// of K sample deviations around the rolling mean, exit when it reverts past
// the mean. Position size targets a constant daily volatility.
type Bollinger struct {
	Window    int
	K         float64
	TargetVol float64
}

func (b *Bollinger) OnStart(ctx Context) error { return nil }
func (b *Bollinger) OnEnd(ctx Context) error   { return nil }

func (b *Bollinger) OnEvent(ctx Context, evt schema.Event) error {
	if evt.Type != schema.EventBar {
		return nil
	}
	rows, err := ctx.Data().Bars(evt.SymbolID, b.Window, ctx.Now())
	if err != nil {
		return err
	}
	if len(rows) < b.Window {
		return nil
	}
	closes := pit.Closes(rows)
	last := closes[len(closes)-1]
	z := ZScore(last, closes)

	pos := ctx.Portfolio().Quantity(evt.SymbolID)
	switch {
	case pos == 0 && z < -b.K:
		return b.enter(ctx, evt.SymbolID, schema.OrderSideBuy, closes, last)
	case pos == 0 && z > b.K:
		return b.enter(ctx, evt.SymbolID, schema.OrderSideSell, closes, last)
	case pos > 0 && z > 0:
		return b.exit(ctx, evt.SymbolID, schema.OrderSideSell, pos)
	case pos < 0 && z < 0:
		return b.exit(ctx, evt.SymbolID, schema.OrderSideBuy, -pos)
	}
	return nil
}

func (b *Bollinger) enter(ctx Context, id schema.SymbolID, side schema.OrderSide, closes []float64, price float64) error {
	equity := ctx.Portfolio().LastSnapshot().Equity.Float()
	qty := VolTargetQuantity(equity, b.TargetVol, DailyVol(closes), price)
	if qty <= 0 {
		return nil
	}
	_, _, err := ctx.Submit(OrderRequest{
		SymbolID:    id,
		Side:        side,
		Quantity:    schema.Quantity(qty),
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TimeInForceDay,
		Tag:         "bollinger",
	})
	return err
}

func (b *Bollinger) exit(ctx Context, id schema.SymbolID, side schema.OrderSide, qty schema.Quantity) error {
	_, _, err := ctx.Submit(OrderRequest{
		SymbolID:    id,
		Side:        side,
		Quantity:    qty,
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TimeInForceDay,
		Urgency:     schema.UrgencyHigh,
		Tag:         "bollinger",
	})
	return err
}
