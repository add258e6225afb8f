package risk

import (
	"testing"

	"quant/internal/portfolio"
	"quant/internal/schema"
)

const one = schema.Rate(schema.RateUnit)

func order(side schema.OrderSide, qty schema.Quantity) schema.Order {
	return schema.Order{ID: 1, SymbolID: 1, Side: side, Quantity: qty, Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceDay}
}

func snapshot(equity, gross, net schema.Notional, positions ...portfolio.PositionSnapshot) portfolio.Snapshot {
	return portfolio.Snapshot{Equity: equity, GrossExposure: gross, NetExposure: net, Positions: positions}
}

func TestCheck(t *testing.T) {
	flat := snapshot(100_000_0000, 0, 0)
	longPos := snapshot(100_000_0000, 50_000_0000, 50_000_0000, portfolio.PositionSnapshot{
		SymbolID: 1, MarketValue: 50_000_0000, Quantity: 500,
	})

	testCases := []struct {
		desc       string
		caps       Caps
		snap       portfolio.Snapshot
		order      schema.Order
		lotSize    schema.Quantity
		wantAction Action
		wantReason Reason
		wantQty    schema.Quantity
	}{
		{
			"no caps accepts",
			Caps{}, flat, order(schema.OrderSideBuy, 100), 1,
			ActionAccept, ReasonNone, 100,
		},
		{
			"within per-symbol cap",
			Caps{MaxPerSymbol: 20_000_0000}, flat, order(schema.OrderSideBuy, 100), 1,
			ActionAccept, ReasonNone, 100,
		},
		{
			"clipped to per-symbol cap",
			Caps{MaxPerSymbol: 5_000_0000}, flat, order(schema.OrderSideBuy, 100), 1,
			ActionClip, ReasonMaxPerSymbol, 50,
		},
		{
			"clip rounds down to lot size",
			Caps{MaxPerSymbol: 5_500_0000}, flat, order(schema.OrderSideBuy, 100), 10,
			ActionClip, ReasonMaxPerSymbol, 50,
		},
		{
			"rejected when no feasible lot",
			Caps{MaxPerSymbol: 50_0000}, flat, order(schema.OrderSideBuy, 100), 10,
			ActionReject, ReasonMaxPerSymbol, 0,
		},
		{
			"reducing sell always passes per-symbol",
			Caps{MaxPerSymbol: 50_000_0000}, longPos, order(schema.OrderSideSell, 100), 1,
			ActionAccept, ReasonNone, 100,
		},
		{
			"gross cap counts existing exposure",
			Caps{MaxGross: 55_000_0000}, longPos, order(schema.OrderSideBuy, 100), 1,
			ActionClip, ReasonMaxGross, 50,
		},
		{
			"leverage cap binds",
			Caps{MaxLeverage: 0.6}, longPos, order(schema.OrderSideBuy, 200), 1,
			ActionClip, ReasonMaxLeverage, 100,
		},
		{
			"net cap allows shorting against longs",
			Caps{MaxNet: 60_000_0000}, longPos, order(schema.OrderSideSell, 1000), 1,
			ActionAccept, ReasonNone, 1000,
		},
		{
			"zero quantity rejected",
			Caps{}, flat, order(schema.OrderSideBuy, 0), 1,
			ActionReject, ReasonInvalidQuantity, 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			engine := NewEngine(tc.caps)
			d := engine.Check(tc.order, tc.snap, 100_0000, one, tc.lotSize)
			if d.Action != tc.wantAction {
				t.Fatalf("action mismatch! should be %s but got %s", tc.wantAction, d.Action)
			}
			if d.Reason != tc.wantReason {
				t.Fatalf("reason mismatch! should be %q but got %q", tc.wantReason, d.Reason)
			}
			if d.Quantity != tc.wantQty {
				t.Fatalf("quantity mismatch! should be %d but got %d", tc.wantQty, d.Quantity)
			}
		})
	}
}

func TestLimitOrderValidation(t *testing.T) {
	engine := NewEngine(Caps{})
	snap := snapshot(100_000_0000, 0, 0)

	limit := order(schema.OrderSideBuy, 10)
	limit.Type = schema.OrderTypeLimit
	d := engine.Check(limit, snap, 100_0000, one, 1)
	if d.Action != ActionReject || d.Reason != ReasonMissingLimitPrice {
		t.Fatalf("expected missing limit price rejection, got %s/%s", d.Action, d.Reason)
	}

	stop := order(schema.OrderSideSell, 10)
	stop.Type = schema.OrderTypeStop
	d = engine.Check(stop, snap, 100_0000, one, 1)
	if d.Action != ActionReject || d.Reason != ReasonMissingStopPrice {
		t.Fatalf("expected missing stop price rejection, got %s/%s", d.Action, d.Reason)
	}
}
