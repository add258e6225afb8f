package exec

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/internal/cost"
	"quant/internal/schema"
)

func barEvent(sym schema.SymbolID, ts time.Time, close float64, volume schema.Quantity) schema.Event {
	return schema.Event{
		Ts:       ts,
		Type:     schema.EventBar,
		SymbolID: sym,
		Bar: &schema.Bar{
			Open:   schema.PriceFromFloat(close),
			High:   schema.PriceFromFloat(close * 1.01),
			Low:    schema.PriceFromFloat(close * 0.99),
			Close:  schema.PriceFromFloat(close),
			Volume: volume,
		},
	}
}

func quoteEvent(sym schema.SymbolID, ts time.Time, bid, ask float64, size schema.Quantity) schema.Event {
	return schema.Event{
		Ts:       ts,
		Type:     schema.EventQuote,
		SymbolID: sym,
		Quote: &schema.Quote{
			BidPrice: schema.PriceFromFloat(bid),
			BidSize:  size,
			AskPrice: schema.PriceFromFloat(ask),
			AskSize:  size,
		},
	}
}

func newTestSim(cfg Config) *Simulator {
	return NewSimulator(cfg, nil, nil, rand.New(rand.NewSource(42)))
}

func TestMarketOrderFillsWithinBook(t *testing.T) {
	sim := newTestSim(DefaultConfig())
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID:          1,
		SymbolID:    7,
		Side:        schema.OrderSideBuy,
		Quantity:    100,
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TimeInForceGTC,
		SubmittedAt: ts,
	}))

	evt := quoteEvent(7, ts, 99.95, 100.05, 100000)
	fills, err := sim.OnMarketEvent(evt, "")
	require.NoError(t, err)
	require.Len(t, fills, 1)

	fill := fills[0]
	if fill.Quantity != 100 {
		t.Fatalf("fill quantity mismatch! should be 100 but got %d", fill.Quantity)
	}
	// A buy never fills below the bid nor above the ask plus the guardrail.
	assert.GreaterOrEqual(t, fill.Price, schema.PriceFromFloat(99.95))
	guard := 100.05 * (1 + DefaultConfig().GuardrailBps/10000.0)
	assert.LessOrEqual(t, fill.Price, schema.PriceFromFloat(guard))

	view, err := sim.Order(1)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStateFilled, view.State)
	assert.Equal(t, schema.PriceFromFloat(100.0), view.ArrivalMid)
}

func TestBarQuoteSplitsFullSpread(t *testing.T) {
	// SpreadBps is the full spread: at close 100 with 5 bps the book is
	// 99.975 x 100.025, so a full-crossing buy pays the ask.
	sim := newTestSim(Config{KMarket: 1.0, SpreadBps: 5})
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 10,
		Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceGTC,
		SubmittedAt: ts,
	}))

	fills, err := sim.OnMarketEvent(barEvent(7, ts, 100.0, 100000), "")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	if want := schema.PriceFromFloat(100.025); fills[0].Price != want {
		t.Fatalf("fill price mismatch! should be %d but got %d", want, fills[0].Price)
	}

	view, err := sim.Order(1)
	require.NoError(t, err)
	assert.Equal(t, schema.PriceFromFloat(100.0), view.ArrivalMid)
}

func TestUrgentBuyCrossesMoreSpread(t *testing.T) {
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)
	evt := quoteEvent(7, ts, 99.0, 101.0, 100000)

	price := func(urgency schema.Urgency) schema.Price {
		sim := newTestSim(DefaultConfig())
		require.NoError(t, sim.Submit(schema.Order{
			ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 10,
			Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceGTC,
			Urgency: urgency, SubmittedAt: ts,
		}))
		fills, err := sim.OnMarketEvent(evt, "")
		require.NoError(t, err)
		require.Len(t, fills, 1)
		return fills[0].Price
	}

	if normal, urgent := price(schema.UrgencyNormal), price(schema.UrgencyHigh); urgent <= normal {
		t.Fatalf("urgent price mismatch! should exceed %d but got %d", normal, urgent)
	}
}

func TestLimitOrderWaitsForCross(t *testing.T) {
	sim := newTestSim(DefaultConfig())
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 50,
		Type: schema.OrderTypeLimit, LimitPrice: schema.PriceFromFloat(99.0),
		TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts,
	}))

	fills, err := sim.OnMarketEvent(quoteEvent(7, ts, 99.5, 99.6, 100000), "")
	require.NoError(t, err)
	assert.Empty(t, fills, "ask above limit must not fill")

	fills, err = sim.OnMarketEvent(quoteEvent(7, ts.Add(time.Minute), 98.8, 98.9, 100000), "")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	// Limit discipline: a buy pays at most the limit price.
	assert.LessOrEqual(t, fills[0].Price, schema.PriceFromFloat(99.0))
}

func TestStopOrderTriggersThenFills(t *testing.T) {
	sim := newTestSim(DefaultConfig())
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideSell, Quantity: 30,
		Type: schema.OrderTypeStop, StopPrice: schema.PriceFromFloat(95.0),
		TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts,
	}))

	fills, err := sim.OnMarketEvent(quoteEvent(7, ts, 96.0, 96.1, 100000), "")
	require.NoError(t, err)
	assert.Empty(t, fills, "stop must stay inert above the trigger")

	fills, err = sim.OnMarketEvent(quoteEvent(7, ts.Add(time.Minute), 94.5, 94.6, 100000), "")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, schema.Quantity(30), fills[0].Quantity)
}

func TestParticipationCapPartialFill(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParticipationRate = 0.1
	sim := newTestSim(cfg)
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 500,
		Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts,
	}))

	// Volume 1000 bounds a single event to at most 100 shares before jitter.
	fills, err := sim.OnMarketEvent(barEvent(7, ts, 100.0, 1000), "")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	if fills[0].Quantity > 100 {
		t.Fatalf("participation cap mismatch! should be <= 100 but got %d", fills[0].Quantity)
	}

	view, err := sim.Order(1)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatePartFilled, view.State)

	// The remainder keeps filling on later events.
	fills, err = sim.OnMarketEvent(barEvent(7, ts.Add(time.Minute), 100.0, 100000), "")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	view, _ = sim.Order(1)
	assert.Equal(t, schema.OrderStateFilled, view.State)
	assert.Equal(t, schema.Quantity(500), view.Filled)
}

func TestIOCCancelsRemainder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParticipationRate = 0.1
	sim := newTestSim(cfg)
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 500,
		Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceIOC, SubmittedAt: ts,
	}))

	fills, err := sim.OnMarketEvent(barEvent(7, ts, 100.0, 1000), "")
	require.NoError(t, err)
	require.Len(t, fills, 1)

	view, err := sim.Order(1)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStateCancelled, view.State)
	assert.Equal(t, "ioc_partial", view.Reason)
	assert.Less(t, view.Filled, schema.Quantity(500))
}

func TestFOKAllOrCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParticipationRate = 0.1
	sim := newTestSim(cfg)
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 500,
		Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceFOK, SubmittedAt: ts,
	}))
	require.NoError(t, sim.Submit(schema.Order{
		ID: 2, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 10,
		Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceFOK, SubmittedAt: ts,
	}))

	fills, err := sim.OnMarketEvent(barEvent(7, ts, 100.0, 1000), "")
	require.NoError(t, err)
	require.Len(t, fills, 1, "only the small order fits in one event")
	assert.Equal(t, schema.OrderID(2), fills[0].OrderID)
	assert.Equal(t, schema.Quantity(10), fills[0].Quantity)

	view, _ := sim.Order(1)
	assert.Equal(t, schema.OrderStateCancelled, view.State)
	assert.Equal(t, "fok_unfillable", view.Reason)
}

func TestDayOrdersExpireAtSessionClose(t *testing.T) {
	sim := newTestSim(DefaultConfig())
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 10,
		Type: schema.OrderTypeLimit, LimitPrice: schema.PriceFromFloat(1.0),
		TimeInForce: schema.TimeInForceDay, SubmittedAt: ts,
	}))
	require.NoError(t, sim.Submit(schema.Order{
		ID: 2, SymbolID: 8, Side: schema.OrderSideBuy, Quantity: 10,
		Type: schema.OrderTypeLimit, LimitPrice: schema.PriceFromFloat(1.0),
		TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts,
	}))

	closeTs := time.Date(2024, 3, 4, 21, 0, 0, 0, time.UTC)
	expired := sim.ExpireSession(closeTs, func(schema.SymbolID) bool { return true })
	require.Len(t, expired, 1)
	assert.Equal(t, schema.OrderID(1), expired[0])

	v1, _ := sim.Order(1)
	v2, _ := sim.Order(2)
	assert.Equal(t, schema.OrderStateExpired, v1.State)
	assert.Equal(t, schema.OrderStatePending, v2.State, "gtc order survives the close")
}

func TestCancelIsIdempotent(t *testing.T) {
	sim := newTestSim(DefaultConfig())
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 10,
		Type: schema.OrderTypeLimit, LimitPrice: schema.PriceFromFloat(1.0),
		TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts, Tag: "alpha",
	}))

	sim.Cancel(1, ts)
	sim.Cancel(1, ts.Add(time.Hour))
	sim.CancelTag("alpha", ts.Add(2*time.Hour))
	sim.Cancel(999, ts)

	view, err := sim.Order(1)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStateCancelled, view.State)
	assert.Equal(t, ts, view.ClosedAt, "first cancel wins")

	fills, err := sim.OnMarketEvent(quoteEvent(7, ts.Add(time.Minute), 0.5, 0.6, 100000), "")
	require.NoError(t, err)
	assert.Empty(t, fills, "cancelled order must not fill")
}

func TestDuplicateSubmitRejected(t *testing.T) {
	sim := newTestSim(DefaultConfig())
	order := schema.Order{ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 10, Type: schema.OrderTypeMarket}

	require.NoError(t, sim.Submit(order))
	err := sim.Submit(order)
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestImpactGrowsWithSize(t *testing.T) {
	stats := map[schema.SymbolID]SymbolStats{7: {Sigma: 2.0, ADV: 1e6}}
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	impact := func(qty schema.Quantity) schema.Price {
		sim := NewSimulator(DefaultConfig(), nil, stats, rand.New(rand.NewSource(42)))
		require.NoError(t, sim.Submit(schema.Order{
			ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: qty,
			Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts,
		}))
		fills, err := sim.OnMarketEvent(quoteEvent(7, ts, 99.0, 101.0, 1e9), "")
		require.NoError(t, err)
		require.Len(t, fills, 1)
		return fills[0].ImpactComponent
	}

	small, large := impact(100), impact(10000)
	if large <= small {
		t.Fatalf("impact mismatch! should grow with size but got %d <= %d", large, small)
	}
}

func TestFeesChargedThroughCalculator(t *testing.T) {
	calc := cost.NewCalculator(map[string]cost.Profile{
		"XNYS": {Type: "per_share_plus_fees", CommissionPerShare: 0.005},
	})
	sim := NewSimulator(DefaultConfig(), calc, nil, rand.New(rand.NewSource(42)))
	ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	require.NoError(t, sim.Submit(schema.Order{
		ID: 1, SymbolID: 7, Side: schema.OrderSideBuy, Quantity: 1000,
		Type: schema.OrderTypeMarket, TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts,
	}))

	fills, err := sim.OnMarketEvent(quoteEvent(7, ts, 99.95, 100.05, 1e6), "XNYS")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	want := schema.Fee(5 * schema.PriceUnit)
	if got := fills[0].Fees; got != want {
		t.Fatalf("fee mismatch! should be %d but got %d", want, got)
	}
}

func TestDeterministicReplay(t *testing.T) {
	run := func() []schema.Fill {
		cfg := DefaultConfig()
		cfg.ParticipationRate = 0.05
		sim := NewSimulator(cfg, nil, map[schema.SymbolID]SymbolStats{7: {Sigma: 1.5, ADV: 5e5}}, rand.New(rand.NewSource(7)))
		ts := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

		for i := 1; i <= 5; i++ {
			_ = sim.Submit(schema.Order{
				ID: schema.OrderID(i), SymbolID: 7, Side: schema.OrderSideBuy,
				Quantity: schema.Quantity(100 * i), Type: schema.OrderTypeMarket,
				TimeInForce: schema.TimeInForceGTC, SubmittedAt: ts,
			})
		}

		var all []schema.Fill
		for i := 0; i < 10; i++ {
			fills, err := sim.OnMarketEvent(barEvent(7, ts.Add(time.Duration(i)*time.Minute), 100.0+float64(i)*0.1, 20000), "")
			require.NoError(t, err)
			all = append(all, fills...)
		}
		return all
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run(), "replay %d diverged", i)
	}
}
