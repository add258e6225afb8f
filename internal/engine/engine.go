// Package engine drives one backtest run. The loop is strictly single
// threaded: it pulls one event at a time, lets the strategy react, routes
// resulting orders through risk into execution, applies fills to the ledger,
// and samples the equity curve at session boundaries. Nothing in the chain
// yields until the event is fully processed, which is what makes replays with
// the same seed bit-identical.
package engine

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quant/internal/clock"
	"quant/internal/cost"
	"quant/internal/exec"
	"quant/internal/feed"
	"quant/internal/metrics"
	"quant/internal/pit"
	"quant/internal/portfolio"
	"quant/internal/risk"
	"quant/internal/schema"
	"quant/internal/strategy"
)

// Run completion statuses. These match the manifest status vocabulary.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Config is the per-run engine configuration.
type Config struct {
	Base        schema.Currency
	InitialCash schema.Notional
	Seed        int64
	Start       time.Time
	Exchanges   []string
	Caps        risk.Caps
	Exec        exec.Config
	Stats       map[schema.SymbolID]exec.SymbolStats
	// PeriodsPerYear annualizes the report; zero defaults to 252.
	PeriodsPerYear float64
}

// Result is everything a run produced. It is populated even when the run
// failed or was cancelled, so partial artifacts can still be flushed.
type Result struct {
	Status    string
	Err       error
	Samples   []metrics.Sample
	Snapshots []portfolio.Snapshot
	Fills     []schema.Fill
	Orders    []exec.OrderView
	Report    metrics.Report
}

// Engine wires one run's components together.
type Engine struct {
	cfg       Config
	clk       *clock.Clock
	source    *feed.Source
	reader    *pit.Reader
	registry  *schema.Registry
	riskEng   *risk.Engine
	sim       *exec.Simulator
	costs     *cost.Calculator
	pf        *portfolio.Portfolio
	collector *metrics.Collector
	strat     strategy.Strategy

	marks      map[schema.SymbolID]portfolio.PositionMark
	currencies map[schema.Currency]bool
	rejected   []exec.OrderView
	nextOrder  schema.OrderID
	lastSnap   portfolio.Snapshot
	result     *Result
}

// New assembles an engine. The clock starts at cfg.Start; the execution
// simulator's generator is seeded from cfg.Seed.
func New(cfg Config, registry *schema.Registry, bars *pit.BarStore, fx *pit.FXStore, source *feed.Source, costs *cost.Calculator, strat strategy.Strategy) (*Engine, error) {
	clk, err := clock.New(cfg.Start, cfg.Exchanges)
	if err != nil {
		return nil, errors.Wrap(err, "create clock")
	}
	if costs == nil {
		costs = cost.NewCalculator(nil)
	}

	pf := portfolio.New(cfg.Base)
	pf.Deposit(cfg.InitialCash, cfg.Base)

	e := &Engine{
		cfg:        cfg,
		clk:        clk,
		source:     source,
		reader:     pit.NewReader(registry, bars, fx, clk),
		registry:   registry,
		riskEng:    risk.NewEngine(cfg.Caps),
		sim:        exec.NewSimulator(cfg.Exec, costs, cfg.Stats, rand.New(rand.NewSource(cfg.Seed))),
		costs:      costs,
		pf:         pf,
		collector:  metrics.NewCollector(cfg.PeriodsPerYear),
		strat:      strat,
		marks:      make(map[schema.SymbolID]portfolio.PositionMark),
		currencies: map[schema.Currency]bool{cfg.Base: true},
	}
	return e, nil
}

// Run executes the event loop to data exhaustion or cancellation. The
// returned Result is always usable; a non-nil error means the run aborted on
// a fatal condition and carries the cause.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{Status: StatusCompleted}
	e.result = res
	rctx := &runContext{e: e}

	snap, err := e.snapshot(e.clk.Now())
	if err != nil {
		return e.fail(res, errors.Wrap(err, "initial snapshot"))
	}
	e.lastSnap = snap

	logs.Infof("run start: base=%s cash=%v seed=%d", e.cfg.Base, e.cfg.InitialCash.Float(), e.cfg.Seed)
	if err := e.strat.OnStart(rctx); err != nil {
		return e.fail(res, errors.Wrap(err, "strategy start"))
	}

	for {
		select {
		case <-ctx.Done():
			res.Status = StatusCancelled
			res.Err = ctx.Err()
			e.finish(res)
			logs.Info("run cancelled")
			return res, nil
		default:
		}

		evt, ok := e.source.Next()
		if !ok {
			break
		}
		boundaries, err := e.clk.BoundariesUntil(evt.Ts)
		if err != nil {
			return e.fail(res, err)
		}
		for _, boundary := range boundaries {
			if err := e.step(rctx, boundary); err != nil {
				return e.fail(res, err)
			}
		}
		if err := e.step(rctx, evt); err != nil {
			return e.fail(res, err)
		}
	}

	if err := e.strat.OnEnd(rctx); err != nil {
		return e.fail(res, errors.Wrap(err, "strategy end"))
	}
	if err := e.sampleIfStale(); err != nil {
		return e.fail(res, err)
	}
	e.finish(res)
	logs.Infof("run complete: events consumed, fills=%d equity=%v", len(res.Fills), res.Report.FinalEquity)
	return res, nil
}

func (e *Engine) fail(res *Result, err error) (*Result, error) {
	res.Status = StatusFailed
	res.Err = err
	e.finish(res)
	logs.Errorf("run failed: %+v", err)
	return res, err
}

// finish freezes the order audit and the report so artifacts can be written
// regardless of how the run ended.
func (e *Engine) finish(res *Result) {
	res.Orders = append(e.sim.Orders(), e.rejected...)
	sort.Slice(res.Orders, func(i, j int) bool { return res.Orders[i].Order.ID < res.Orders[j].Order.ID })
	res.Samples = e.collector.Samples()
	res.Report = e.collector.Report()
}

// step processes one event with the clock already validated against it.
func (e *Engine) step(rctx *runContext, evt schema.Event) error {
	if err := e.clk.Advance(evt.Ts); err != nil {
		return err
	}
	switch evt.Type {
	case schema.EventClock:
		return e.sessionClose(rctx, evt)
	case schema.EventCorporateAction:
		// The ledger adjusts before the strategy sees anything at this
		// timestamp; same-instant bars already reflect the action.
		if _, err := e.pf.ApplyAction(evt.SymbolID, *evt.Action); err != nil {
			return err
		}
		return e.strat.OnEvent(rctx, evt)
	case schema.EventBar, schema.EventQuote, schema.EventTrade:
		return e.marketStep(rctx, evt)
	default:
		return errors.Errorf("unhandled event type %s", evt.Type)
	}
}

func (e *Engine) marketStep(rctx *runContext, evt schema.Event) error {
	now := e.clk.Now()
	rec, err := e.registry.RecordAsOf(evt.SymbolID, now)
	if err != nil {
		return errors.Wrapf(err, "symbol %d", evt.SymbolID)
	}
	if err := e.updateMark(evt, rec, now); err != nil {
		return err
	}

	if err := e.strat.OnEvent(rctx, evt); err != nil {
		return err
	}

	fills, err := e.sim.OnMarketEvent(evt, rec.Exchange)
	if err != nil {
		return err
	}
	for _, fill := range fills {
		if err := e.applyFill(fill, rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) updateMark(evt schema.Event, rec schema.SymbolRecord, now time.Time) error {
	var price schema.Price
	switch evt.Type {
	case schema.EventBar:
		price = evt.Bar.Close
	case schema.EventQuote:
		price = (evt.Quote.BidPrice + evt.Quote.AskPrice) / 2
	case schema.EventTrade:
		price = evt.Trade.Price
	}
	rate, err := e.reader.Rate(rec.Currency, e.cfg.Base, now)
	if err != nil {
		return errors.Wrapf(err, "mark %s", rec.Ticker)
	}
	e.marks[evt.SymbolID] = portfolio.PositionMark{Price: price, RateToBase: rate}
	return nil
}

func (e *Engine) applyFill(fill schema.Fill, rec schema.SymbolRecord) error {
	mark := e.marks[fill.SymbolID]

	applied, err := e.pf.Apply(fill, rec.Currency, mark.RateToBase)
	if err != nil {
		return err
	}
	e.currencies[rec.Currency] = true

	notionalBase := schema.Convert(schema.MulPrice(fill.Price, fill.Quantity), mark.RateToBase)
	view, err := e.sim.Order(fill.OrderID)
	if err != nil {
		return err
	}
	e.collector.RecordFill(fill, notionalBase, view.ArrivalMid, applied.LotsClosed, applied.LotsWon)
	e.result.Fills = append(e.result.Fills, fill)
	return nil
}

// sessionClose expires DAY orders, accrues borrow on shorts listed on the
// closing exchange, shows the tick to the strategy, and samples the curve.
func (e *Engine) sessionClose(rctx *runContext, evt schema.Event) error {
	now := e.clk.Now()
	ex := evt.Tick.Exchange
	onExchange := func(id schema.SymbolID) bool {
		rec, err := e.registry.RecordAsOf(id, now)
		return err == nil && rec.Exchange == ex
	}

	e.sim.ExpireSession(now, onExchange)
	e.accrueBorrow(ex, now, onExchange)

	if err := e.strat.OnEvent(rctx, evt); err != nil {
		return err
	}
	snap, err := e.snapshot(now)
	if err != nil {
		return err
	}
	e.lastSnap = snap
	e.collector.Observe(snap)
	e.result.Snapshots = append(e.result.Snapshots, snap)
	return nil
}

// accrueBorrow charges one day of borrow for every short position on the
// closing exchange, at the venue's annualized rate.
func (e *Engine) accrueBorrow(ex string, now time.Time, onExchange func(schema.SymbolID) bool) {
	for _, id := range e.markedSymbols() {
		if !onExchange(id) {
			continue
		}
		pos := e.pf.Position(id)
		if pos == nil {
			continue
		}
		qty := pos.Quantity()
		if qty >= 0 {
			continue
		}
		mark := e.marks[id]
		mvBase := schema.Convert(schema.MulPrice(mark.Price, -qty), mark.RateToBase)
		if fee := e.costs.Borrow(ex, mvBase, 1); fee > 0 {
			e.pf.ChargeBorrow(schema.Notional(fee))
		}
	}
}

func (e *Engine) markedSymbols() []schema.SymbolID {
	out := make([]schema.SymbolID, 0, len(e.marks))
	for id := range e.marks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) snapshot(now time.Time) (portfolio.Snapshot, error) {
	cashRates := make(map[schema.Currency]schema.Rate, len(e.currencies))
	for ccy := range e.currencies {
		rate, err := e.reader.Rate(ccy, e.cfg.Base, now)
		if err != nil {
			return portfolio.Snapshot{}, errors.Wrapf(err, "cash rate %s", ccy)
		}
		cashRates[ccy] = rate
	}
	return e.pf.Snapshot(now, e.marks, cashRates)
}

// sampleIfStale appends a final observation when the last event landed after
// the last session-close sample, so the curve always ends at the run's end.
func (e *Engine) sampleIfStale() error {
	now := e.clk.Now()
	samples := e.collector.Samples()
	if len(samples) > 0 && !samples[len(samples)-1].Ts.Before(now) {
		return nil
	}
	snap, err := e.snapshot(now)
	if err != nil {
		return err
	}
	e.lastSnap = snap
	e.collector.Observe(snap)
	e.result.Snapshots = append(e.result.Snapshots, snap)
	return nil
}
