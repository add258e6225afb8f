// Package metrics derives risk/return statistics from recorded simulation
// state. The collector is an observer: it never feeds anything back into the
// run, so two runs with identical inputs report identical numbers.
package metrics

import (
	"math"
	"time"

	"quant/internal/portfolio"
	"quant/internal/schema"
)

// Sample is one equity-curve observation.
type Sample struct {
	Ts         time.Time
	Equity     schema.Notional
	Cash       schema.Notional
	Gross      schema.Notional
	Net        schema.Notional
	Realized   schema.Notional
	Unrealized schema.Notional
	Fees       schema.Notional
	Borrow     schema.Notional
}

type orderFlow struct {
	arrivalMid schema.Price
	notional   float64
	quantity   float64
	side       schema.OrderSide
}

// Collector accumulates equity samples and fill flow during a run.
type Collector struct {
	periodsPerYear float64

	samples   []Sample
	flows     map[schema.OrderID]*orderFlow
	flowOrder []schema.OrderID

	tradedBase schema.Notional
	wins       int
	closes     int
	fillCount  int
}

// NewCollector creates a collector. periodsPerYear annualizes Sharpe and
// Sortino; daily sampling uses 252.
func NewCollector(periodsPerYear float64) *Collector {
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	return &Collector{
		periodsPerYear: periodsPerYear,
		flows:          make(map[schema.OrderID]*orderFlow),
	}
}

// Observe records one portfolio snapshot on the equity curve.
func (c *Collector) Observe(snap portfolio.Snapshot) {
	c.samples = append(c.samples, Sample{
		Ts:         snap.Ts,
		Equity:     snap.Equity,
		Cash:       snap.CashBase,
		Gross:      snap.GrossExposure,
		Net:        snap.NetExposure,
		Realized:   snap.RealizedPnL,
		Unrealized: snap.UnrealizedPnL,
		Fees:       snap.Fees,
		Borrow:     snap.Borrow,
	})
}

// RecordFill accumulates one fill. notionalBase is the traded notional in
// base currency; arrivalMid is the mid at order arrival; lotsClosed is the
// number of open lots the fill consumed, lotsWon how many of those realized a
// profit. One fill sweeping three lots counts as three closes.
func (c *Collector) RecordFill(fill schema.Fill, notionalBase schema.Notional, arrivalMid schema.Price, lotsClosed, lotsWon int) {
	c.fillCount++
	if notionalBase < 0 {
		notionalBase = -notionalBase
	}
	c.tradedBase += notionalBase
	c.closes += lotsClosed
	c.wins += lotsWon

	flow, ok := c.flows[fill.OrderID]
	if !ok {
		flow = &orderFlow{arrivalMid: arrivalMid, side: fill.Side}
		c.flows[fill.OrderID] = flow
		c.flowOrder = append(c.flowOrder, fill.OrderID)
	}
	flow.notional += fill.Price.Float() * float64(fill.Quantity)
	flow.quantity += float64(fill.Quantity)
}

// Samples returns the equity curve observed so far.
func (c *Collector) Samples() []Sample {
	return c.samples
}

// OrderSlippage is the realized slippage of one order in basis points of its
// arrival mid, positive when execution was worse than the mid.
type OrderSlippage struct {
	OrderID     schema.OrderID `json:"order_id"`
	SlippageBps float64        `json:"slippage_bps"`
}

// Report is the aggregate statistics block written to metrics.json.
type Report struct {
	StartEquity        float64         `json:"start_equity"`
	FinalEquity        float64         `json:"final_equity"`
	TotalReturn        float64         `json:"total_return"`
	AnnualizedSharpe   float64         `json:"annualized_sharpe"`
	AnnualizedSortino  float64         `json:"annualized_sortino"`
	MaxDrawdown        float64         `json:"max_drawdown"`
	MaxDrawdownPeriods int             `json:"max_drawdown_periods"`
	Turnover           float64         `json:"turnover"`
	AvgGrossExposure   float64         `json:"avg_gross_exposure"`
	AvgNetExposure     float64         `json:"avg_net_exposure"`
	HitRate            float64         `json:"hit_rate"`
	ClosedLots         int             `json:"closed_lots"`
	FillCount          int             `json:"fill_count"`
	TotalFees          float64         `json:"total_fees"`
	TotalBorrow        float64         `json:"total_borrow"`
	SlippageBpsMean    float64         `json:"slippage_bps_mean"`
	SlippageBpsWorst   float64         `json:"slippage_bps_worst"`
	PerOrderSlippage   []OrderSlippage `json:"per_order_slippage"`
}

// Report derives the aggregate statistics from everything recorded.
func (c *Collector) Report() Report {
	r := Report{
		ClosedLots: c.closes,
		FillCount:  c.fillCount,
	}
	if c.closes > 0 {
		r.HitRate = float64(c.wins) / float64(c.closes)
	}
	if len(c.samples) == 0 {
		return r
	}

	first := c.samples[0]
	last := c.samples[len(c.samples)-1]
	r.StartEquity = first.Equity.Float()
	r.FinalEquity = last.Equity.Float()
	if r.StartEquity != 0 {
		r.TotalReturn = r.FinalEquity/r.StartEquity - 1
	}
	r.TotalFees = last.Fees.Float()
	r.TotalBorrow = last.Borrow.Float()

	returns := c.periodicReturns()
	r.AnnualizedSharpe = annualizedRatio(returns, c.periodsPerYear, false)
	r.AnnualizedSortino = annualizedRatio(returns, c.periodsPerYear, true)
	r.MaxDrawdown, r.MaxDrawdownPeriods = c.drawdown()

	var sumEquity, sumGross, sumNet float64
	for _, s := range c.samples {
		eq := s.Equity.Float()
		sumEquity += eq
		if eq > 0 {
			sumGross += s.Gross.Float() / eq
			sumNet += s.Net.Float() / eq
		}
	}
	n := float64(len(c.samples))
	avgEquity := sumEquity / n
	if avgEquity > 0 {
		r.Turnover = c.tradedBase.Float() / avgEquity
	}
	r.AvgGrossExposure = sumGross / n
	r.AvgNetExposure = sumNet / n

	r.PerOrderSlippage, r.SlippageBpsMean, r.SlippageBpsWorst = c.slippage()
	return r
}

func (c *Collector) periodicReturns() []float64 {
	if len(c.samples) < 2 {
		return nil
	}
	out := make([]float64, 0, len(c.samples)-1)
	for i := 1; i < len(c.samples); i++ {
		prev := c.samples[i-1].Equity.Float()
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, c.samples[i].Equity.Float()/prev-1)
	}
	return out
}

func (c *Collector) drawdown() (float64, int) {
	var maxDD float64
	var maxLen, curLen int
	peak := math.Inf(-1)
	for _, s := range c.samples {
		eq := s.Equity.Float()
		if eq >= peak {
			peak = eq
			curLen = 0
			continue
		}
		curLen++
		if curLen > maxLen {
			maxLen = curLen
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, maxLen
}

func (c *Collector) slippage() ([]OrderSlippage, float64, float64) {
	var out []OrderSlippage
	var sum float64
	worst := math.Inf(-1)
	for _, id := range c.flowOrder {
		flow := c.flows[id]
		if flow.quantity == 0 || flow.arrivalMid == 0 {
			continue
		}
		vwap := flow.notional / flow.quantity
		mid := flow.arrivalMid.Float()
		bps := float64(flow.side.Sign()) * (vwap - mid) / mid * 10000
		out = append(out, OrderSlippage{OrderID: id, SlippageBps: bps})
		sum += bps
		if bps > worst {
			worst = bps
		}
	}
	if len(out) == 0 {
		return nil, 0, 0
	}
	return out, sum / float64(len(out)), worst
}

// annualizedRatio computes a Sharpe-style ratio over periodic returns,
// using downside deviation when downside is set.
func annualizedRatio(returns []float64, periodsPerYear float64, downside bool) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	var count int
	for _, r := range returns {
		if downside {
			if r >= 0 {
				continue
			}
			variance += r * r
			count++
		} else {
			d := r - mean
			variance += d * d
			count++
		}
	}
	if count < 2 {
		return 0
	}
	std := math.Sqrt(variance / float64(count-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}
