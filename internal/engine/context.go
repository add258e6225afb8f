package engine

import (
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quant/internal/exec"
	"quant/internal/pit"
	"quant/internal/portfolio"
	"quant/internal/risk"
	"quant/internal/schema"
	"quant/internal/strategy"
)

// runContext is the capability surface handed to the strategy. It holds no
// state of its own; every call reads or mutates the engine.
type runContext struct {
	e *Engine
}

func (c *runContext) Now() time.Time {
	return c.e.clk.Now()
}

func (c *runContext) Data() *pit.Reader {
	return c.e.reader
}

// Submit runs the intent through risk and, unless rejected, hands it to the
// execution simulator. Rejected orders still get an id and an audit record.
func (c *runContext) Submit(req strategy.OrderRequest) (schema.OrderID, risk.Decision, error) {
	e := c.e
	now := e.clk.Now()

	e.nextOrder++
	order := schema.Order{
		ID:          e.nextOrder,
		SymbolID:    req.SymbolID,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Type:        req.Type,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		Urgency:     req.Urgency,
		SubmittedAt: now,
		Tag:         req.Tag,
	}

	rec, err := e.registry.RecordAsOf(req.SymbolID, now)
	if err != nil {
		return 0, risk.Decision{}, errors.Wrapf(err, "submit symbol %d", req.SymbolID)
	}
	snap, err := e.snapshot(now)
	if err != nil {
		return 0, risk.Decision{}, errors.Wrap(err, "pre-trade snapshot")
	}
	e.lastSnap = snap

	mark := e.marks[req.SymbolID]
	decision := e.riskEng.Check(order, snap, mark.Price, mark.RateToBase, rec.LotSize)
	switch decision.Action {
	case risk.ActionReject:
		logs.Infof("risk reject: order=%d symbol=%d qty=%d reason=%s", order.ID, order.SymbolID, order.Quantity, decision.Reason)
		e.rejected = append(e.rejected, exec.OrderView{
			Order:      order,
			State:      schema.OrderStateRejected,
			Reason:     decision.Reason.String(),
			RiskReason: decision.Reason.String(),
			ClosedAt:   now,
		})
		return order.ID, decision, nil
	case risk.ActionClip:
		logs.Infof("risk clip: order=%d symbol=%d qty=%d->%d reason=%s", order.ID, order.SymbolID, order.Quantity, decision.Quantity, decision.Reason)
		order.Quantity = decision.Quantity
	}

	if err := e.sim.Submit(order); err != nil {
		return 0, decision, err
	}
	if decision.Action == risk.ActionClip {
		e.sim.SetRiskReason(order.ID, decision.Reason.String())
	}
	return order.ID, decision, nil
}

func (c *runContext) Cancel(id schema.OrderID) {
	c.e.sim.Cancel(id, c.e.clk.Now())
}

func (c *runContext) CancelTag(tag string) {
	c.e.sim.CancelTag(tag, c.e.clk.Now())
}

func (c *runContext) Portfolio() strategy.PortfolioView {
	return portfolioView{e: c.e}
}

func (c *runContext) SetCaps(caps risk.Caps) {
	c.e.riskEng.SetCaps(caps)
}

type portfolioView struct {
	e *Engine
}

func (v portfolioView) Quantity(id schema.SymbolID) schema.Quantity {
	pos := v.e.pf.Position(id)
	if pos == nil {
		return 0
	}
	return pos.Quantity()
}

func (v portfolioView) LastSnapshot() portfolio.Snapshot {
	return v.e.lastSnap
}
