// Package pit resolves market data as of a simulation instant. No observation
// dated after the query instant is ever visible; a caller reaching past the
// clock is a programming error, not a recoverable condition.
package pit

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"

	"quant/internal/schema"
)

var (
	// ErrLookahead marks a query past the current clock. Fatal to the run.
	ErrLookahead = stderrors.New("lookahead violation")
	// ErrFutureData marks a store containing rows beyond asOf. Fatal.
	ErrFutureData = stderrors.New("store contains data beyond asOf")
	// ErrRateNotFound marks missing FX data for a requested pair.
	ErrRateNotFound = stderrors.New("fx rate not found")
)

// NowSource exposes the simulation clock's current instant.
type NowSource interface {
	Now() time.Time
}

// Reader is the point-in-time data access for one run.
type Reader struct {
	registry *schema.Registry
	bars     *BarStore
	fx       *FXStore
	now      NowSource
}

// NewReader builds a reader over the given stores. The now source guards
// every query against lookahead.
func NewReader(registry *schema.Registry, bars *BarStore, fx *FXStore, now NowSource) *Reader {
	return &Reader{registry: registry, bars: bars, fx: fx, now: now}
}

func (r *Reader) guard(asOf time.Time) error {
	if r.now == nil {
		return nil
	}
	if asOf.After(r.now.Now()) {
		return errors.Wrapf(ErrLookahead, "asOf %s is past clock %s", asOf, r.now.Now())
	}
	return nil
}

// Resolve maps a ticker to the symbol record valid at asOf.
func (r *Reader) Resolve(ticker string, asOf time.Time) (schema.SymbolRecord, error) {
	if err := r.guard(asOf); err != nil {
		return schema.SymbolRecord{}, err
	}
	return r.registry.ResolveAsOf(ticker, asOf)
}

// Record maps a symbol id to the record valid at asOf.
func (r *Reader) Record(id schema.SymbolID, asOf time.Time) (schema.SymbolRecord, error) {
	if err := r.guard(asOf); err != nil {
		return schema.SymbolRecord{}, err
	}
	return r.registry.RecordAsOf(id, asOf)
}

// Bars returns at most lookback most-recent bars with Ts <= asOf, oldest
// first. lookback <= 0 returns the complete visible history.
func (r *Reader) Bars(id schema.SymbolID, lookback int, asOf time.Time) ([]BarRow, error) {
	if err := r.guard(asOf); err != nil {
		return nil, err
	}
	rows := r.bars.upTo(id, asOf)
	for _, row := range rows {
		if row.Ts.After(asOf) {
			return nil, errors.Wrapf(ErrFutureData, "symbol %d", id)
		}
	}
	if lookback > 0 && len(rows) > lookback {
		rows = rows[len(rows)-lookback:]
	}
	return rows, nil
}

// Rate returns the FX rate for base/quote as of asOf. Identical currencies
// resolve to 1. When only the inverse pair is stored the rate is inverted.
func (r *Reader) Rate(base, quote schema.Currency, asOf time.Time) (schema.Rate, error) {
	if err := r.guard(asOf); err != nil {
		return 0, err
	}
	if base == quote {
		return schema.Rate(schema.RateUnit), nil
	}
	if row, ok := r.fx.lastAsOf(base, quote, asOf); ok {
		return row.Rate, nil
	}
	if row, ok := r.fx.lastAsOf(quote, base, asOf); ok && row.Rate != 0 {
		inv := (schema.RateUnit*schema.RateUnit + int64(row.Rate)/2) / int64(row.Rate)
		return schema.Rate(inv), nil
	}
	return 0, errors.Wrapf(ErrRateNotFound, "%s/%s", base, quote)
}

// Closes extracts close prices from a bar slice, oldest first.
func Closes(rows []BarRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Bar.Close.Float()
	}
	return out
}

// Highs extracts high prices from a bar slice.
func Highs(rows []BarRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Bar.High.Float()
	}
	return out
}

// Lows extracts low prices from a bar slice.
func Lows(rows []BarRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Bar.Low.Float()
	}
	return out
}

// Volumes extracts traded volume from a bar slice.
func Volumes(rows []BarRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = float64(r.Bar.Volume)
	}
	return out
}
