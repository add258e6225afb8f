package schema

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
)

// SymbolID is the numeric identifier for an instrument.
type SymbolID uint32

// SymbolRecord describes one validity window of an instrument listing.
// ActiveTo is the zero time when the listing is still active. A renamed or
// relisted ticker produces multiple records with disjoint windows.
type SymbolRecord struct {
	SymbolID   SymbolID
	Ticker     string
	Exchange   string
	Currency   Currency
	LotSize    Quantity
	ActiveFrom time.Time
	ActiveTo   time.Time
}

// ActiveAt reports whether the record is valid at the given instant.
func (r SymbolRecord) ActiveAt(ts time.Time) bool {
	if ts.Before(r.ActiveFrom) {
		return false
	}
	if r.ActiveTo.IsZero() {
		return true
	}
	return ts.Before(r.ActiveTo)
}

var (
	ErrEmptyTicker     = stderrors.New("ticker is empty")
	ErrDuplicateWindow = stderrors.New("overlapping active window for ticker")
	ErrSymbolNotFound  = stderrors.New("symbol not found")
)

// Registry stores symbol records and resolves them point-in-time. Records for
// the same (ticker, exchange) must not overlap so resolution at any instant is
// unambiguous.
type Registry struct {
	records  []SymbolRecord
	byTicker map[string][]int
	byID     map[SymbolID][]int
	nextID   SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTicker: make(map[string][]int),
		byID:     make(map[SymbolID][]int),
		nextID:   1,
	}
}

// Add registers a symbol record. A zero SymbolID is assigned the next free id.
func (r *Registry) Add(rec SymbolRecord) (SymbolID, error) {
	if rec.Ticker == "" {
		return 0, ErrEmptyTicker
	}
	if rec.LotSize <= 0 {
		rec.LotSize = 1
	}
	for _, idx := range r.byTicker[rec.Ticker] {
		existing := r.records[idx]
		if existing.Exchange != rec.Exchange {
			continue
		}
		if windowsOverlap(existing, rec) {
			return 0, errors.Wrap(ErrDuplicateWindow, rec.Ticker)
		}
	}
	if rec.SymbolID == 0 {
		rec.SymbolID = r.nextID
	}
	if rec.SymbolID >= r.nextID {
		r.nextID = rec.SymbolID + 1
	}
	idx := len(r.records)
	r.records = append(r.records, rec)
	r.byTicker[rec.Ticker] = append(r.byTicker[rec.Ticker], idx)
	r.byID[rec.SymbolID] = append(r.byID[rec.SymbolID], idx)
	return rec.SymbolID, nil
}

// ResolveAsOf returns the record valid for a ticker at the given instant.
func (r *Registry) ResolveAsOf(ticker string, asOf time.Time) (SymbolRecord, error) {
	for _, idx := range r.byTicker[ticker] {
		rec := r.records[idx]
		if rec.ActiveAt(asOf) {
			return rec, nil
		}
	}
	return SymbolRecord{}, errors.Wrap(ErrSymbolNotFound, ticker)
}

// RecordAsOf returns the record valid for a symbol id at the given instant.
func (r *Registry) RecordAsOf(id SymbolID, asOf time.Time) (SymbolRecord, error) {
	for _, idx := range r.byID[id] {
		rec := r.records[idx]
		if rec.ActiveAt(asOf) {
			return rec, nil
		}
	}
	// Fall back to the latest record so delisted symbols still resolve for
	// artifact reporting.
	indexes := r.byID[id]
	if len(indexes) > 0 {
		return r.records[indexes[len(indexes)-1]], nil
	}
	return SymbolRecord{}, ErrSymbolNotFound
}

// SymbolIDs returns all distinct symbol ids in insertion order.
func (r *Registry) SymbolIDs() []SymbolID {
	seen := make(map[SymbolID]bool, len(r.byID))
	out := make([]SymbolID, 0, len(r.byID))
	for _, rec := range r.records {
		if seen[rec.SymbolID] {
			continue
		}
		seen[rec.SymbolID] = true
		out = append(out, rec.SymbolID)
	}
	return out
}

// Count returns the number of records.
func (r *Registry) Count() int {
	return len(r.records)
}

func windowsOverlap(a, b SymbolRecord) bool {
	aEnd := a.ActiveTo
	bEnd := b.ActiveTo
	if !aEnd.IsZero() && !aEnd.After(b.ActiveFrom) {
		return false
	}
	if !bEnd.IsZero() && !bEnd.After(a.ActiveFrom) {
		return false
	}
	return true
}
