package pit

import (
	"sort"
	"time"

	"quant/internal/schema"
)

// BarRow is one OHLCV observation as stored.
type BarRow struct {
	Ts       time.Time
	SymbolID schema.SymbolID
	Bar      schema.Bar
}

// BarStore holds per-symbol bar history sorted by timestamp. It is built once
// by a data collaborator and read-only during a run.
type BarStore struct {
	bySymbol map[schema.SymbolID][]BarRow
	version  string
}

// NewBarStore groups rows by symbol and sorts each series by timestamp.
// The version string identifies the dataset in the run manifest.
func NewBarStore(rows []BarRow, version string) *BarStore {
	bySymbol := make(map[schema.SymbolID][]BarRow)
	for _, r := range rows {
		r.Ts = r.Ts.UTC()
		bySymbol[r.SymbolID] = append(bySymbol[r.SymbolID], r)
	}
	for id := range bySymbol {
		series := bySymbol[id]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Ts.Before(series[j].Ts)
		})
		bySymbol[id] = series
	}
	return &BarStore{bySymbol: bySymbol, version: version}
}

// Version returns the dataset version string.
func (s *BarStore) Version() string {
	return s.version
}

// SymbolIDs returns the symbols with at least one bar, ascending.
func (s *BarStore) SymbolIDs() []schema.SymbolID {
	out := make([]schema.SymbolID, 0, len(s.bySymbol))
	for id := range s.bySymbol {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Series returns the full sorted series for a symbol.
func (s *BarStore) Series(id schema.SymbolID) []BarRow {
	return s.bySymbol[id]
}

// upTo returns all rows with Ts <= asOf.
func (s *BarStore) upTo(id schema.SymbolID, asOf time.Time) []BarRow {
	series := s.bySymbol[id]
	n := sort.Search(len(series), func(i int) bool {
		return series[i].Ts.After(asOf)
	})
	return series[:n]
}

// FXRow is one FX rate observation.
type FXRow struct {
	Ts    time.Time
	Base  schema.Currency
	Quote schema.Currency
	Rate  schema.Rate
}

type fxPair struct {
	base, quote schema.Currency
}

// FXStore holds FX rate history per currency pair sorted by timestamp.
type FXStore struct {
	byPair  map[fxPair][]FXRow
	version string
}

// NewFXStore groups rows by pair and sorts each series by timestamp.
func NewFXStore(rows []FXRow, version string) *FXStore {
	byPair := make(map[fxPair][]FXRow)
	for _, r := range rows {
		r.Ts = r.Ts.UTC()
		key := fxPair{r.Base, r.Quote}
		byPair[key] = append(byPair[key], r)
	}
	for key := range byPair {
		series := byPair[key]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Ts.Before(series[j].Ts)
		})
		byPair[key] = series
	}
	return &FXStore{byPair: byPair, version: version}
}

// Version returns the dataset version string.
func (s *FXStore) Version() string {
	return s.version
}

func (s *FXStore) lastAsOf(base, quote schema.Currency, asOf time.Time) (FXRow, bool) {
	series := s.byPair[fxPair{base, quote}]
	n := sort.Search(len(series), func(i int) bool {
		return series[i].Ts.After(asOf)
	})
	if n == 0 {
		return FXRow{}, false
	}
	return series[n-1], true
}
