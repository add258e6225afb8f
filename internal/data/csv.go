// Package data loads bar, symbol, and FX inputs from CSV files or Postgres
// into the point-in-time stores. Prices are parsed as decimals and scaled to
// fixed point exactly; a value that cannot be represented is a data error,
// never silently rounded through a float.
package data

import (
	"encoding/csv"
	stderrors "errors"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"quant/internal/pit"
	"quant/internal/schema"
)

var (
	ErrBadHeader = stderrors.New("unexpected csv header")
	ErrBadRow    = stderrors.New("malformed csv row")
)

const (
	priceScale = 4
	rateScale  = 8
)

func parsePrice(s string) (schema.Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(ErrBadRow, "price %q", s)
	}
	scaled := d.Shift(priceScale)
	if !scaled.IsInteger() {
		return 0, errors.Wrapf(ErrBadRow, "price %q exceeds tick precision", s)
	}
	return schema.Price(scaled.IntPart()), nil
}

func parseRate(s string) (schema.Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(ErrBadRow, "rate %q", s)
	}
	return schema.Rate(d.Shift(rateScale).Round(0).IntPart()), nil
}

func parseTs(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrBadRow, "timestamp %q", s)
	}
	return ts.UTC(), nil
}

func readAll(path string, wantHeader []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s header", path)
	}
	if len(header) != len(wantHeader) {
		return nil, errors.Wrapf(ErrBadHeader, "%s: got %v", path, header)
	}
	for i, col := range wantHeader {
		if header[i] != col {
			return nil, errors.Wrapf(ErrBadHeader, "%s: column %d should be %s, got %s", path, i, col, header[i])
		}
	}

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		rows = append(rows, row)
	}
}

// LoadBars reads bar rows from a CSV file and returns them sorted by
// (timestamp, symbol id), ready for the bar store and the event source.
func LoadBars(path string) ([]pit.BarRow, error) {
	rows, err := readAll(path, []string{"timestamp", "symbol_id", "open", "high", "low", "close", "volume"})
	if err != nil {
		return nil, err
	}

	out := make([]pit.BarRow, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTs(row[0])
		if err != nil {
			return nil, err
		}
		id, err := strconv.ParseUint(row[1], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(ErrBadRow, "symbol_id %q", row[1])
		}
		var bar schema.Bar
		for i, dst := range []*schema.Price{&bar.Open, &bar.High, &bar.Low, &bar.Close} {
			price, err := parsePrice(row[2+i])
			if err != nil {
				return nil, err
			}
			*dst = price
		}
		volume, err := strconv.ParseInt(row[6], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadRow, "volume %q", row[6])
		}
		bar.Volume = schema.Quantity(volume)
		out = append(out, pit.BarRow{Ts: ts, SymbolID: schema.SymbolID(id), Bar: bar})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Ts.Equal(out[j].Ts) {
			return out[i].Ts.Before(out[j].Ts)
		}
		return out[i].SymbolID < out[j].SymbolID
	})
	return out, nil
}

// LoadSymbols reads the symbol master and registers every record. A blank
// active_to means the listing is still active.
func LoadSymbols(path string, registry *schema.Registry) error {
	rows, err := readAll(path, []string{"symbol_id", "ticker", "exchange", "currency", "lot_size", "active_from", "active_to"})
	if err != nil {
		return err
	}
	for _, row := range rows {
		id, err := strconv.ParseUint(row[0], 10, 32)
		if err != nil {
			return errors.Wrapf(ErrBadRow, "symbol_id %q", row[0])
		}
		lot, err := strconv.ParseInt(row[4], 10, 64)
		if err != nil {
			return errors.Wrapf(ErrBadRow, "lot_size %q", row[4])
		}
		from, err := parseTs(row[5])
		if err != nil {
			return err
		}
		var to time.Time
		if row[6] != "" {
			if to, err = parseTs(row[6]); err != nil {
				return err
			}
		}
		if _, err := registry.Add(schema.SymbolRecord{
			SymbolID:   schema.SymbolID(id),
			Ticker:     row[1],
			Exchange:   row[2],
			Currency:   schema.Currency(row[3]),
			LotSize:    schema.Quantity(lot),
			ActiveFrom: from,
			ActiveTo:   to,
		}); err != nil {
			return errors.Wrapf(err, "register %s", row[1])
		}
	}
	return nil
}

// LoadFX reads FX rows sorted by timestamp for the FX store.
func LoadFX(path string) ([]pit.FXRow, error) {
	rows, err := readAll(path, []string{"timestamp", "base_currency", "quote_currency", "rate"})
	if err != nil {
		return nil, err
	}
	out := make([]pit.FXRow, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTs(row[0])
		if err != nil {
			return nil, err
		}
		rate, err := parseRate(row[3])
		if err != nil {
			return nil, err
		}
		out = append(out, pit.FXRow{
			Ts:    ts,
			Base:  schema.Currency(row[1]),
			Quote: schema.Currency(row[2]),
			Rate:  rate,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

// BarEvents converts loaded bar rows into per-symbol event streams for the
// event source.
func BarEvents(rows []pit.BarRow) [][]schema.Event {
	bySymbol := make(map[schema.SymbolID][]schema.Event)
	order := make([]schema.SymbolID, 0)
	for _, row := range rows {
		if _, ok := bySymbol[row.SymbolID]; !ok {
			order = append(order, row.SymbolID)
		}
		bar := row.Bar
		bySymbol[row.SymbolID] = append(bySymbol[row.SymbolID], schema.Event{
			Ts:       row.Ts,
			Type:     schema.EventBar,
			SymbolID: row.SymbolID,
			Bar:      &bar,
		})
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	streams := make([][]schema.Event, 0, len(order))
	for _, id := range order {
		streams = append(streams, bySymbol[id])
	}
	return streams
}
