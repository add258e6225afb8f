package pit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/internal/schema"
)

type fixedNow struct{ at time.Time }

func (f fixedNow) Now() time.Time { return f.at }

func at(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}

func testReader(t *testing.T, now time.Time) *Reader {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.Add(schema.SymbolRecord{
		SymbolID:   1,
		Ticker:     "AAPL",
		Exchange:   "XNAS",
		Currency:   schema.CurrencyUSD,
		ActiveFrom: at(t, "2020-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	bars := NewBarStore([]BarRow{
		{Ts: at(t, "2024-06-03T20:00:00Z"), SymbolID: 1, Bar: schema.Bar{Close: 100_0000, Volume: 1000}},
		{Ts: at(t, "2024-06-04T20:00:00Z"), SymbolID: 1, Bar: schema.Bar{Close: 101_0000, Volume: 1100}},
		{Ts: at(t, "2024-06-05T20:00:00Z"), SymbolID: 1, Bar: schema.Bar{Close: 102_0000, Volume: 1200}},
	}, "bars-test-v1")

	fx := NewFXStore([]FXRow{
		{Ts: at(t, "2024-06-01T00:00:00Z"), Base: schema.CurrencyUSD, Quote: schema.CurrencyEUR, Rate: 92_000_000},
	}, "fx-test-v1")

	return NewReader(reg, bars, fx, fixedNow{now})
}

func TestLookaheadGuard(t *testing.T) {
	now := at(t, "2024-06-04T20:00:00Z")
	r := testReader(t, now)

	// Queries at or before the clock succeed; no returned row is in the
	// future relative to asOf.
	rows, err := r.Bars(1, 10, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.False(t, row.Ts.After(now))
	}

	// A query past the clock fails with the lookahead class.
	_, err = r.Bars(1, 10, at(t, "2024-06-05T20:00:00Z"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLookahead))

	_, err = r.Resolve("AAPL", at(t, "2024-06-06T00:00:00Z"))
	assert.True(t, errors.Is(err, ErrLookahead))

	_, err = r.Rate(schema.CurrencyUSD, schema.CurrencyEUR, at(t, "2024-06-06T00:00:00Z"))
	assert.True(t, errors.Is(err, ErrLookahead))
}

func TestLookbackWindow(t *testing.T) {
	now := at(t, "2024-06-05T20:00:00Z")
	r := testReader(t, now)

	rows, err := r.Bars(1, 2, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, schema.Price(101_0000), rows[0].Bar.Close)
	assert.Equal(t, schema.Price(102_0000), rows[1].Bar.Close)

	// lookback <= 0 returns everything visible.
	rows, err = r.Bars(1, 0, now)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRateAsOf(t *testing.T) {
	now := at(t, "2024-06-05T20:00:00Z")
	r := testReader(t, now)

	rate, err := r.Rate(schema.CurrencyUSD, schema.CurrencyEUR, now)
	require.NoError(t, err)
	assert.Equal(t, schema.Rate(92_000_000), rate)

	// Inverse pair is derived.
	inv, err := r.Rate(schema.CurrencyEUR, schema.CurrencyUSD, now)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/0.92, inv.Float(), 1e-6)

	// Identity.
	one, err := r.Rate(schema.CurrencyEUR, schema.CurrencyEUR, now)
	require.NoError(t, err)
	assert.Equal(t, schema.Rate(schema.RateUnit), one)

	_, err = r.Rate(schema.CurrencyUSD, schema.Currency("JPY"), now)
	assert.True(t, errors.Is(err, ErrRateNotFound))
}
