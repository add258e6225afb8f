package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/internal/schema"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}

func bar(ts time.Time, symbolID schema.SymbolID) schema.Event {
	return schema.Event{Ts: ts, Type: schema.EventBar, SymbolID: symbolID, Bar: &schema.Bar{}}
}

func TestMergeOrder(t *testing.T) {
	t1 := at(t, "2024-06-03T20:00:00Z")
	t2 := at(t, "2024-06-04T20:00:00Z")

	streamA := []schema.Event{bar(t1, 2), bar(t2, 2)}
	streamB := []schema.Event{bar(t1, 1), bar(t2, 1)}
	actions := []schema.Event{{
		Ts: t2, Type: schema.EventCorporateAction, SymbolID: 2,
		Action: &schema.CorporateAction{SplitRatio: 2},
	}}

	src, err := NewSource(streamA, streamB, actions)
	require.NoError(t, err)

	var got []schema.Event
	for {
		evt, ok := src.Next()
		if !ok {
			break
		}
		got = append(got, evt)
	}
	require.Len(t, got, 5)

	// t1: symbol 1 before symbol 2. t2: corporate action first, then bars by
	// symbol id.
	assert.Equal(t, schema.SymbolID(1), got[0].SymbolID)
	assert.Equal(t, schema.SymbolID(2), got[1].SymbolID)
	assert.Equal(t, schema.EventCorporateAction, got[2].Type)
	assert.Equal(t, schema.SymbolID(1), got[3].SymbolID)
	assert.Equal(t, schema.SymbolID(2), got[4].SymbolID)

	// Sequence numbers are monotone.
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestMergeDeterministic(t *testing.T) {
	t1 := at(t, "2024-06-03T20:00:00Z")
	streams := [][]schema.Event{
		{bar(t1, 3)}, {bar(t1, 1)}, {bar(t1, 2)},
	}

	run := func() []schema.SymbolID {
		src, err := NewSource(streams...)
		require.NoError(t, err)
		var ids []schema.SymbolID
		for {
			evt, ok := src.Next()
			if !ok {
				break
			}
			ids = append(ids, evt.SymbolID)
		}
		return ids
	}

	first := run()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, run())
	}
	assert.Equal(t, []schema.SymbolID{1, 2, 3}, first)
}

func TestRejectsUnsortedStream(t *testing.T) {
	t1 := at(t, "2024-06-04T20:00:00Z")
	t0 := at(t, "2024-06-03T20:00:00Z")
	_, err := NewSource([]schema.Event{bar(t1, 1), bar(t0, 1)})
	require.Error(t, err)
}

func TestEmptySource(t *testing.T) {
	src, err := NewSource()
	require.NoError(t, err)
	_, ok := src.Next()
	assert.False(t, ok)
}
