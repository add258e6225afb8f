package research

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, d int) time.Time {
	t.Helper()
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func TestWalkForwardFolds(t *testing.T) {
	folds, err := WalkForward(day(t, 0), day(t, 100), 30*24*time.Hour, 10*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, folds, 7)

	first := folds[0]
	assert.Equal(t, day(t, 0), first.Train.Start)
	assert.Equal(t, day(t, 30), first.Train.End)
	assert.Equal(t, day(t, 30), first.Test.Start)
	assert.Equal(t, day(t, 40), first.Test.End)

	// Each fold steps forward by the test length.
	assert.Equal(t, day(t, 10), folds[1].Train.Start)
	assert.Equal(t, day(t, 90), folds[6].Test.Start)
}

func TestWalkForwardNoOverlap(t *testing.T) {
	folds, err := WalkForward(day(t, 0), day(t, 365), 60*24*time.Hour, 20*24*time.Hour)
	require.NoError(t, err)

	for i, fold := range folds {
		// Sweep the span in 6h steps: no instant may be in both sets.
		for ts := day(t, 0); ts.Before(day(t, 365)); ts = ts.Add(6 * time.Hour) {
			if fold.Train.Contains(ts) && fold.Test.Contains(ts) {
				t.Fatalf("overlap mismatch! fold %d contains %s in both train and test", i, ts)
			}
		}
		assert.Equal(t, fold.Train.End, fold.Test.Start, "test follows train immediately")
	}
}

func TestWalkForwardRejectsBadInput(t *testing.T) {
	_, err := WalkForward(day(t, 10), day(t, 0), time.Hour, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidSpan)

	_, err = WalkForward(day(t, 0), day(t, 10), 0, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = WalkForward(day(t, 0), day(t, 5), 100*24*time.Hour, 24*time.Hour)
	assert.ErrorIs(t, err, ErrTooManyFolds)
}

func TestPurgedKFoldEmbargo(t *testing.T) {
	span := Range{Start: day(t, 0), End: day(t, 100)}
	embargo := 2 * 24 * time.Hour
	folds, err := PurgedKFold(span, 5, embargo)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	for _, fold := range folds {
		for _, train := range fold.Train {
			// Train ranges keep at least the embargo distance from the
			// test block.
			if train.End.After(fold.Test.Start.Add(-embargo)) && train.Start.Before(fold.Test.End) {
				t.Fatalf("embargo mismatch! train %v touches test %v", train, fold.Test)
			}
			if train.Start.Before(fold.Test.End.Add(embargo)) && train.Start.After(fold.Test.Start) {
				t.Fatalf("embargo mismatch! train %v starts inside the trailing embargo of %v", train, fold.Test)
			}
		}
	}

	// Middle folds train on both sides; edge folds on one.
	assert.Len(t, folds[0].Train, 1)
	assert.Len(t, folds[2].Train, 2)
	assert.Len(t, folds[4].Train, 1)

	// Test blocks tile the span exactly.
	assert.Equal(t, span.Start, folds[0].Test.Start)
	assert.Equal(t, span.End, folds[4].Test.End)
	for i := 1; i < len(folds); i++ {
		assert.Equal(t, folds[i-1].Test.End, folds[i].Test.Start)
	}
}

func TestPurgedKFoldRejectsBadInput(t *testing.T) {
	span := Range{Start: day(t, 0), End: day(t, 10)}
	_, err := PurgedKFold(span, 1, 0)
	assert.Error(t, err)

	_, err = PurgedKFold(span, 5, 0)
	assert.NoError(t, err)

	_, err = PurgedKFold(span, 5, 72*time.Hour)
	assert.ErrorIs(t, err, ErrTooManyFolds, "2-day blocks collapse under a 3-day embargo")
}

func TestRunFoldsExecutesAll(t *testing.T) {
	folds, err := WalkForward(day(t, 0), day(t, 100), 30*24*time.Hour, 10*24*time.Hour)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	err = RunFolds(context.Background(), folds, 3, func(ctx context.Context, fold Fold) error {
		mu.Lock()
		seen[fold.Test.Start] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, len(folds))
}

func TestRunFoldsStopsOnError(t *testing.T) {
	folds, err := WalkForward(day(t, 0), day(t, 365), 30*24*time.Hour, 10*24*time.Hour)
	require.NoError(t, err)

	var calls atomic.Int32
	boom := assert.AnError
	err = RunFolds(context.Background(), folds, 2, func(ctx context.Context, fold Fold) error {
		if calls.Add(1) == 3 {
			return boom
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Less(t, int(calls.Load()), len(folds), "remaining folds are cancelled")
}

func TestRunFoldsHonorsParentCancellation(t *testing.T) {
	folds, err := WalkForward(day(t, 0), day(t, 100), 30*24*time.Hour, 10*24*time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RunFolds(ctx, folds, 2, func(ctx context.Context, fold Fold) error {
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
