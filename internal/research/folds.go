// Package research builds train/test splits for strategy validation and
// drives independent fold runs. Splits are computed on half-open time ranges
// so no instant can land in both sides of a fold.
package research

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
)

var (
	ErrInvalidSpan   = stderrors.New("span end must be after start")
	ErrInvalidWindow = stderrors.New("window lengths must be positive")
	ErrTooManyFolds  = stderrors.New("fold count exceeds span")
)

// Range is a half-open time interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the range.
func (r Range) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && ts.Before(r.End)
}

// Duration returns the range length.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Fold is one walk-forward split: the test window immediately follows the
// train window.
type Fold struct {
	Train Range
	Test  Range
}

// WalkForward builds rolling folds over [start, end): each fold trains on
// trainLen and tests on the following testLen, stepping forward by testLen.
// Only folds whose test window fits entirely inside the span are returned.
func WalkForward(start, end time.Time, trainLen, testLen time.Duration) ([]Fold, error) {
	if !end.After(start) {
		return nil, ErrInvalidSpan
	}
	if trainLen <= 0 || testLen <= 0 {
		return nil, ErrInvalidWindow
	}

	var folds []Fold
	for cursor := start; ; cursor = cursor.Add(testLen) {
		trainEnd := cursor.Add(trainLen)
		testEnd := trainEnd.Add(testLen)
		if testEnd.After(end) {
			break
		}
		folds = append(folds, Fold{
			Train: Range{Start: cursor, End: trainEnd},
			Test:  Range{Start: trainEnd, End: testEnd},
		})
	}
	if len(folds) == 0 {
		return nil, errors.Wrap(ErrTooManyFolds, "no fold fits the span")
	}
	return folds, nil
}

// KFold is one purged k-fold split: train ranges exclude the test block plus
// an embargo margin on both sides, guarding against leakage from overlapping
// label horizons.
type KFold struct {
	Test  Range
	Train []Range
}

// PurgedKFold splits [span.Start, span.End) into k contiguous test blocks.
// For each block the train set is the rest of the span with embargo trimmed
// from the edges adjacent to the test block.
func PurgedKFold(span Range, k int, embargo time.Duration) ([]KFold, error) {
	if !span.End.After(span.Start) {
		return nil, ErrInvalidSpan
	}
	if k < 2 {
		return nil, errors.Wrap(ErrInvalidWindow, "k must be at least 2")
	}
	if embargo < 0 {
		return nil, errors.Wrap(ErrInvalidWindow, "embargo must not be negative")
	}
	total := span.Duration()
	block := total / time.Duration(k)
	if block <= 0 || block <= embargo {
		return nil, errors.Wrap(ErrTooManyFolds, "test blocks collapse under the embargo")
	}

	folds := make([]KFold, 0, k)
	for i := 0; i < k; i++ {
		testStart := span.Start.Add(time.Duration(i) * block)
		testEnd := testStart.Add(block)
		if i == k-1 {
			testEnd = span.End
		}

		var train []Range
		if left := (Range{Start: span.Start, End: testStart.Add(-embargo)}); left.End.After(left.Start) {
			train = append(train, left)
		}
		if right := (Range{Start: testEnd.Add(embargo), End: span.End}); right.End.After(right.Start) {
			train = append(train, right)
		}
		folds = append(folds, KFold{Test: Range{Start: testStart, End: testEnd}, Train: train})
	}
	return folds, nil
}
