package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanStd(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(vals), 1e-9)
	assert.InDelta(t, 2.1380899, Std(vals), 1e-6)

	assert.Zero(t, Mean(nil))
	assert.Zero(t, Std([]float64{1}))
}

func TestZScore(t *testing.T) {
	vals := []float64{10, 10, 10, 10}
	assert.Zero(t, ZScore(12, vals), "zero deviation yields zero score")

	vals = []float64{9, 10, 11}
	assert.InDelta(t, 2.0, ZScore(12, vals), 1e-9)
}

func TestROC(t *testing.T) {
	closes := []float64{100, 101, 102, 110}
	if got := ROC(closes, 3); got != 0.1 {
		t.Fatalf("roc mismatch! should be 0.1 but got %v", got)
	}
	assert.Zero(t, ROC(closes, 4), "lookback longer than series")
	assert.Zero(t, ROC(closes, 0))
}

func TestATRUsesTrueRange(t *testing.T) {
	// Second bar gaps above the prior close: true range is high - prevClose.
	highs := []float64{11, 15}
	lows := []float64{9, 14}
	closes := []float64{10, 14.5}
	assert.InDelta(t, 5.0, ATR(highs, lows, closes, 1), 1e-9)

	assert.Zero(t, ATR(highs, lows, closes[:1], 1), "misaligned series")
	assert.Zero(t, ATR(highs, lows, closes, 2), "not enough history")
}

func TestVolTargetQuantity(t *testing.T) {
	// 100k equity, 1% daily target, 2% realized vol, 100 price -> 500 shares.
	assert.Equal(t, int64(500), VolTargetQuantity(100000, 0.01, 0.02, 100))
	assert.Zero(t, VolTargetQuantity(100000, 0.01, 0, 100))
	assert.Zero(t, VolTargetQuantity(0, 0.01, 0.02, 100))
}

func TestDailyVol(t *testing.T) {
	assert.Zero(t, DailyVol([]float64{100, 101}))
	flat := []float64{100, 100, 100, 100}
	assert.Zero(t, DailyVol(flat))
	moving := []float64{100, 102, 99, 103}
	assert.Greater(t, DailyVol(moving), 0.0)
}
