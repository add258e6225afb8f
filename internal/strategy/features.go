package strategy

import "math"

// Mean returns the arithmetic mean, zero for an empty slice.
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Std returns the sample standard deviation, zero when fewer than two values.
func Std(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	mean := Mean(vals)
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(vals)-1))
}

// ZScore returns how many sample deviations v sits from the mean of vals,
// zero when the deviation is zero.
func ZScore(v float64, vals []float64) float64 {
	std := Std(vals)
	if std == 0 {
		return 0
	}
	return (v - Mean(vals)) / std
}

// ROC returns the n-period rate of change over closes, most recent last.
// Zero when the series is too short or the reference close is zero.
func ROC(closes []float64, n int) float64 {
	if n <= 0 || len(closes) <= n {
		return 0
	}
	ref := closes[len(closes)-1-n]
	if ref == 0 {
		return 0
	}
	return closes[len(closes)-1]/ref - 1
}

// ATR returns the average true range over aligned high/low/close series,
// most recent last. Zero when the series are too short or misaligned.
func ATR(highs, lows, closes []float64, n int) float64 {
	if n <= 0 || len(highs) != len(lows) || len(highs) != len(closes) || len(highs) < n+1 {
		return 0
	}
	var sum float64
	for i := len(highs) - n; i < len(highs); i++ {
		tr := highs[i] - lows[i]
		prev := closes[i-1]
		if hc := math.Abs(highs[i] - prev); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - prev); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(n)
}

// DailyVol returns the sample deviation of simple returns over closes.
func DailyVol(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return Std(returns)
}

// VolTargetQuantity sizes a position so that its expected daily P&L swing is
// targetVol of equity. Zero when price or realized vol is degenerate.
func VolTargetQuantity(equity, targetVol, dailyVol, price float64) int64 {
	if price <= 0 || dailyVol <= 0 || targetVol <= 0 || equity <= 0 {
		return 0
	}
	return int64(equity * targetVol / (dailyVol * price))
}
