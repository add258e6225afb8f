package research

import (
	"context"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quant/internal/artifact"
)

var (
	ErrEmptyGrid = stderrors.New("parameter grid has no values")
	ErrBadRange  = stderrors.New("parameter range bounds are inverted")
	ErrNoTrials  = stderrors.New("trial count must be positive")
)

// Params is one candidate parameter assignment, keyed by parameter name.
type Params map[string]float64

// Trial pairs a parameter assignment with its stable id. Equal params always
// produce the same id, so re-running a search reuses trial directories.
type Trial struct {
	ID     string `json:"trial_id"`
	Params Params `json:"params"`
}

// newTrial derives the trial id from the canonical params hash.
func newTrial(params Params) (Trial, error) {
	hash, err := artifact.HashParams(params)
	if err != nil {
		return Trial{}, errors.Wrap(err, "hash trial params")
	}
	return Trial{ID: hash[:8], Params: params}, nil
}

// GridTrials enumerates the cartesian product of the grid in sorted key
// order, so the trial sequence is deterministic.
func GridTrials(grid map[string][]float64) ([]Trial, error) {
	if len(grid) == 0 {
		return nil, errors.Wrap(ErrEmptyGrid, "grid is empty")
	}
	keys := make([]string, 0, len(grid))
	for k := range grid {
		if len(grid[k]) == 0 {
			return nil, errors.Wrapf(ErrEmptyGrid, "parameter %s", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var trials []Trial
	indices := make([]int, len(keys))
	for {
		params := make(Params, len(keys))
		for i, k := range keys {
			params[k] = grid[k][indices[i]]
		}
		trial, err := newTrial(params)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)

		i := len(keys) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(grid[keys[i]]) {
				break
			}
			indices[i] = 0
		}
		if i < 0 {
			return trials, nil
		}
	}
}

// ParamRange bounds one randomly sampled parameter. Integer ranges sample
// whole values in [Min, Max]; float ranges sample uniformly in [Min, Max).
type ParamRange struct {
	Min     float64
	Max     float64
	Integer bool
}

// RandomTrials samples n parameter assignments from the ranges using its own
// seeded generator, independent of any run's RNG.
func RandomTrials(ranges map[string]ParamRange, n int, seed int64) ([]Trial, error) {
	if n <= 0 {
		return nil, ErrNoTrials
	}
	if len(ranges) == 0 {
		return nil, errors.Wrap(ErrEmptyGrid, "no parameter ranges")
	}
	keys := make([]string, 0, len(ranges))
	for k, r := range ranges {
		if r.Max < r.Min {
			return nil, errors.Wrapf(ErrBadRange, "parameter %s: [%v, %v]", k, r.Min, r.Max)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rng := rand.New(rand.NewSource(seed))
	trials := make([]Trial, 0, n)
	for i := 0; i < n; i++ {
		params := make(Params, len(keys))
		for _, k := range keys {
			r := ranges[k]
			if r.Integer {
				span := int64(r.Max) - int64(r.Min) + 1
				params[k] = float64(int64(r.Min) + rng.Int63n(span))
			} else {
				params[k] = r.Min + rng.Float64()*(r.Max-r.Min)
			}
		}
		trial, err := newTrial(params)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}
	return trials, nil
}

// FoldMetrics is one fold run's contribution to a trial summary.
type FoldMetrics struct {
	Return float64
	Orders int
}

// TrialSummary aggregates a trial's fold runs.
type TrialSummary struct {
	MeanReturn float64 `json:"mean_return"`
	MeanOrders float64 `json:"mean_orders"`
	Folds      int     `json:"folds"`
}

// Summarize averages fold metrics into a trial summary.
func Summarize(folds []FoldMetrics) TrialSummary {
	s := TrialSummary{Folds: len(folds)}
	if len(folds) == 0 {
		return s
	}
	for _, f := range folds {
		s.MeanReturn += f.Return
		s.MeanOrders += float64(f.Orders)
	}
	s.MeanReturn /= float64(len(folds))
	s.MeanOrders /= float64(len(folds))
	return s
}

// TrialResult is one evaluated trial.
type TrialResult struct {
	Trial   Trial        `json:"trial"`
	Summary TrialSummary `json:"summary"`
}

// TrialFunc evaluates one trial, typically by running every walk-forward fold
// with the trial's parameters and summarizing the out-of-sample results.
type TrialFunc func(ctx context.Context, trial Trial) (TrialSummary, error)

// Search evaluates trials concurrently with at most workers in flight and
// returns the leaderboard, best mean return first. The first error cancels
// the remaining trials and is returned.
func Search(ctx context.Context, trials []Trial, workers int, eval TrialFunc) ([]TrialResult, error) {
	if len(trials) == 0 {
		return nil, ErrNoTrials
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(trials) {
		workers = len(trials)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Trial)
	errs := make(chan error, len(trials))
	results := make(chan TrialResult, len(trials))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trial := range jobs {
				summary, err := eval(ctx, trial)
				if err != nil {
					errs <- errors.Wrapf(err, "trial %s", trial.ID)
					cancel()
					return
				}
				results <- TrialResult{Trial: trial, Summary: summary}
			}
		}()
	}

	for _, trial := range trials {
		select {
		case jobs <- trial:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)
	close(results)

	for err := range errs {
		return nil, err
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}

	leaderboard := make([]TrialResult, 0, len(trials))
	for res := range results {
		leaderboard = append(leaderboard, res)
	}
	sort.Slice(leaderboard, func(i, j int) bool {
		a, b := leaderboard[i], leaderboard[j]
		if a.Summary.MeanReturn != b.Summary.MeanReturn {
			return a.Summary.MeanReturn > b.Summary.MeanReturn
		}
		return a.Trial.ID < b.Trial.ID
	})
	logs.Infof("search complete: %d trials, best mean return %.4f", len(leaderboard), leaderboard[0].Summary.MeanReturn)
	return leaderboard, nil
}

// WriteLeaderboard emits leaderboard.csv and leaderboard.json under dir,
// preserving the ranking order of results.
func WriteLeaderboard(dir string, results []TrialResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create leaderboard dir")
	}

	names := map[string]bool{}
	for _, r := range results {
		for k := range r.Trial.Params {
			names[k] = true
		}
	}
	params := make([]string, 0, len(names))
	for k := range names {
		params = append(params, k)
	}
	sort.Strings(params)

	f, err := os.Create(filepath.Join(dir, "leaderboard.csv"))
	if err != nil {
		return errors.Wrap(err, "create leaderboard.csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"trial_id"}, params...)
	header = append(header, "mean_return", "mean_orders", "folds")
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "write leaderboard header")
	}
	for _, r := range results {
		row := []string{r.Trial.ID}
		for _, k := range params {
			row = append(row, strconv.FormatFloat(r.Trial.Params[k], 'f', -1, 64))
		}
		row = append(row,
			strconv.FormatFloat(r.Summary.MeanReturn, 'f', -1, 64),
			strconv.FormatFloat(r.Summary.MeanOrders, 'f', -1, 64),
			strconv.Itoa(r.Summary.Folds))
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "write leaderboard row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush leaderboard.csv")
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode leaderboard.json")
	}
	if err := os.WriteFile(filepath.Join(dir, "leaderboard.json"), data, 0o644); err != nil {
		return errors.Wrap(err, "write leaderboard.json")
	}
	return nil
}
