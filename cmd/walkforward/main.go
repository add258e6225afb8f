package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"quant/internal/artifact"
	"quant/internal/engine"
	"quant/internal/feed"
	"quant/internal/ops"
	"quant/internal/research"
)

func main() {
	configPath := flag.String("config", "run.json", "Path to JSON run config")
	artifactRoot := flag.String("artifacts", "", "Artifact root directory (default: $ARTIFACT_ROOT)")
	trainLen := flag.Duration("train", 90*24*time.Hour, "Training window length")
	testLen := flag.Duration("test", 30*24*time.Hour, "Test window length")
	workers := flag.Int("workers", 4, "Concurrent fold or trial runs")
	gridPath := flag.String("grid", "", "Path to a JSON parameter grid; runs a search over all folds")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envCfg, err := ops.LoadEnv()
	if err != nil {
		log.Fatalf("environment load failed: %v", err)
	}
	spec, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("run config load failed: %v", err)
	}
	root := *artifactRoot
	if root == "" {
		root = envCfg.ArtifactRoot
	}

	folds, err := research.WalkForward(spec.Start, spec.End, *trainLen, *testLen)
	if err != nil {
		log.Fatalf("fold construction failed: %v", err)
	}
	log.Printf("walk-forward: %d folds, train=%v test=%v", len(folds), *trainLen, *testLen)

	if *gridPath != "" {
		if err := runSearch(ctx, envCfg, spec, root, folds, *gridPath, *workers); err != nil {
			log.Fatalf("search failed: %v", err)
		}
		return
	}

	var mu sync.Mutex
	reports := make(map[time.Time]string, len(folds))

	err = research.RunFolds(ctx, folds, *workers, func(ctx context.Context, fold research.Fold) error {
		runID, res, err := runFold(ctx, envCfg, spec, root, fold)
		if err != nil {
			return err
		}
		mu.Lock()
		reports[fold.Test.Start] = fmt.Sprintf("run=%s return=%.4f sharpe=%.2f maxdd=%.4f trades=%d",
			runID, res.Report.TotalReturn, res.Report.AnnualizedSharpe, res.Report.MaxDrawdown, len(res.Fills))
		mu.Unlock()
		return nil
	})
	if err != nil {
		log.Fatalf("walk-forward failed: %v", err)
	}

	for _, fold := range folds {
		log.Printf("fold test=[%s, %s) %s",
			fold.Test.Start.Format(time.RFC3339), fold.Test.End.Format(time.RFC3339),
			reports[fold.Test.Start])
	}
}

// runSearch evaluates every grid combination over all folds. Trials run
// concurrently; folds within a trial run serially so each trial's artifact
// set lands under its own directory.
func runSearch(ctx context.Context, envCfg ops.Env, spec ops.Spec, root string, folds []research.Fold, gridPath string, workers int) error {
	data, err := os.ReadFile(gridPath)
	if err != nil {
		return err
	}
	var grid map[string][]float64
	if err := json.Unmarshal(data, &grid); err != nil {
		return err
	}
	trials, err := research.GridTrials(grid)
	if err != nil {
		return err
	}
	log.Printf("search: %d trials over %d folds", len(trials), len(folds))

	results, err := research.Search(ctx, trials, workers, func(ctx context.Context, trial research.Trial) (research.TrialSummary, error) {
		strat, err := spec.Strategy.Override(trial.Params)
		if err != nil {
			return research.TrialSummary{}, err
		}
		trialSpec := spec
		trialSpec.Strategy = strat
		trialRoot := filepath.Join(root, "trial_"+trial.ID)

		metrics := make([]research.FoldMetrics, 0, len(folds))
		for _, fold := range folds {
			_, res, err := runFold(ctx, envCfg, trialSpec, trialRoot, fold)
			if err != nil {
				return research.TrialSummary{}, err
			}
			metrics = append(metrics, research.FoldMetrics{
				Return: res.Report.TotalReturn,
				Orders: len(res.Orders),
			})
		}
		return research.Summarize(metrics), nil
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		log.Printf("trial=%s params=%v mean_return=%.4f mean_orders=%.1f", r.Trial.ID, r.Trial.Params, r.Summary.MeanReturn, r.Summary.MeanOrders)
	}
	return research.WriteLeaderboard(root, results)
}

// runFold executes one out-of-sample window as its own run with its own
// artifact set. The training window only positions the fold; parameters come
// from the spec, so every fold trades unseen data.
func runFold(ctx context.Context, envCfg ops.Env, spec ops.Spec, root string, fold research.Fold) (string, *engine.Result, error) {
	foldSpec := spec
	foldSpec.Start = fold.Test.Start
	foldSpec.End = fold.Test.End

	dataset, err := ops.LoadDataset(ctx, envCfg, foldSpec)
	if err != nil {
		return "", nil, err
	}
	cfg, strat, err := ops.Resolve(foldSpec, dataset.Registry)
	if err != nil {
		return "", nil, err
	}
	costs, err := ops.Costs(foldSpec)
	if err != nil {
		return "", nil, err
	}
	source, err := feed.NewSource(dataset.Streams...)
	if err != nil {
		return "", nil, err
	}
	eng, err := engine.New(cfg, dataset.Registry, dataset.Bars, dataset.FX, source, costs, strat)
	if err != nil {
		return "", nil, err
	}

	runID := artifact.NewRunID()
	res, runErr := eng.Run(ctx)
	if err := ops.WriteArtifacts(root, runID, foldSpec, dataset.Versions, res); err != nil {
		return "", nil, err
	}
	if runErr != nil {
		return "", nil, runErr
	}
	return runID, res, nil
}
