package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"

	"quant/internal/artifact"
	"quant/internal/engine"
	"quant/internal/feed"
	"quant/internal/ops"
)

func main() {
	configPath := flag.String("config", "run.json", "Path to JSON run config")
	artifactRoot := flag.String("artifacts", "", "Artifact root directory (default: $ARTIFACT_ROOT)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envCfg, err := ops.LoadEnv()
	if err != nil {
		log.Fatalf("environment load failed: %v", err)
	}
	if envCfg.Pyroscope.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: envCfg.Pyroscope.Application,
			ServerAddress:   envCfg.Pyroscope.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	spec, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("run config load failed: %v", err)
	}

	root := *artifactRoot
	if root == "" {
		root = envCfg.ArtifactRoot
	}

	if err := run(ctx, envCfg, spec, root); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func run(ctx context.Context, envCfg ops.Env, spec ops.Spec, artifactRoot string) error {
	dataset, err := ops.LoadDataset(ctx, envCfg, spec)
	if err != nil {
		return err
	}

	cfg, strat, err := ops.Resolve(spec, dataset.Registry)
	if err != nil {
		return err
	}
	costs, err := ops.Costs(spec)
	if err != nil {
		return err
	}
	source, err := feed.NewSource(dataset.Streams...)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, dataset.Registry, dataset.Bars, dataset.FX, source, costs, strat)
	if err != nil {
		return err
	}

	runID := artifact.NewRunID()
	res, runErr := eng.Run(ctx)

	if err := ops.WriteArtifacts(artifactRoot, runID, spec, dataset.Versions, res); err != nil {
		if runErr != nil {
			return fmt.Errorf("write artifacts: %v (run error: %w)", err, runErr)
		}
		return fmt.Errorf("write artifacts: %w", err)
	}
	log.Printf("run %s %s: artifacts in %s", runID, res.Status, filepath.Join(artifactRoot, runID))
	return runErr
}
