package ops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"quant/internal/data"
	"quant/internal/pit"
	"quant/internal/schema"
)

// Dataset bundles everything a run needs from the market-data source. The
// stores carry the full loaded history so strategies can warm up on bars
// before the run window; Streams holds only the events inside it.
type Dataset struct {
	Registry *schema.Registry
	Bars     *pit.BarStore
	FX       *pit.FXStore
	Streams  [][]schema.Event
	Versions map[string]string
}

// LoadDataset reads the symbol master, bar history, and FX history either
// from Postgres or from CSV files in the configured data directory.
func LoadDataset(ctx context.Context, envCfg Env, spec Spec) (Dataset, error) {
	if envCfg.Postgres.Host != "" {
		return loadFromPostgres(ctx, envCfg, spec)
	}
	return loadFromCSV(envCfg.DataDir, spec)
}

func loadFromCSV(dir string, spec Spec) (Dataset, error) {
	barsPath := filepath.Join(dir, "bars.csv")
	symbolsPath := filepath.Join(dir, "symbols.csv")
	fxPath := filepath.Join(dir, "fx.csv")

	registry := schema.NewRegistry()
	if err := data.LoadSymbols(symbolsPath, registry); err != nil {
		return Dataset{}, err
	}
	barRows, err := data.LoadBars(barsPath)
	if err != nil {
		return Dataset{}, err
	}

	var fxRows []pit.FXRow
	fxVersion := "none"
	if _, err := os.Stat(fxPath); err == nil {
		if fxRows, err = data.LoadFX(fxPath); err != nil {
			return Dataset{}, err
		}
		if fxVersion, err = fileDigest(fxPath); err != nil {
			return Dataset{}, err
		}
	}

	barsVersion, err := fileDigest(barsPath)
	if err != nil {
		return Dataset{}, err
	}
	symbolsVersion, err := fileDigest(symbolsPath)
	if err != nil {
		return Dataset{}, err
	}

	return Dataset{
		Registry: registry,
		Bars:     pit.NewBarStore(barRows, barsVersion),
		FX:       pit.NewFXStore(fxRows, fxVersion),
		Streams:  data.BarEvents(windowRows(barRows, spec.Start, spec.End)),
		Versions: map[string]string{
			"bars":    barsVersion,
			"symbols": symbolsVersion,
			"fx":      fxVersion,
		},
	}, nil
}

func loadFromPostgres(ctx context.Context, envCfg Env, spec Spec) (Dataset, error) {
	store, err := data.OpenPG(data.PGOption{
		Host:     envCfg.Postgres.Host,
		Port:     envCfg.Postgres.Port,
		User:     envCfg.Postgres.User,
		Password: envCfg.Postgres.Password,
		Database: envCfg.Postgres.Database,
		SSLMode:  envCfg.Postgres.SSLMode,
	})
	if err != nil {
		return Dataset{}, err
	}
	defer store.Close()

	registry := schema.NewRegistry()
	if err := store.Symbols(ctx, registry); err != nil {
		return Dataset{}, err
	}
	// Pull a year of history ahead of the window for indicator warmup.
	historyStart := spec.Start.AddDate(-1, 0, 0)
	barRows, err := store.Bars(ctx, historyStart, spec.End)
	if err != nil {
		return Dataset{}, err
	}
	fxRows, err := store.FX(ctx, historyStart, spec.End)
	if err != nil {
		return Dataset{}, err
	}

	version := "pg:" + envCfg.Postgres.Database
	return Dataset{
		Registry: registry,
		Bars:     pit.NewBarStore(barRows, version),
		FX:       pit.NewFXStore(fxRows, version),
		Streams:  data.BarEvents(windowRows(barRows, spec.Start, spec.End)),
		Versions: map[string]string{
			"bars":    version,
			"symbols": version,
			"fx":      version,
		},
	}, nil
}

// windowRows trims bar rows to the half-open run window.
func windowRows(rows []pit.BarRow, start, end time.Time) []pit.BarRow {
	out := make([]pit.BarRow, 0, len(rows))
	for _, row := range rows {
		if row.Ts.Before(start) || !row.Ts.Before(end) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))[:16], nil
}
