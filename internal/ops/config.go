package ops

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"

	"quant/internal/cost"
	"quant/internal/engine"
	"quant/internal/exec"
	"quant/internal/risk"
	"quant/internal/schema"
	"quant/internal/strategy"
)

// Env carries process-level settings resolved from the environment. A .env
// file in the working directory is applied first, real environment variables
// win.
type Env struct {
	ArtifactRoot string       `env:"ARTIFACT_ROOT" envDefault:"artifacts"`
	DataDir      string       `env:"DATA_DIR" envDefault:"testdata"`
	Postgres     PostgresEnv  `envPrefix:"PG_"`
	Pyroscope    PyroscopeEnv `envPrefix:"PYROSCOPE_"`
}

// PostgresEnv selects the market-data database. An empty host means the run
// loads CSV files from DataDir instead.
type PostgresEnv struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Database string `env:"DATABASE" envDefault:"marketdata"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

// PyroscopeEnv enables continuous profiling for long runs.
type PyroscopeEnv struct {
	Enabled       bool   `env:"ENABLED" envDefault:"false"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"http://localhost:4040"`
	Application   string `env:"APPLICATION" envDefault:"quant-backtest"`
}

// LoadEnv resolves the environment configuration.
func LoadEnv() (Env, error) {
	_ = godotenv.Load()

	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}

// Spec mirrors the JSON run file. Cash amounts are display units in the base
// currency; they are rescaled during resolution.
type Spec struct {
	Name         string              `json:"name"`
	BaseCurrency schema.Currency     `json:"baseCurrency"`
	InitialCash  float64             `json:"initialCash"`
	Seed         int64               `json:"seed"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	Exchanges    []string            `json:"exchanges"`
	Strategy     StrategySpec        `json:"strategy"`
	Caps         CapsSpec            `json:"caps"`
	Exec         *exec.Config        `json:"exec"`
	Stats        map[string]StatSpec `json:"stats"`
	CostProfile  string              `json:"costProfile"`
	// PeriodsPerYear annualizes the report; zero defaults to daily bars.
	PeriodsPerYear float64 `json:"periodsPerYear"`
}

// StrategySpec names a built-in strategy and its parameters. Fields the named
// strategy does not use are ignored.
type StrategySpec struct {
	Name      string  `json:"name"`
	Window    int     `json:"window"`
	Lookback  int     `json:"lookback"`
	K         float64 `json:"k"`
	Enter     float64 `json:"enter"`
	Exit      float64 `json:"exit"`
	TargetVol float64 `json:"targetVol"`
}

// Override applies named parameter values over the spec, returning the
// adjusted copy. Integer parameters are truncated from their float values.
// Unknown names are rejected so a typo in a search grid fails fast.
func (s StrategySpec) Override(params map[string]float64) (StrategySpec, error) {
	out := s
	for name, v := range params {
		switch name {
		case "window":
			out.Window = int(v)
		case "lookback":
			out.Lookback = int(v)
		case "k":
			out.K = v
		case "enter":
			out.Enter = v
		case "exit":
			out.Exit = v
		case "targetVol":
			out.TargetVol = v
		default:
			return StrategySpec{}, errors.Wrapf(ErrBadSpec, "unknown strategy parameter %s", name)
		}
	}
	return out, nil
}

// CapsSpec holds risk caps in display units of the base currency. Zero means
// the cap is disabled.
type CapsSpec struct {
	MaxGross     float64 `json:"maxGross"`
	MaxNet       float64 `json:"maxNet"`
	MaxPerSymbol float64 `json:"maxPerSymbol"`
	MaxLeverage  float64 `json:"maxLeverage"`
}

// StatSpec carries per-ticker liquidity inputs for the impact model.
type StatSpec struct {
	Sigma float64 `json:"sigma"`
	ADV   float64 `json:"adv"`
}

var (
	ErrUnknownStrategy = stderrors.New("unknown strategy")
	ErrBadSpec         = stderrors.New("invalid run spec")
)

// Load reads a JSON run file.
func Load(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, errors.Wrap(err, "read run spec")
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return Spec{}, errors.Wrap(err, "decode run spec")
	}
	if err := validate(spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func validate(spec Spec) error {
	if spec.Name == "" {
		return errors.Wrap(ErrBadSpec, "name is empty")
	}
	if spec.BaseCurrency == "" {
		return errors.Wrap(ErrBadSpec, "baseCurrency is empty")
	}
	if spec.InitialCash <= 0 {
		return errors.Wrap(ErrBadSpec, "initialCash must be > 0")
	}
	if !spec.Start.Before(spec.End) {
		return errors.Wrap(ErrBadSpec, "start must be before end")
	}
	if len(spec.Exchanges) == 0 {
		return errors.Wrap(ErrBadSpec, "exchanges is empty")
	}
	if spec.Strategy.Name == "" {
		return errors.Wrap(ErrBadSpec, "strategy name is empty")
	}
	return nil
}

// Resolve turns a spec into an engine configuration and strategy instance.
// Stats tickers are resolved against the registry at the run start.
func Resolve(spec Spec, registry *schema.Registry) (engine.Config, strategy.Strategy, error) {
	strat, err := buildStrategy(spec.Strategy)
	if err != nil {
		return engine.Config{}, nil, err
	}

	execCfg := exec.DefaultConfig()
	if spec.Exec != nil {
		execCfg = *spec.Exec
	}

	stats := make(map[schema.SymbolID]exec.SymbolStats, len(spec.Stats))
	for ticker, stat := range spec.Stats {
		rec, err := registry.ResolveAsOf(ticker, spec.Start)
		if err != nil {
			return engine.Config{}, nil, errors.Wrapf(err, "stats ticker %s", ticker)
		}
		stats[rec.SymbolID] = exec.SymbolStats{Sigma: stat.Sigma, ADV: stat.ADV}
	}

	cfg := engine.Config{
		Base:        spec.BaseCurrency,
		InitialCash: notionalFromFloat(spec.InitialCash),
		Seed:        spec.Seed,
		Start:       spec.Start.UTC(),
		Exchanges:   spec.Exchanges,
		Caps: risk.Caps{
			MaxGross:     notionalFromFloat(spec.Caps.MaxGross),
			MaxNet:       notionalFromFloat(spec.Caps.MaxNet),
			MaxPerSymbol: notionalFromFloat(spec.Caps.MaxPerSymbol),
			MaxLeverage:  spec.Caps.MaxLeverage,
		},
		Exec:           execCfg,
		Stats:          stats,
		PeriodsPerYear: spec.PeriodsPerYear,
	}
	return cfg, strat, nil
}

// Costs loads the fee calculator named by the spec, or a free one when the
// spec leaves the profile blank.
func Costs(spec Spec) (*cost.Calculator, error) {
	if spec.CostProfile == "" {
		return cost.NewCalculator(nil), nil
	}
	return cost.LoadCalculator(spec.CostProfile)
}

func buildStrategy(spec StrategySpec) (strategy.Strategy, error) {
	switch spec.Name {
	case "bollinger":
		window := spec.Window
		if window == 0 {
			window = 20
		}
		k := spec.K
		if k == 0 {
			k = 2
		}
		return &strategy.Bollinger{Window: window, K: k, TargetVol: spec.TargetVol}, nil
	case "momentum":
		lookback := spec.Lookback
		if lookback == 0 {
			lookback = 10
		}
		return &strategy.Momentum{
			Lookback:  lookback,
			Enter:     spec.Enter,
			Exit:      spec.Exit,
			TargetVol: spec.TargetVol,
		}, nil
	default:
		return nil, errors.Wrap(ErrUnknownStrategy, spec.Name)
	}
}

func notionalFromFloat(v float64) schema.Notional {
	return schema.Notional(schema.PriceFromFloat(v))
}
