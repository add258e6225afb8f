package artifact

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yanun0323/errors"

	"quant/internal/exec"
	"quant/internal/metrics"
	"quant/internal/portfolio"
	"quant/internal/schema"
)

// Writer emits one run's artifact set under root/<run_id>/.
type Writer struct {
	dir string
}

// NewWriter creates the run directory. Reusing an existing run id is an
// error: artifact sets are immutable.
func NewWriter(root, runID string) (*Writer, error) {
	dir := filepath.Join(root, runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, errors.Errorf("artifact set %s already exists", runID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create artifact dir")
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the run's artifact directory.
func (w *Writer) Dir() string {
	return w.dir
}

func (w *Writer) writeCSV(name string, header []string, rows [][]string) error {
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return errors.Wrapf(err, "create %s", name)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return errors.Wrapf(err, "write %s header", name)
	}
	if err := cw.WriteAll(rows); err != nil {
		return errors.Wrapf(err, "write %s rows", name)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrapf(err, "flush %s", name)
	}
	return nil
}

func (w *Writer) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func px(v schema.Price) string {
	return strconv.FormatFloat(v.Float(), 'f', -1, 64)
}

func ntl(v schema.Notional) string {
	return strconv.FormatFloat(v.Float(), 'f', -1, 64)
}

// WriteEquity emits equity.csv from the sampled curve.
func (w *Writer) WriteEquity(samples []metrics.Sample) error {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			ts(s.Ts),
			ntl(s.Equity),
			ntl(s.Cash),
			ntl(s.Gross),
			ntl(s.Net),
			ntl(s.Realized),
			ntl(s.Unrealized),
		})
	}
	return w.writeCSV("equity.csv",
		[]string{"timestamp", "equity", "cash", "gross_exposure", "net_exposure", "realized_pnl", "unrealized_pnl"},
		rows)
}

// WriteOrders emits orders.csv with each order's terminal state and reason.
func (w *Writer) WriteOrders(orders []exec.OrderView) error {
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		closed := ""
		if !o.ClosedAt.IsZero() {
			closed = ts(o.ClosedAt)
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(o.Order.ID), 10),
			strconv.FormatUint(uint64(o.Order.SymbolID), 10),
			o.Order.Side.String(),
			strconv.FormatInt(int64(o.Order.Quantity), 10),
			o.Order.Type.String(),
			px(o.Order.LimitPrice),
			px(o.Order.StopPrice),
			o.Order.TimeInForce.String(),
			o.Order.Tag,
			ts(o.Order.SubmittedAt),
			o.State.String(),
			strconv.FormatInt(int64(o.Filled), 10),
			px(o.ArrivalMid),
			o.Reason,
			o.RiskReason,
			closed,
		})
	}
	return w.writeCSV("orders.csv",
		[]string{"order_id", "symbol_id", "side", "quantity", "type", "limit_price", "stop_price", "tif", "tag", "submitted_at", "state", "filled", "arrival_mid", "reason", "risk_reason", "closed_at"},
		rows)
}

// WriteFills emits fills.csv with the per-fill cost breakdown.
func (w *Writer) WriteFills(fills []schema.Fill) error {
	rows := make([][]string, 0, len(fills))
	for _, f := range fills {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(f.FillID), 10),
			strconv.FormatUint(uint64(f.OrderID), 10),
			ts(f.Ts),
			strconv.FormatUint(uint64(f.SymbolID), 10),
			f.Side.String(),
			strconv.FormatInt(int64(f.Quantity), 10),
			px(f.Price),
			strconv.FormatFloat(f.Fees.Float(), 'f', -1, 64),
			strconv.FormatFloat(f.BorrowFee.Float(), 'f', -1, 64),
			px(f.SlippageComponent),
			px(f.ImpactComponent),
		})
	}
	return w.writeCSV("fills.csv",
		[]string{"fill_id", "order_id", "timestamp", "symbol_id", "side", "quantity", "price", "fees", "borrow_fee", "slippage", "impact"},
		rows)
}

// WritePositions emits positions.csv: one row per open lot per sampled
// snapshot.
func (w *Writer) WritePositions(snaps []portfolio.Snapshot) error {
	var rows [][]string
	for _, snap := range snaps {
		for _, pos := range snap.Positions {
			for _, lot := range pos.Lots {
				rows = append(rows, []string{
					ts(snap.Ts),
					strconv.FormatUint(uint64(pos.SymbolID), 10),
					string(pos.Currency),
					strconv.FormatInt(int64(lot.Quantity), 10),
					px(lot.EntryPrice),
					ts(lot.EntryTime),
					ntl(pos.MarketValue),
					ntl(pos.UnrealizedPnL),
				})
			}
		}
	}
	return w.writeCSV("positions.csv",
		[]string{"timestamp", "symbol_id", "currency", "lot_quantity", "entry_price", "entry_time", "market_value", "unrealized_pnl"},
		rows)
}

// WriteMetrics emits metrics.json.
func (w *Writer) WriteMetrics(report metrics.Report) error {
	return w.writeJSON("metrics.json", report)
}

// WriteManifest emits run_manifest.json.
func (w *Writer) WriteManifest(manifest RunManifest) error {
	if manifest.RunID == "" {
		return errors.New("manifest missing run id")
	}
	return w.writeJSON("run_manifest.json", manifest)
}
