package ops

import (
	"time"

	"quant/internal/artifact"
	"quant/internal/calendar"
	"quant/internal/engine"
	"quant/internal/exec"
)

// WriteArtifacts flushes a run's full artifact set under root/<runID>/.
// Failed and cancelled runs flush too; the manifest records how the run
// ended.
func WriteArtifacts(root, runID string, spec Spec, versions map[string]string, res *engine.Result) error {
	w, err := artifact.NewWriter(root, runID)
	if err != nil {
		return err
	}
	if err := w.WriteEquity(res.Samples); err != nil {
		return err
	}
	if err := w.WriteOrders(res.Orders); err != nil {
		return err
	}
	if err := w.WriteFills(res.Fills); err != nil {
		return err
	}
	if err := w.WritePositions(res.Snapshots); err != nil {
		return err
	}
	if err := w.WriteMetrics(res.Report); err != nil {
		return err
	}

	paramsHash, err := artifact.HashParams(spec)
	if err != nil {
		return err
	}
	manifest := artifact.RunManifest{
		RunID:           runID,
		CreatedAt:       time.Now().UTC(),
		Strategy:        spec.Strategy.Name,
		ParamsHash:      paramsHash,
		Seed:            spec.Seed,
		BaseCurrency:    string(spec.BaseCurrency),
		Start:           spec.Start.UTC(),
		End:             spec.End.UTC(),
		DataVersions:    versions,
		SlippageModelID: exec.ModelID,
		CalendarVersion: calendar.Version,
		Status:          res.Status,
	}
	if res.Err != nil {
		manifest.Error = res.Err.Error()
	}
	return w.WriteManifest(manifest)
}
