// Package artifact emits the immutable per-run output set: equity, order,
// fill, and position CSVs plus metrics and manifest JSON, all keyed by the
// run id. Artifacts are write-once; a run never mutates a previous run's set.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/yanun0323/errors"
)

// Run completion statuses recorded in the manifest.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// RunManifest is the replay record of one run: everything needed to
// reproduce its outputs bit for bit.
type RunManifest struct {
	RunID           string            `json:"run_id"`
	CreatedAt       time.Time         `json:"created_at"`
	Strategy        string            `json:"strategy"`
	ParamsHash      string            `json:"params_hash"`
	Seed            int64             `json:"seed"`
	BaseCurrency    string            `json:"base_currency"`
	Start           time.Time         `json:"start"`
	End             time.Time         `json:"end"`
	DataVersions    map[string]string `json:"data_versions"`
	SlippageModelID string            `json:"slippage_model_id"`
	CalendarVersion string            `json:"calendar_version"`
	Status          string            `json:"status"`
	Error           string            `json:"error,omitempty"`
}

// NewRunID mints a lexicographically sortable run id.
func NewRunID() string {
	return ulid.Make().String()
}

// HashParams returns the sha256 hex digest of the canonical JSON encoding of
// the strategy parameters. Two runs with equal hashes ran equal parameters.
func HashParams(params any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "encode params")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
