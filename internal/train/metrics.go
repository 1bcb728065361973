package train

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// EpochMetrics summarizes one epoch.
type EpochMetrics struct {
	Epoch         int     `json:"epoch"`
	Steps         int64   `json:"steps"` // Optimizer steps taken so far in the run
	TrainLoss     float64 `json:"train_loss"`
	TrainAccuracy float64 `json:"train_accuracy"`
	ValidLoss     float64 `json:"valid_loss"`
	ValidAccuracy float64 `json:"valid_accuracy"`
	Seconds       float64 `json:"seconds"`
}

// Metrics is the content of metrics.json.
type Metrics struct {
	RunID  string         `json:"run_id"`
	Epochs []EpochMetrics `json:"epochs"`
}

// ReadMetrics reads a metrics.json file.
func ReadMetrics(path string) (*Metrics, error) {
	//nolint:gosec // G304: artifact path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var m Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return &m, nil
}

func (m *Metrics) write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal metrics")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return errors.Wrapf(os.Rename(tmp, path), "failed to write %s", path)
}

// accumulator sums per-batch loss and correct predictions.
type accumulator struct {
	lossSum float64
	correct float64
	samples int
}

func (a *accumulator) add(loss float32, accuracy float64, n int) {
	a.lossSum += float64(loss) * float64(n)
	a.correct += accuracy * float64(n)
	a.samples += n
}

func (a *accumulator) mean() (loss, accuracy float64) {
	if a.samples == 0 {
		return 0, 0
	}
	return a.lossSum / float64(a.samples), a.correct / float64(a.samples)
}
