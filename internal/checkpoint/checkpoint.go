// Package checkpoint persists and restores classifier artifacts.
//
// An artifact directory holds:
//
//	model.json  Manifest: ModelConfig, input normalization, run id, epoch
//	model.born  parameter snapshot in the .born v2 container
//
// The manifest is written last, so a directory with a manifest always has a
// complete parameter file next to it.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/dataset"
	"github.com/born-ml/guide/internal/model"
	"github.com/born-ml/guide/internal/serialization"
)

// Artifact file names and the model type recorded in the parameter file.
const (
	ManifestFile = "model.json"
	ParamsFile   = "model.born"
	ModelType    = "Classifier"
)

// Sentinel errors returned by Load.
var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointCorrupt  = errors.New("checkpoint corrupt")
)

// Manifest describes an artifact.
type Manifest struct {
	Model         model.ModelConfig     `json:"model"`
	Normalization dataset.Normalization `json:"normalization"`
	RunID         string                `json:"run_id"`
	Epoch         int                   `json:"epoch"`
	Step          int64                 `json:"step"`
	TrainLoss     float64               `json:"train_loss"`
	Intermediate  bool                  `json:"intermediate,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Save writes clf to dir, creating it if needed. The manifest's Model is
// taken from clf; an empty RunID is replaced by a fresh one.
func Save(dir string, clf *model.Classifier, manifest Manifest) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create artifact dir %s", dir)
	}

	manifest.Model = clf.Config()
	if manifest.RunID == "" {
		manifest.RunID = NewRunID()
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	header := serialization.Header{
		ModelType: ModelType,
		CreatedAt: manifest.CreatedAt,
		Metadata: map[string]string{
			"run_id":      manifest.RunID,
			"num_classes": fmt.Sprint(manifest.Model.NumClasses),
			"hidden_size": fmt.Sprint(manifest.Model.HiddenSize),
		},
	}
	if manifest.Intermediate {
		header.CheckpointMeta = &serialization.CheckpointMeta{
			Epoch: manifest.Epoch,
			Step:  manifest.Step,
			Loss:  manifest.TrainLoss,
		}
	}
	if err := serialization.WriteFile(filepath.Join(dir, ParamsFile), clf.StateDict(), header); err != nil {
		return nil, errors.Wrap(err, "failed to write parameters")
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal manifest")
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestFile), data); err != nil {
		return nil, errors.Wrap(err, "failed to write manifest")
	}
	return &manifest, nil
}

// Load reconstructs the classifier stored in dir on dev.
//
// Returns ErrCheckpointNotFound if dir or one of its files is missing, and
// ErrCheckpointCorrupt if a file cannot be decoded, the manifest config is
// invalid, or any persisted tensor disagrees with the manifest's ModelConfig.
func Load(dir string, dev backend.Device) (*model.Classifier, *Manifest, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, nil, err
	}

	paramsPath := filepath.Join(dir, ParamsFile)
	file, err := serialization.ReadFile(paramsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, errors.Wrapf(ErrCheckpointNotFound, "%s", paramsPath)
		}
		return nil, nil, errors.Wrapf(ErrCheckpointCorrupt, "%v", err)
	}
	if file.Header.ModelType != ModelType {
		return nil, nil, errors.Wrapf(ErrCheckpointCorrupt, "%s: model type %q, want %q",
			paramsPath, file.Header.ModelType, ModelType)
	}
	if id := file.Header.Metadata["run_id"]; id != manifest.RunID {
		return nil, nil, errors.Wrapf(ErrCheckpointCorrupt, "%s: run id %q does not match manifest %q",
			paramsPath, id, manifest.RunID)
	}

	if err := CheckShapes(manifest.Model, file); err != nil {
		return nil, nil, err
	}

	clf, err := model.NewClassifier(manifest.Model, dev, 0)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrCheckpointCorrupt, "%v", err)
	}
	if err := clf.LoadStateDict(file.Tensors); err != nil {
		return nil, nil, errors.Wrapf(ErrCheckpointCorrupt, "%v", err)
	}
	return clf, manifest, nil
}

// ReadManifest reads and validates the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.Wrapf(ErrCheckpointNotFound, "artifact dir %s", dir)
	}

	path := filepath.Join(dir, ManifestFile)
	//nolint:gosec // G304: artifact path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrCheckpointNotFound, "%s", path)
		}
		return nil, errors.Wrapf(ErrCheckpointCorrupt, "failed to read %s: %v", path, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrapf(ErrCheckpointCorrupt, "%s: %v", path, err)
	}
	if err := manifest.Model.Validate(); err != nil {
		return nil, errors.Wrapf(ErrCheckpointCorrupt, "%s: %v", path, err)
	}
	return &manifest, nil
}

// CheckShapes verifies that file holds exactly the tensors a Classifier built
// from cfg has, with matching shapes.
func CheckShapes(cfg model.ModelConfig, file *serialization.File) error {
	want := model.ParamShapes(cfg)
	for name, shape := range want {
		raw, ok := file.Tensors[name]
		if !ok {
			return errors.Wrapf(ErrCheckpointCorrupt, "missing tensor %s", name)
		}
		if !raw.Shape().Equal(shape) {
			return errors.Wrapf(ErrCheckpointCorrupt, "tensor %s has shape %v, config %+v needs %v",
				name, raw.Shape(), cfg, shape)
		}
	}
	for name := range file.Tensors {
		if _, ok := want[name]; !ok {
			return errors.Wrapf(ErrCheckpointCorrupt, "unexpected tensor %s", name)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
