// Package infer classifies single samples with a trained artifact.
package infer

import (
	"github.com/pkg/errors"

	"github.com/born-ml/guide/internal/backend"
	"github.com/born-ml/guide/internal/checkpoint"
	"github.com/born-ml/guide/internal/dataset"
	"github.com/born-ml/guide/internal/model"
	"github.com/born-ml/guide/internal/nn"
)

// ErrNonFiniteOutput is returned when the classifier produces NaN or Inf scores.
var ErrNonFiniteOutput = errors.New("classifier output is not finite")

// Prediction is the classifier output for one sample.
type Prediction struct {
	Label         int       // argmax class
	Expected      int       // label carried by the sample
	Confidence    float32   // probability of Label
	Probabilities []float32 // softmax over classes
}

// Correct reports whether the predicted label matches the sample's label.
func (p *Prediction) Correct() bool {
	return p.Label == p.Expected
}

// Predictor holds a loaded classifier and the normalization it was trained with.
type Predictor struct {
	clf      *model.Classifier
	batcher  dataset.Batcher
	manifest *checkpoint.Manifest
}

// Load restores the artifact in dir onto dev.
func Load(dir string, dev backend.Device) (*Predictor, error) {
	clf, manifest, err := checkpoint.Load(dir, dev)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load artifact %s", dir)
	}
	return &Predictor{
		clf:      clf,
		batcher:  dataset.Batcher{Norm: manifest.Normalization},
		manifest: manifest,
	}, nil
}

// Manifest returns the manifest of the loaded artifact.
func (p *Predictor) Manifest() *checkpoint.Manifest {
	return p.manifest
}

// Classifier returns the loaded classifier.
func (p *Predictor) Classifier() *model.Classifier {
	return p.clf
}

// Predict classifies samples in one batch with dropout disabled.
func (p *Predictor) Predict(samples ...dataset.Sample) ([]Prediction, error) {
	batch, err := p.batcher.MakeBatch(samples)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build batch")
	}
	logits, err := p.clf.Forward(batch.Images, false)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	if !logits.AllFinite() {
		return nil, errors.WithStack(ErrNonFiniteOutput)
	}
	probs, err := nn.Softmax(logits)
	if err != nil {
		return nil, err
	}
	labels, err := nn.Argmax(logits)
	if err != nil {
		return nil, err
	}

	k := logits.Shape()[1]
	all := probs.AsFloat32()
	out := make([]Prediction, len(samples))
	for i, s := range samples {
		row := append([]float32(nil), all[i*k:(i+1)*k]...)
		out[i] = Prediction{
			Label:         labels[i],
			Expected:      s.Label,
			Confidence:    row[labels[i]],
			Probabilities: row,
		}
	}
	return out, nil
}

// Infer loads the artifact in dir and classifies a single sample.
func Infer(dir string, dev backend.Device, sample dataset.Sample) (*Prediction, error) {
	p, err := Load(dir, dev)
	if err != nil {
		return nil, err
	}
	preds, err := p.Predict(sample)
	if err != nil {
		return nil, err
	}
	return &preds[0], nil
}
