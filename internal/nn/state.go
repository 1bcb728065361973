package nn

import (
	"fmt"
	"slices"

	"github.com/born-ml/guide/internal/tensor"
)

// StateDict returns deep copies of the parameter values keyed by name.
func StateDict(params []*Parameter) map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		dict[p.Name()] = p.Value().Clone()
	}
	return dict
}

// LoadStateDict copies dict into params. Every parameter must be present with
// a matching shape and dict must not carry unknown names. Nothing is copied
// unless all checks pass.
func LoadStateDict(params []*Parameter, dict map[string]*tensor.RawTensor) error {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name()] = true
		src, ok := dict[p.Name()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingParameter, p.Name())
		}
		if !src.Shape().Equal(p.Value().Shape()) || src.DType() != tensor.Float32 {
			return fmt.Errorf("%w: %s has shape %v, got %v (%s)",
				tensor.ErrShapeMismatch, p.Name(), p.Value().Shape(), src.Shape(), src.DType())
		}
	}

	var extra []string
	for name := range dict {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		return fmt.Errorf("%w: %v", ErrUnexpectedParameter, extra)
	}

	for _, p := range params {
		if err := p.SetValue(dict[p.Name()]); err != nil {
			return err
		}
	}
	return nil
}

// CountParams returns the total number of scalar values in params.
func CountParams(params []*Parameter) int {
	total := 0
	for _, p := range params {
		total += p.Value().NumElements()
	}
	return total
}
