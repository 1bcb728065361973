package train

import "github.com/pkg/errors"

// Sentinel errors returned by Trainer.Run.
var (
	// ErrInvalidConfig is returned for out-of-range run parameters.
	ErrInvalidConfig = errors.New("invalid training config")

	// ErrNumericalInstability is returned when a loss, gradient or parameter
	// update becomes NaN or ±Inf. The run is aborted.
	ErrNumericalInstability = errors.New("numerical instability")
)
