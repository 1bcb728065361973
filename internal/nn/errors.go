package nn

import "errors"

// Errors returned by loss helpers and state dict loading.
var (
	ErrInvalidLabel        = errors.New("label out of range")
	ErrMissingParameter    = errors.New("missing parameter")
	ErrUnexpectedParameter = errors.New("unexpected parameter")
)
