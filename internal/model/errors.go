package model

import "errors"

// Sentinel errors for classifier construction and forward passes.
var (
	// ErrInvalidConfig is returned for non-positive sizes or a dropout rate outside [0, 1).
	ErrInvalidConfig = errors.New("invalid model config")

	// ErrInputTooSmall is returned when an image cannot survive both convolutions.
	ErrInputTooSmall = errors.New("input too small")
)
