package serialization

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Decode and ReadFile.
var (
	ErrInvalidMagic       = errors.New("not a .born file")
	ErrUnsupportedVersion = errors.New("unsupported .born version")
	ErrHeaderTooLarge     = errors.New(".born header exceeds maximum size")
	ErrTruncated          = errors.New(".born file truncated")
	ErrChecksumMismatch   = errors.New(".born data checksum mismatch")
)

// ValidationError reports a header entry that is inconsistent with the file.
// Type is a short code such as "offset_overlap"; Tensor2 names
// the second tensor of an overlap.
type ValidationError struct {
	Type    string
	Tensor  string
	Tensor2 string
	Details string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Tensor2 != "":
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	case e.Tensor != "":
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	default:
		return e.Type + ": " + e.Details
	}
}
