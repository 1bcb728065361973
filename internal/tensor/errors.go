package tensor

import "errors"

// ErrShapeMismatch reports tensors or samples whose geometry does not line up.
var ErrShapeMismatch = errors.New("shape mismatch")
