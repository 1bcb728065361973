package serialization

import (
	"time"

	"github.com/born-ml/guide/internal/tensor"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersionV2   = 2    // v2: With SHA-256 checksum
	Alignment         = 64   // Align tensor data to 64 bytes
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20 // Checksum offset in v2 fixed header
)

// Flags for the .born format.
const (
	FlagHasMetadata  uint32 = 1 << 2 // bit 2: custom metadata included
	FlagIsCheckpoint uint32 = 1 << 3 // bit 3: intermediate training checkpoint
)

// writerVersion is recorded in every header written by this package.
const writerVersion = "0.1.0"

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion  int               `json:"format_version"`       // Version of the .born format
	BornVersion    string            `json:"born_version"`         // Version of the writer that created this file
	ModelType      string            `json:"model_type"`           // Type of model (e.g., "Classifier")
	CreatedAt      time.Time         `json:"created_at"`           // When the file was created
	Tensors        []TensorMeta      `json:"tensors"`              // Tensor metadata
	Metadata       map[string]string `json:"metadata"`             // Custom metadata
	CheckpointMeta *CheckpointMeta   `json:"checkpoint,omitempty"` // Training progress (optional)
}

// CheckpointMeta records training progress for intermediate snapshots.
type CheckpointMeta struct {
	Epoch int     `json:"epoch"` // Completed epochs
	Step  int64   `json:"step"`  // Optimizer steps taken
	Loss  float64 `json:"loss"`  // Mean training loss of the last epoch
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "conv1.weight")
	DType  string `json:"dtype"`  // Data type ("float32" or "int32")
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section
	Size   int64  `json:"size"`   // Size in bytes
}

// File is a decoded .born container.
type File struct {
	Header  Header
	Flags   uint32
	Tensors map[string]*tensor.RawTensor
}

func align(n int64) int64 {
	return (n + Alignment - 1) / Alignment * Alignment
}
