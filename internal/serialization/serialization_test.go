package serialization

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/guide/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStateDict(t *testing.T) map[string]*tensor.RawTensor {
	t.Helper()
	weight, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	require.NoError(t, err)
	bias, err := tensor.FromFloat32([]float32{-1, 1}, tensor.Shape{2})
	require.NoError(t, err)
	steps, err := tensor.FromInt32([]int32{7}, tensor.Shape{1})
	require.NoError(t, err)
	return map[string]*tensor.RawTensor{"fc.weight": weight, "fc.bias": bias, "steps": steps}
}

func encode(t *testing.T, dict map[string]*tensor.RawTensor, header Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, dict, header))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	dict := testStateDict(t)
	data := encode(t, dict, Header{
		ModelType: "Classifier",
		Metadata:  map[string]string{"run_id": "abc"},
	})

	file, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, FormatVersionV2, file.Header.FormatVersion)
	assert.Equal(t, "Classifier", file.Header.ModelType)
	assert.Equal(t, "abc", file.Header.Metadata["run_id"])
	assert.NotZero(t, file.Flags&FlagHasMetadata)
	assert.Zero(t, file.Flags&FlagIsCheckpoint)
	assert.False(t, file.Header.CreatedAt.IsZero())

	require.Len(t, file.Tensors, 3)
	for name, want := range dict {
		got := file.Tensors[name]
		require.NotNil(t, got, name)
		assert.Equal(t, want.Shape(), got.Shape(), name)
		assert.Equal(t, want.DType(), got.DType(), name)
		assert.Equal(t, want.Data(), got.Data(), name)
	}
}

func TestTensorsSortedAndAligned(t *testing.T) {
	data := encode(t, testStateDict(t), Header{})
	file, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	var names []string
	for _, meta := range file.Header.Tensors {
		names = append(names, meta.Name)
		assert.Zero(t, meta.Offset%Alignment, meta.Name)
	}
	assert.Equal(t, []string{"fc.bias", "fc.weight", "steps"}, names)

	headerSize := binary.LittleEndian.Uint64(data[16:24])
	dataStart := align(int64(FixedHeaderSizeV2) + int64(headerSize))
	assert.Zero(t, dataStart%Alignment)
}

func TestEncodeDeterministic(t *testing.T) {
	dict := testStateDict(t)
	header := Header{ModelType: "Classifier"}
	header.CreatedAt = header.CreatedAt.AddDate(2024, 0, 0)

	assert.Equal(t, encode(t, dict, header), encode(t, dict, header))
}

func TestCheckpointMeta(t *testing.T) {
	data := encode(t, testStateDict(t), Header{CheckpointMeta: &CheckpointMeta{Epoch: 3, Step: 120, Loss: 0.5}})
	file, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)

	require.NotNil(t, file.Header.CheckpointMeta)
	assert.Equal(t, 3, file.Header.CheckpointMeta.Epoch)
	assert.NotZero(t, file.Flags&FlagIsCheckpoint)
}

func TestDecodeInvalidMagic(t *testing.T) {
	data := encode(t, testStateDict(t), Header{})
	copy(data, "NOPE")
	_, err := Decode(bytes.NewReader(data))
	assert.True(t, errors.Is(err, ErrInvalidMagic))
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	data := encode(t, testStateDict(t), Header{})
	binary.LittleEndian.PutUint32(data[4:8], 1)
	_, err := Decode(bytes.NewReader(data))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestDecodeChecksumMismatch(t *testing.T) {
	data := encode(t, testStateDict(t), Header{})
	data[len(data)-1] ^= 0xFF

	_, err := Decode(bytes.NewReader(data))
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	_, err = DecodeWithOptions(bytes.NewReader(data), ReaderOptions{SkipChecksumValidation: true})
	assert.NoError(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	data := encode(t, testStateDict(t), Header{})
	for _, n := range []int{10, FixedHeaderSizeV2 + 5, len(data) - 3} {
		_, err := Decode(bytes.NewReader(data[:n]))
		assert.True(t, errors.Is(err, ErrTruncated), "length %d", n)
	}
}

func TestDecodeOversizedDataSize(t *testing.T) {
	fixed := make([]byte, FixedHeaderSizeV2)
	copy(fixed, MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersionV2)
	binary.LittleEndian.PutUint64(fixed[16:24], 2)
	binary.LittleEndian.PutUint64(fixed[24:32], 1<<40)

	data := append(fixed, '{', '}')
	data = append(data, make([]byte, 62)...)

	_, err := Decode(bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncated), "got %v", err)
}

func TestDecodeHeaderTooLarge(t *testing.T) {
	data := encode(t, testStateDict(t), Header{})
	binary.LittleEndian.PutUint64(data[16:24], MaxHeaderSize+1)
	_, err := Decode(bytes.NewReader(data))
	assert.True(t, errors.Is(err, ErrHeaderTooLarge))
}

func TestEncodeRejectsBadNames(t *testing.T) {
	dict := map[string]*tensor.RawTensor{"../escape": tensor.MustRaw(tensor.Shape{1}, tensor.Float32)}
	err := Encode(&bytes.Buffer{}, dict, Header{})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "invalid_name", vErr.Type)
}

func TestWriteFileReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.born")
	require.NoError(t, WriteFile(path, testStateDict(t), Header{ModelType: "Classifier"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be renamed into place")

	file, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, file.Tensors, 3)

	_, err = ReadFile(filepath.Join(dir, "missing.born"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantType string
	}{
		{
			name: "valid",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 100},
				{Name: "b", Offset: 128, Size: 64},
			},
			dataSize: 192,
		},
		{
			name: "exact boundary",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 100},
				{Name: "b", Offset: 100, Size: 100},
			},
			dataSize: 200,
		},
		{
			name: "overlap by one byte",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 100},
				{Name: "b", Offset: 99, Size: 100},
			},
			dataSize: 200,
			wantType: "offset_overlap",
		},
		{
			name:     "out of bounds",
			tensors:  []TensorMeta{{Name: "a", Offset: 64, Size: 100}},
			dataSize: 100,
			wantType: "out_of_bounds",
		},
		{
			name:     "negative offset",
			tensors:  []TensorMeta{{Name: "a", Offset: -1, Size: 4}},
			dataSize: 100,
			wantType: "negative_offset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if tt.wantType == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.wantType, vErr.Type)
		})
	}
}

func TestValidateTensorMeta(t *testing.T) {
	dtype, err := ValidateTensorMeta(TensorMeta{Name: "w", DType: "float32", Shape: []int{2, 3}, Size: 24})
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, dtype)

	for _, meta := range []TensorMeta{
		{Name: "w", DType: "float16", Shape: []int{2}, Size: 4},
		{Name: "w", DType: "float32", Shape: []int{2, 0}, Size: 0},
		{Name: "w", DType: "float32", Shape: []int{2, 3}, Size: 20},
	} {
		_, err := ValidateTensorMeta(meta)
		var vErr *ValidationError
		assert.True(t, errors.As(err, &vErr), "meta %+v", meta)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Type: "offset_overlap", Tensor: "a", Tensor2: "b", Details: "x"}
	assert.Equal(t, `offset_overlap: tensors "a" and "b": x`, err.Error())

	err = &ValidationError{Type: "too_many_tensors", Details: "y"}
	assert.Equal(t, "too_many_tensors: y", err.Error())
}
