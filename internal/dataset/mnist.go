package dataset

import (
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MNIST split names.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// IDX magic numbers.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// LoadMNIST loads an MNIST split from IDX files in dir.
//
// Expected files (plain or with a .gz suffix):
//   - train-images-idx3-ubyte, train-labels-idx1-ubyte for SplitTrain
//   - t10k-images-idx3-ubyte, t10k-labels-idx1-ubyte for SplitTest
func LoadMNIST(dir, split string) (*InMemory, error) {
	var prefix string
	switch split {
	case SplitTrain:
		prefix = "train"
	case SplitTest:
		prefix = "t10k"
	default:
		return nil, fmt.Errorf("unknown MNIST split %q", split)
	}

	images, rows, cols, err := readIDXImages(filepath.Join(dir, prefix+"-images-idx3-ubyte"))
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	labels, err := readIDXLabels(filepath.Join(dir, prefix+"-labels-idx1-ubyte"))
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("image count (%d) != label count (%d)", len(images), len(labels))
	}

	samples := make([]Sample, len(images))
	for i, img := range images {
		pixels := make([]float32, len(img))
		for j, p := range img {
			pixels[j] = float32(p)
		}
		samples[i] = Sample{Image: pixels, Height: rows, Width: cols, Label: int(labels[i])}
	}
	return NewInMemory(samples), nil
}

// openIDX opens path, or path+".gz" transparently decompressed.
func openIDX(path string) (io.ReadCloser, error) {
	//nolint:gosec // G304: dataset path is operator supplied
	file, err := os.Open(path)
	if err == nil {
		return file, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	//nolint:gosec // G304: dataset path is operator supplied
	gzFile, gzErr := os.Open(path + ".gz")
	if gzErr != nil {
		return nil, err
	}
	zr, gzErr := gzip.NewReader(gzFile)
	if gzErr != nil {
		_ = gzFile.Close()
		return nil, fmt.Errorf("failed to open gzip stream: %w", gzErr)
	}
	return &gzipFile{Reader: zr, file: gzFile}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	ferr := g.file.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// readIDXImages reads an IDX image file.
//
//	magic number: 0x00000803 (2051)
//	number of images, rows, cols: 4 bytes each, big-endian
//	pixel data: unsigned bytes (0-255)
func readIDXImages(path string) (images [][]byte, rows, cols int, err error) {
	r, err := openIDX(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer r.Close()

	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("invalid magic number: got %d, want %d", header[0], idxImagesMagic)
	}

	numImages, numRows, numCols := int(header[1]), int(header[2]), int(header[3])
	imageSize := numRows * numCols
	images = make([][]byte, numImages)
	for i := range images {
		images[i] = make([]byte, imageSize)
		if _, err := io.ReadFull(r, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read image %d: %w", i, err)
		}
	}
	return images, numRows, numCols, nil
}

// readIDXLabels reads an IDX label file.
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes, big-endian
//	label data: unsigned bytes (0-9)
func readIDXLabels(path string) ([]byte, error) {
	r, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("invalid magic number: got %d, want %d", header[0], idxLabelsMagic)
	}

	labels := make([]byte, header[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}
