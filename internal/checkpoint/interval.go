package checkpoint

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// IntervalDir is the subdirectory of a run holding per-epoch artifacts.
const IntervalDir = "checkpoint"

// EpochDir returns the artifact directory for the snapshot taken after epoch.
func EpochDir(runDir string, epoch int) string {
	return filepath.Join(runDir, IntervalDir, "epoch-"+strconv.Itoa(epoch))
}

// Latest returns the interval artifact with the highest epoch under runDir.
// Returns ErrCheckpointNotFound if there is none.
func Latest(runDir string) (string, int, error) {
	entries, err := os.ReadDir(filepath.Join(runDir, IntervalDir))
	if err != nil {
		return "", 0, errors.Wrapf(ErrCheckpointNotFound, "no interval checkpoints in %s", runDir)
	}

	best := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "epoch-"))
		if err != nil || !strings.HasPrefix(e.Name(), "epoch-") {
			continue
		}
		if _, err := os.Stat(filepath.Join(runDir, IntervalDir, e.Name(), ManifestFile)); err != nil {
			continue
		}
		best = max(best, n)
	}
	if best < 0 {
		return "", 0, errors.Wrapf(ErrCheckpointNotFound, "no interval checkpoints in %s", runDir)
	}
	return EpochDir(runDir, best), best, nil
}
