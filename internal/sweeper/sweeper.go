// Package sweeper removes artifacts (and their digest sidecars) older than a
// backup class's retention window. Age by modification time is the sole
// criterion; no restore-ability check happens before deletion.
package sweeper

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/artifact"
	"github.com/driftcap/driftcap/pkg/backuperrors"
)

// Sweeper deletes aged artifacts, scoped to one class directory per call so
// classes never cross-affect each other's retention.
type Sweeper struct {
	logger *zap.Logger
}

// New creates a sweeper.
func New(logger *zap.Logger) *Sweeper {
	return &Sweeper{logger: logger}
}

// Sweep removes every artifact in dir whose age exceeds maxAge, together
// with its digest sidecar, and returns the number of artifacts removed.
// A missing directory is not an error; the class simply has no artifacts yet.
func (s *Sweeper) Sweep(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, backuperrors.Wrap(err, backuperrors.ErrorTypeFile, "failed to read artifact directory").
			WithDetail("dir", dir)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Sidecars are removed with their artifact, never on their own.
		if strings.HasSuffix(name, artifact.DigestExtension) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("failed to stat artifact", zap.String("name", name), zap.Error(err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove aged artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := os.Remove(path + artifact.DigestExtension); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove digest sidecar", zap.String("path", path+artifact.DigestExtension), zap.Error(err))
		}

		removed++
		s.logger.Info("removed aged artifact",
			zap.String("path", path),
			zap.Time("modified", info.ModTime()))
	}

	return removed, nil
}
