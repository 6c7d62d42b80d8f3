package watermark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/core"
	"github.com/driftcap/driftcap/pkg/backuperrors"
)

// FileStore is a Store backed by a JSON file holding the full key→marker
// map. It is loaded once at open, mutated in memory, and every Set is made
// durable with a write-temp-then-rename atomic replace, so a crash never
// leaves a partially written state file. Point get/set stays O(1); only the
// durable write is O(n), which is fine at per-entity cardinality.
type FileStore struct {
	path    string
	logger  *zap.Logger
	mu      sync.Mutex
	markers map[string]string
}

// OpenFileStore loads the store at path, creating an empty one if the file
// does not exist. An unreadable or corrupt file is a hard error: silently
// restarting every entity from zero risks catastrophic duplicate capture,
// so the caller must fail the run instead.
func OpenFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	fs := &FileStore{
		path:    path,
		logger:  logger,
		markers: make(map[string]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from validated config
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeState, "watermark store unreadable").
			WithDetail("path", path)
	}
	if err := json.Unmarshal(data, &fs.markers); err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeState, "watermark store corrupt").
			WithDetail("path", path)
	}
	return fs, nil
}

// Get returns the marker for a key.
func (fs *FileStore) Get(key core.EntityKey) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	marker, ok := fs.markers[key.String()]
	return marker, ok, nil
}

// Set records a marker and makes it durable. A marker comparing lower than
// the stored one never regresses the store; it is dropped with a warning.
func (fs *FileStore) Set(key core.EntityKey, marker string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if prev, ok := fs.markers[key.String()]; ok && core.CompareMarkers(marker, prev) < 0 {
		fs.logger.Warn("refusing watermark regression",
			zap.String("entity", key.String()),
			zap.String("stored", prev),
			zap.String("proposed", marker))
		return nil
	}

	fs.markers[key.String()] = marker
	return fs.flushLocked()
}

// Close flushes the store.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.flushLocked()
}

// flushLocked writes the map to a temp file and renames it over the store
// path. Callers hold fs.mu.
func (fs *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fs.markers, "", "  ")
	if err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to encode watermarks")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to create state directory").
			WithDetail("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(fs.path)+".tmp-*")
	if err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to create temp state file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to write state file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to sync state file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to close state file")
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		_ = os.Remove(tmpName)
		return backuperrors.Wrap(err, backuperrors.ErrorTypeState, "failed to replace state file")
	}
	return nil
}

// StorePath returns the state file path for one strategy's store under the
// state directory.
func StorePath(stateDir, strategy string) string {
	return filepath.Join(stateDir, fmt.Sprintf("%s.json", strategy))
}
