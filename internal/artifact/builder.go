// Package artifact materializes detected deltas into compressed, checksummed
// backup files. An artifact is provisional until it passes the
// non-triviality check and its digest sidecar is written; after that it is
// immutable until the retention sweeper removes it.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/core"
	"github.com/driftcap/driftcap/internal/detector"
	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/compression"
)

// DigestExtension is the suffix of the content digest sidecar file.
const DigestExtension = ".sha256"

// Artifact is one validated capture file for one entity in one run.
type Artifact struct {
	Key        core.EntityKey
	Strategy   string
	Path       string
	DigestPath string
	Digest     string
	Size       int64
	CreatedAt  time.Time
}

// RemoteName returns the artifact's object name for remote delivery.
func (a *Artifact) RemoteName() string {
	return filepath.Base(a.Path)
}

// Builder turns Changed deltas into artifacts. One builder serves all
// strategies; each strategy's artifacts land in their own class directory.
type Builder struct {
	dir        string
	minBytes   int64
	compressor compression.Compressor
	ext        string
	logger     *zap.Logger
}

// NewBuilder creates a builder writing under dir with the given
// non-triviality threshold.
func NewBuilder(dir string, minBytes int64, comp *compression.Config, logger *zap.Logger) (*Builder, error) {
	compressor, err := compression.NewCompressor(comp)
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeConfig, "invalid compression configuration")
	}
	// The root must exist before the resource gate samples free space on it.
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeFile, "failed to create artifact directory").
			WithDetail("dir", dir)
	}
	return &Builder{
		dir:        dir,
		minBytes:   minBytes,
		compressor: compressor,
		ext:        comp.Extension(),
		logger:     logger,
	}, nil
}

// Build extracts the delta's payload through the strategy, validates it, and
// produces a compressed artifact with a digest sidecar. A nil artifact with
// a nil error means the payload was below the non-triviality threshold; the
// caller still commits the delta's observed maximum so the same empty window
// is not re-scanned forever.
func (b *Builder) Build(ctx context.Context, strategy detector.Strategy, key core.EntityKey, delta core.Delta) (*Artifact, error) {
	now := time.Now()
	classDir := filepath.Join(b.dir, strategy.Name())
	if err := os.MkdirAll(classDir, 0o750); err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeFile, "failed to create artifact directory").
			WithDetail("dir", classDir)
	}

	label := strategy.ArtifactLabel(key, delta)
	base := fmt.Sprintf("%s.%s.%s", label, strategy.Name(), now.UTC().Format("20060102T150405"))
	rawPath := filepath.Join(classDir, base+".sql")

	size, err := b.extractToFile(ctx, strategy, key, delta, rawPath)
	if err != nil {
		_ = os.Remove(rawPath)
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeBuild, "extraction failed").
			WithDetail("entity", key.String()).
			WithDetail("strategy", strategy.Name())
	}

	if size < b.minBytes {
		_ = os.Remove(rawPath)
		b.logger.Debug("payload below threshold, discarding",
			zap.String("entity", key.String()),
			zap.Int64("bytes", size),
			zap.Int64("threshold", b.minBytes))
		return nil, nil
	}

	finalPath := rawPath + b.ext
	digest, compressedSize, err := b.compressAndDigest(rawPath, finalPath)
	_ = os.Remove(rawPath)
	if err != nil {
		_ = os.Remove(finalPath)
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeBuild, "compression failed").
			WithDetail("entity", key.String())
	}

	digestPath := finalPath + DigestExtension
	digestLine := fmt.Sprintf("%s  %s\n", digest, filepath.Base(finalPath))
	if err := os.WriteFile(digestPath, []byte(digestLine), 0o640); err != nil {
		_ = os.Remove(finalPath)
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeBuild, "failed to write digest sidecar").
			WithDetail("entity", key.String())
	}

	return &Artifact{
		Key:        key,
		Strategy:   strategy.Name(),
		Path:       finalPath,
		DigestPath: digestPath,
		Digest:     digest,
		Size:       compressedSize,
		CreatedAt:  now,
	}, nil
}

// extractToFile streams the delta's payload into a raw file.
func (b *Builder) extractToFile(ctx context.Context, strategy detector.Strategy, key core.EntityKey, delta core.Delta, path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // G304: path built from config
	if err != nil {
		return 0, err
	}

	size, err := strategy.Extract(ctx, key, delta, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return size, err
}

// compressAndDigest compresses the raw payload into dst while hashing the
// compressed stream, returning the hex digest and compressed size.
func (b *Builder) compressAndDigest(src, dst string) (string, int64, error) {
	in, err := os.Open(src) //nolint:gosec // G304: path built by this package
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec
	if err != nil {
		return "", 0, err
	}

	hasher := sha256.New()
	counter := &countingWriter{}
	if err := b.compressor.CompressStream(io.MultiWriter(out, hasher, counter), in); err != nil {
		_ = out.Close()
		return "", 0, err
	}
	if err := out.Close(); err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), counter.n, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
