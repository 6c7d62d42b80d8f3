package sweeper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/driftcap/driftcap/internal/artifact"
)

// writeAged creates an artifact file (and sidecar) with the given age.
func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o640))
	require.NoError(t, os.WriteFile(path+artifact.DigestExtension, []byte("digest\n"), 0o640))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func TestSweep(t *testing.T) {
	t.Run("removes only expired artifacts and their sidecars", func(t *testing.T) {
		dir := t.TempDir()
		old := writeAged(t, dir, "shop.orders.row_watermark.20260801T010000.sql.gz", 72*time.Hour)
		fresh := writeAged(t, dir, "shop.orders.row_watermark.20260830T010000.sql.gz", time.Hour)

		s := New(zaptest.NewLogger(t))
		removed, err := s.Sweep(dir, 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = os.Stat(old)
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(old + artifact.DigestExtension)
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(fresh)
		assert.NoError(t, err)
		_, err = os.Stat(fresh + artifact.DigestExtension)
		assert.NoError(t, err)
	})

	t.Run("orphan sidecars are never removed on their own", func(t *testing.T) {
		dir := t.TempDir()
		sidecar := filepath.Join(dir, "gone.sql.gz"+artifact.DigestExtension)
		require.NoError(t, os.WriteFile(sidecar, []byte("digest\n"), 0o640))
		stamp := time.Now().Add(-100 * time.Hour)
		require.NoError(t, os.Chtimes(sidecar, stamp, stamp))

		s := New(zaptest.NewLogger(t))
		removed, err := s.Sweep(dir, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
		_, err = os.Stat(sidecar)
		assert.NoError(t, err)
	})

	t.Run("missing directory is empty, not an error", func(t *testing.T) {
		s := New(zaptest.NewLogger(t))
		removed, err := s.Sweep(filepath.Join(t.TempDir(), "absent"), time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("subdirectories are skipped", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o750))

		s := New(zaptest.NewLogger(t))
		removed, err := s.Sweep(dir, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
