package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/driftcap/driftcap/internal/artifact"
	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/core"
	"github.com/driftcap/driftcap/internal/gate"
	"github.com/driftcap/driftcap/internal/sweeper"
	"github.com/driftcap/driftcap/internal/uploader"
	"github.com/driftcap/driftcap/internal/watermark"
	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/compression"
	"github.com/driftcap/driftcap/pkg/config"
)

// fakeConn is an in-memory source for coordinator runs.
type fakeConn struct {
	tables   []core.EntityKey
	columns  map[core.EntityKey][]connector.Column
	maxVals  map[string]string
	rows     map[string]string
	segments []string
	segData  map[string]string
	copyErr  map[string]error

	listErr error
	flushes int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		columns: make(map[core.EntityKey][]connector.Column),
		maxVals: make(map[string]string),
		rows:    make(map[string]string),
		segData: make(map[string]string),
		copyErr: make(map[string]error),
	}
}

// addTable registers a table with an auto-increment primary key and a
// payload large enough to clear the default test threshold.
func (f *fakeConn) addTable(db, table, maxID string) core.EntityKey {
	key := core.EntityKey{Database: db, Table: table}
	f.tables = append(f.tables, key)
	f.columns[key] = []connector.Column{
		{Name: "id", DataType: "bigint", IsPrimary: true, IsAutoIncrement: true},
	}
	f.maxVals[key.String()+".id"] = maxID
	f.rows[key.String()] = strings.Repeat(fmt.Sprintf("INSERT INTO `%s`.`%s` VALUES (...);\n", db, table), 10)
	return key
}

func (f *fakeConn) ListTables(context.Context) ([]core.EntityKey, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tables, nil
}

func (f *fakeConn) TableMetadata(_ context.Context, key core.EntityKey) (*connector.TableMetadata, error) {
	return &connector.TableMetadata{Key: key, Columns: f.columns[key]}, nil
}

func (f *fakeConn) Extract(_ context.Context, key core.EntityKey, predicate string, w io.Writer) (int64, error) {
	payload := f.rows[key.String()]
	if predicate != "" {
		payload = fmt.Sprintf("-- %s\n%s", predicate, payload)
	}
	n, err := io.WriteString(w, payload)
	return int64(n), err
}

func (f *fakeConn) MaxColumnValue(_ context.Context, key core.EntityKey, column string) (string, bool, error) {
	v, ok := f.maxVals[key.String()+"."+column]
	return v, ok, nil
}

func (f *fakeConn) ListLogSegments(context.Context) ([]string, error) {
	out := make([]string, len(f.segments))
	copy(out, f.segments)
	return out, nil
}

func (f *fakeConn) FlushLogs(context.Context) error {
	f.flushes++
	return nil
}

func (f *fakeConn) CopyLogSegment(_ context.Context, name string, w io.Writer) (int64, error) {
	if err := f.copyErr[name]; err != nil {
		return 0, err
	}
	n, err := io.WriteString(w, f.segData[name])
	return int64(n), err
}

func (f *fakeConn) Health(context.Context) error                           { return nil }
func (f *fakeConn) ConnectionUtilization(context.Context) (float64, error) { return 10, nil }
func (f *fakeConn) Close() error                                           { return nil }

// calmSampler always reports a healthy, idle system.
type calmSampler struct{}

func (calmSampler) Sample(context.Context, string) (core.ResourceSnapshot, error) {
	return core.ResourceSnapshot{
		LoadPerCore:     0.1,
		MemoryPercent:   20,
		FreeDiskPercent: 80,
		Healthy:         true,
	}, nil
}

// harness bundles a coordinator with its collaborators and temp state.
type harness struct {
	cfg   *config.Config
	conn  *fakeConn
	coord *Coordinator
	log   *zap.Logger
}

func newHarness(t *testing.T, conn *fakeConn, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.NewConfig("test")
	cfg.Backup.Dir = filepath.Join(t.TempDir(), "artifacts")
	cfg.Backup.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.Backup.MinArtifactBytes = 16
	cfg.Gate.PollInterval = time.Millisecond
	cfg.Gate.MaxWait = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	log := zaptest.NewLogger(t)
	builder, err := artifact.NewBuilder(cfg.Backup.Dir, cfg.Backup.MinArtifactBytes, &compression.Config{
		Algorithm: compression.Gzip,
		Level:     compression.Fastest,
	}, log)
	require.NoError(t, err)

	g := gate.New(calmSampler{}, cfg.Gate, log)
	coord := New(cfg, conn, g, builder, nil, sweeper.New(log), log)
	return &harness{cfg: cfg, conn: conn, coord: coord, log: log}
}

// storedMarker reads a committed watermark straight from the state file.
func (h *harness) storedMarker(t *testing.T, strategy string, key core.EntityKey) (string, bool) {
	t.Helper()
	fs, err := watermark.OpenFileStore(watermark.StorePath(h.cfg.Backup.StateDir, strategy), h.log)
	require.NoError(t, err)
	defer fs.Close()
	marker, ok, err := fs.Get(key)
	require.NoError(t, err)
	return marker, ok
}

func TestRunRowWatermark(t *testing.T) {
	conn := newFakeConn()
	key := conn.addTable("shop", "orders", "1050")
	h := newHarness(t, conn, func(c *config.Config) {
		c.Strategies.RowWatermark.Enabled = true
	})

	// First run captures from the beginning and commits the observed max.
	summary, err := h.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, summary.State)
	assert.Equal(t, 1, summary.EntitiesExamined)
	assert.Equal(t, 1, summary.EntitiesChanged)
	assert.Equal(t, 1, summary.ArtifactsBuilt)

	marker, ok := h.storedMarker(t, "row_watermark", key)
	require.True(t, ok)
	assert.Equal(t, "1050", marker)

	// An immediate second run is a no-op.
	summary, err = h.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, summary.State)
	assert.Zero(t, summary.EntitiesChanged)
	assert.Zero(t, summary.ArtifactsBuilt)

	// New rows arrive; the next run captures only the delta.
	conn.maxVals[key.String()+".id"] = "1100"
	summary, err = h.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ArtifactsBuilt)

	marker, _ = h.storedMarker(t, "row_watermark", key)
	assert.Equal(t, "1100", marker)

	// Every artifact on disk has its digest sidecar.
	entries, err := os.ReadDir(filepath.Join(h.cfg.Backup.Dir, "row_watermark"))
	require.NoError(t, err)
	artifacts := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql.gz") {
			artifacts++
			_, err := os.Stat(filepath.Join(h.cfg.Backup.Dir, "row_watermark", e.Name()+artifact.DigestExtension))
			assert.NoError(t, err)
		}
	}
	assert.GreaterOrEqual(t, artifacts, 1)
}

func TestRunLogSequence(t *testing.T) {
	global := core.GlobalKey()

	t.Run("consumes pending segments in order, one commit each", func(t *testing.T) {
		conn := newFakeConn()
		conn.segments = []string{"binlog.000040", "binlog.000041", "binlog.000042", "binlog.000043"}
		for _, s := range conn.segments {
			conn.segData[s] = strings.Repeat(s+" bytes\n", 10)
		}
		h := newHarness(t, conn, func(c *config.Config) {
			c.Strategies.LogSequence.Enabled = true
		})

		summary, err := h.coord.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateDone, summary.State)
		assert.Equal(t, 3, summary.ArtifactsBuilt)

		marker, ok := h.storedMarker(t, "log_sequence", global)
		require.True(t, ok)
		assert.Equal(t, "binlog.000042", marker)
	})

	t.Run("failure mid-walk leaves the watermark at the last completed segment", func(t *testing.T) {
		conn := newFakeConn()
		conn.segments = []string{"binlog.000040", "binlog.000041", "binlog.000042", "binlog.000043"}
		for _, s := range conn.segments {
			conn.segData[s] = strings.Repeat(s+" bytes\n", 10)
		}
		conn.copyErr["binlog.000042"] = errors.New("segment unreadable")
		h := newHarness(t, conn, func(c *config.Config) {
			c.Strategies.LogSequence.Enabled = true
		})

		summary, err := h.coord.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateDone, summary.State)
		assert.Equal(t, 2, summary.ArtifactsBuilt)
		assert.Equal(t, 1, summary.BuildErrors)

		marker, ok := h.storedMarker(t, "log_sequence", global)
		require.True(t, ok)
		assert.Equal(t, "binlog.000041", marker)

		// The next run resumes exactly after the committed segment.
		conn.copyErr = map[string]error{}
		summary, err = h.coord.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.ArtifactsBuilt)
		marker, _ = h.storedMarker(t, "log_sequence", global)
		assert.Equal(t, "binlog.000042", marker)
	})
}

func TestRunSubThresholdDelta(t *testing.T) {
	conn := newFakeConn()
	key := conn.addTable("shop", "orders", "1050")
	conn.rows[key.String()] = "tiny"
	h := newHarness(t, conn, func(c *config.Config) {
		c.Strategies.RowWatermark.Enabled = true
		c.Backup.MinArtifactBytes = 1024
	})

	summary, err := h.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntitiesChanged)
	assert.Zero(t, summary.ArtifactsBuilt)

	// The watermark still advances so the empty window is not re-scanned.
	marker, ok := h.storedMarker(t, "row_watermark", key)
	require.True(t, ok)
	assert.Equal(t, "1050", marker)
}

func TestRunFilter(t *testing.T) {
	conn := newFakeConn()
	conn.addTable("shop", "orders", "10")
	audit := conn.addTable("shop", "audit_log", "20")
	h := newHarness(t, conn, func(c *config.Config) {
		c.Strategies.RowWatermark.Enabled = true
		c.Filter = []string{"-audit_log"}
	})

	summary, err := h.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntitiesExamined)

	_, ok := h.storedMarker(t, "row_watermark", audit)
	assert.False(t, ok)
}

func TestRunFatalPaths(t *testing.T) {
	t.Run("empty entity universe aborts", func(t *testing.T) {
		conn := newFakeConn()
		h := newHarness(t, conn, func(c *config.Config) {
			c.Strategies.RowWatermark.Enabled = true
		})

		summary, err := h.coord.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, StateFailed, summary.State)
		assert.True(t, backuperrors.IsType(err, backuperrors.ErrorTypeEnumeration))
	})

	t.Run("enumeration failure aborts", func(t *testing.T) {
		conn := newFakeConn()
		conn.listErr = errors.New("information_schema unavailable")
		h := newHarness(t, conn, func(c *config.Config) {
			c.Strategies.RowWatermark.Enabled = true
		})

		_, err := h.coord.Run(context.Background())
		require.Error(t, err)
		assert.True(t, backuperrors.IsFatal(err))
	})

	t.Run("held lease aborts without touching entities", func(t *testing.T) {
		conn := newFakeConn()
		conn.addTable("shop", "orders", "10")
		h := newHarness(t, conn, func(c *config.Config) {
			c.Strategies.RowWatermark.Enabled = true
		})

		// Simulate a live concurrent run with our own PID.
		require.NoError(t, os.MkdirAll(h.cfg.Backup.StateDir, 0o750))
		lockPath := filepath.Join(h.cfg.Backup.StateDir, h.cfg.Name+".lock")
		require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o640))

		summary, err := h.coord.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, StateFailed, summary.State)
		assert.True(t, backuperrors.IsType(err, backuperrors.ErrorTypeState))
		assert.Zero(t, summary.EntitiesExamined)
	})

	t.Run("corrupt watermark store aborts", func(t *testing.T) {
		conn := newFakeConn()
		conn.addTable("shop", "orders", "10")
		h := newHarness(t, conn, func(c *config.Config) {
			c.Strategies.RowWatermark.Enabled = true
		})

		statePath := watermark.StorePath(h.cfg.Backup.StateDir, "row_watermark")
		require.NoError(t, os.MkdirAll(filepath.Dir(statePath), 0o750))
		require.NoError(t, os.WriteFile(statePath, []byte("{broken"), 0o640))

		_, err := h.coord.Run(context.Background())
		require.Error(t, err)
		assert.True(t, backuperrors.IsType(err, backuperrors.ErrorTypeState))
	})
}

func TestRunUploads(t *testing.T) {
	conn := newFakeConn()
	conn.addTable("shop", "orders", "1050")

	cfg := config.NewConfig("test")
	cfg.Backup.Dir = filepath.Join(t.TempDir(), "artifacts")
	cfg.Backup.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.Backup.MinArtifactBytes = 16
	cfg.Gate.PollInterval = time.Millisecond
	cfg.Gate.MaxWait = 20 * time.Millisecond
	cfg.Strategies.RowWatermark.Enabled = true
	cfg.Upload.Prefix = "driftcap/test"
	cfg.Upload.MaxAttempts = 2
	cfg.Upload.RetryDelay = time.Millisecond

	log := zaptest.NewLogger(t)
	builder, err := artifact.NewBuilder(cfg.Backup.Dir, cfg.Backup.MinArtifactBytes, &compression.Config{
		Algorithm: compression.Gzip,
		Level:     compression.Fastest,
	}, log)
	require.NoError(t, err)

	transport := &recordingTransport{}
	dispatcher := uploader.NewDispatcher(transport, cfg.Upload, log)
	coord := New(cfg, conn, gate.New(calmSampler{}, cfg.Gate, log), builder, dispatcher, sweeper.New(log), log)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UploadsSucceeded)
	assert.Zero(t, summary.UploadsFailed)
	require.Len(t, transport.puts, 2)
	assert.True(t, strings.HasPrefix(transport.puts[0], "driftcap/test/row_watermark/"))
}

type recordingTransport struct {
	puts []string
}

func (r *recordingTransport) Put(_ context.Context, _, remotePath string) error {
	r.puts = append(r.puts, remotePath)
	return nil
}

func TestRunSweepsAgedArtifacts(t *testing.T) {
	conn := newFakeConn()
	conn.addTable("shop", "orders", "1050")
	h := newHarness(t, conn, func(c *config.Config) {
		c.Strategies.RowWatermark.Enabled = true
		c.Strategies.RowWatermark.RetentionAge = 48 * time.Hour
	})

	// Plant an expired artifact from an earlier cycle.
	classDir := filepath.Join(h.cfg.Backup.Dir, "row_watermark")
	require.NoError(t, os.MkdirAll(classDir, 0o750))
	old := filepath.Join(classDir, "shop.orders.row_watermark.20260801T010000.sql.gz")
	require.NoError(t, os.WriteFile(old, []byte("payload"), 0o640))
	stamp := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(old, stamp, stamp))

	summary, err := h.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ArtifactsSwept)
	_, statErr := os.Stat(old)
	assert.True(t, os.IsNotExist(statErr))
}
