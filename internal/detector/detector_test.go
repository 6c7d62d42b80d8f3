package detector

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/core"
)

// fakeConn is an in-memory connector shared by the strategy tests.
type fakeConn struct {
	tables   []core.EntityKey
	meta     map[core.EntityKey]*connector.TableMetadata
	maxVals  map[string]string
	rows     map[string]string
	segments []string
	segData  map[string]string

	flushes     int
	extractErr  error
	metadataErr error

	// onFlush lets a test simulate the server rotating a new segment
	onFlush func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		meta:    make(map[core.EntityKey]*connector.TableMetadata),
		maxVals: make(map[string]string),
		rows:    make(map[string]string),
		segData: make(map[string]string),
	}
}

func (f *fakeConn) ListTables(context.Context) ([]core.EntityKey, error) { return f.tables, nil }

func (f *fakeConn) TableMetadata(_ context.Context, key core.EntityKey) (*connector.TableMetadata, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	m, ok := f.meta[key]
	if !ok {
		return &connector.TableMetadata{Key: key}, nil
	}
	return m, nil
}

func (f *fakeConn) Extract(_ context.Context, key core.EntityKey, predicate string, w io.Writer) (int64, error) {
	if f.extractErr != nil {
		return 0, f.extractErr
	}
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
	if f.onFlush != nil {
		f.onFlush()
	}
	return nil
}

func (f *fakeConn) CopyLogSegment(_ context.Context, name string, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, f.segData[name])
	return int64(n), err
}

func (f *fakeConn) Health(context.Context) error                        { return nil }
func (f *fakeConn) ConnectionUtilization(context.Context) (float64, error) { return 0, nil }
func (f *fakeConn) Close() error                                        { return nil }

// modTime is a test helper for pointer timestamps.
func modTime(t time.Time) *time.Time { return &t }

func TestSQLStringLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1050", "1050"},
		{"3.14", "3.14"},
		{"2026-08-30 01:00:00", "'2026-08-30 01:00:00'"},
		{"o'brien", `'o\'brien'`},
		{`a\b`, `'a\\b'`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqlStringLiteral(tt.in))
	}
}
