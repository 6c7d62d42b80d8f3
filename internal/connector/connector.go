// Package connector defines the data-source capability interface the backup
// engine consumes, and provides the MySQL implementation. The engine only
// ever talks to the interface; detection strategies ask it what changed and
// the artifact builder asks it to copy the matching data.
package connector

import (
	"context"
	"io"
	"time"

	"github.com/driftcap/driftcap/internal/core"
)

// Column describes one column of a source table, carrying just enough
// metadata for incremental column selection.
type Column struct {
	Name            string
	DataType        string
	IsPrimary       bool
	IsAutoIncrement bool
}

// TableMetadata is the per-table metadata used by change detection.
type TableMetadata struct {
	Key core.EntityKey
	// ModTime is the table's last-modification instant; nil when the
	// source cannot determine it
	ModTime *time.Time
	Columns []Column
}

// Connector is the capability interface to the source database. All methods
// take a context and are safe for sequential use within one run.
type Connector interface {
	// ListTables enumerates the entity universe for table-level strategies.
	ListTables(ctx context.Context) ([]core.EntityKey, error)

	// TableMetadata returns modification time and candidate columns for a table.
	TableMetadata(ctx context.Context, key core.EntityKey) (*TableMetadata, error)

	// Extract copies the rows of a table matching the predicate to w as a
	// SQL dump and returns the number of bytes written. An empty predicate
	// selects the whole table.
	Extract(ctx context.Context, key core.EntityKey, predicate string, w io.Writer) (int64, error)

	// MaxColumnValue returns the current maximum of a column across the
	// whole table. ok is false when the table is empty.
	MaxColumnValue(ctx context.Context, key core.EntityKey, column string) (value string, ok bool, err error)

	// ListLogSegments returns the ordered names of the server's sequential
	// log segments, oldest first, including the currently active one last.
	ListLogSegments(ctx context.Context) ([]string, error)

	// FlushLogs rotates the active log segment so the previously active
	// segment becomes complete and non-growing.
	FlushLogs(ctx context.Context) error

	// CopyLogSegment copies one rotated log segment to w and returns the
	// number of bytes written.
	CopyLogSegment(ctx context.Context, name string, w io.Writer) (int64, error)

	// Health probes the server; a non-nil error means unhealthy.
	Health(ctx context.Context) error

	// ConnectionUtilization returns the server's connection pool
	// utilization as a percentage.
	ConnectionUtilization(ctx context.Context) (float64, error)

	// Close releases the connection.
	Close() error
}
