package detector

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/core"
)

// RowWatermark detects changes through a chosen monotonic column per table.
// The watermark is the last captured value of that column; the predicate
// selects rows strictly greater than it. The new watermark is always the
// column's current maximum across the whole table, so concurrent writes
// during capture cannot open a gap.
type RowWatermark struct {
	conn   connector.Connector
	logger *zap.Logger

	// columns caches the per-table column choice within one run
	columns map[core.EntityKey]string
}

// NewRowWatermark creates a row-watermark strategy for one run.
func NewRowWatermark(conn connector.Connector, logger *zap.Logger) *RowWatermark {
	return &RowWatermark{
		conn:    conn,
		logger:  logger,
		columns: make(map[core.EntityKey]string),
	}
}

// Name implements Strategy.
func (s *RowWatermark) Name() string { return RowWatermarkName }

// Entities enumerates the configured databases' tables.
func (s *RowWatermark) Entities(ctx context.Context) ([]core.EntityKey, error) {
	return s.conn.ListTables(ctx)
}

// Detect selects the incremental column and compares its current maximum
// against the watermark. Tables without a usable column are skipped with a
// warning; this strategy is not universally applicable.
func (s *RowWatermark) Detect(ctx context.Context, key core.EntityKey, marker string, hasMarker bool) (core.Delta, error) {
	column, err := s.incrementalColumn(ctx, key)
	if err != nil {
		return core.NoChange(), err
	}
	if column == "" {
		s.logger.Warn("no usable incremental column, skipping table",
			zap.String("entity", key.String()))
		return core.NoChange(), nil
	}

	max, ok, err := s.conn.MaxColumnValue(ctx, key, column)
	if err != nil {
		return core.NoChange(), err
	}
	if !ok {
		// Empty table: nothing to capture and no maximum to record.
		return core.NoChange(), nil
	}

	if hasMarker && core.CompareMarkers(max, marker) <= 0 {
		return core.NoChange(), nil
	}

	predicate := ""
	if hasMarker {
		predicate = fmt.Sprintf("`%s` > %s", column, sqlStringLiteral(marker))
	}
	return core.Changed(predicate, max), nil
}

// Extract dumps the rows selected by the delta's predicate.
func (s *RowWatermark) Extract(ctx context.Context, key core.EntityKey, delta core.Delta, w io.Writer) (int64, error) {
	return s.conn.Extract(ctx, key, delta.Predicate, w)
}

// ArtifactLabel implements Strategy.
func (s *RowWatermark) ArtifactLabel(key core.EntityKey, _ core.Delta) string {
	return key.String()
}

// incrementalColumn picks the monotonic column for a table, by priority:
// an auto-increment primary key, then a temporal column whose name suggests
// creation or update semantics, then any primary-key column containing "id".
// Returns "" when none qualifies.
func (s *RowWatermark) incrementalColumn(ctx context.Context, key core.EntityKey) (string, error) {
	if column, ok := s.columns[key]; ok {
		return column, nil
	}

	meta, err := s.conn.TableMetadata(ctx, key)
	if err != nil {
		return "", err
	}

	column := SelectIncrementalColumn(meta.Columns)
	s.columns[key] = column
	return column, nil
}

// SelectIncrementalColumn applies the column selection priority to a
// table's columns.
func SelectIncrementalColumn(columns []connector.Column) string {
	for _, col := range columns {
		if col.IsPrimary && col.IsAutoIncrement {
			return col.Name
		}
	}

	// "created" over "updated" over generic "date"
	for _, hint := range []string{"creat", "updat", "date"} {
		for _, col := range columns {
			if !isTemporalType(col.DataType) {
				continue
			}
			if strings.Contains(strings.ToLower(col.Name), hint) {
				return col.Name
			}
		}
	}

	for _, col := range columns {
		if col.IsPrimary && strings.Contains(strings.ToLower(col.Name), "id") {
			return col.Name
		}
	}
	return ""
}

func isTemporalType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "timestamp", "datetime", "date":
		return true
	default:
		return false
	}
}
