package detector

import (
	"context"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/core"
)

// SkewBuffer widens the table-timestamp comparison window so clock or
// reporting skew between the server and this process cannot produce false
// negatives. A modification instant within the buffer of the watermark is
// treated as already captured.
const SkewBuffer = 60 * time.Second

// TableTimestamp detects changes by comparing a table's last-modification
// instant against the stored watermark. The watermark is the epoch-second
// modification instant that was fully captured; the whole table is the
// changed partition.
type TableTimestamp struct {
	conn   connector.Connector
	logger *zap.Logger
}

// NewTableTimestamp creates a table-timestamp strategy for one run.
func NewTableTimestamp(conn connector.Connector, logger *zap.Logger) *TableTimestamp {
	return &TableTimestamp{conn: conn, logger: logger}
}

// Name implements Strategy.
func (s *TableTimestamp) Name() string { return TableTimestampName }

// Entities enumerates the configured databases' tables.
func (s *TableTimestamp) Entities(ctx context.Context) ([]core.EntityKey, error) {
	return s.conn.ListTables(ctx)
}

// Detect compares the table's modification instant against
// watermark + SkewBuffer. A table whose modification time cannot be
// determined is treated as unchanged, with a warning.
func (s *TableTimestamp) Detect(ctx context.Context, key core.EntityKey, marker string, hasMarker bool) (core.Delta, error) {
	meta, err := s.conn.TableMetadata(ctx, key)
	if err != nil {
		return core.NoChange(), err
	}
	if meta.ModTime == nil {
		s.logger.Warn("table has no modification time, treating as unchanged",
			zap.String("entity", key.String()))
		return core.NoChange(), nil
	}

	observed := meta.ModTime.Unix()
	if hasMarker {
		wm, err := strconv.ParseInt(marker, 10, 64)
		if err != nil {
			s.logger.Warn("unparseable table-timestamp watermark, recapturing",
				zap.String("entity", key.String()),
				zap.String("marker", marker))
		} else if observed <= wm+int64(SkewBuffer.Seconds()) {
			return core.NoChange(), nil
		}
	}

	return core.Changed("", strconv.FormatInt(observed, 10)), nil
}

// Extract dumps the whole table; the table itself is the changed partition.
func (s *TableTimestamp) Extract(ctx context.Context, key core.EntityKey, _ core.Delta, w io.Writer) (int64, error) {
	return s.conn.Extract(ctx, key, "", w)
}

// ArtifactLabel implements Strategy.
func (s *TableTimestamp) ArtifactLabel(key core.EntityKey, _ core.Delta) string {
	return key.String()
}
