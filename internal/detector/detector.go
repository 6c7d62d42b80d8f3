// Package detector implements change detection for the three capture
// strategies: table-timestamp, row-watermark, and log-sequence. A strategy
// decides, for one entity and its stored watermark, whether anything changed
// and how to extract exactly the delta.
package detector

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/driftcap/driftcap/internal/core"
)

// Strategy names double as backup class names: they select the artifact
// subdirectory, the watermark store file, and the retention window.
const (
	TableTimestampName = "table_timestamp"
	RowWatermarkName   = "row_watermark"
	LogSequenceName    = "log_sequence"
)

// Strategy is one change-detection strategy. Instances are created per run
// and used sequentially; they may carry per-run state (the log-sequence
// strategy flushes the active segment at most once per run).
type Strategy interface {
	// Name returns the strategy's class name.
	Name() string

	// Entities enumerates the entity universe this strategy tracks.
	Entities(ctx context.Context) ([]core.EntityKey, error)

	// Detect decides whether the entity changed relative to its watermark.
	// hasMarker is false when no watermark is stored yet, meaning capture
	// from the beginning.
	Detect(ctx context.Context, key core.EntityKey, marker string, hasMarker bool) (core.Delta, error)

	// Extract copies the data selected by a Changed delta to w and returns
	// the number of bytes written.
	Extract(ctx context.Context, key core.EntityKey, delta core.Delta, w io.Writer) (int64, error)

	// ArtifactLabel returns the name component identifying what a delta's
	// artifact contains: "db.table" for table-level strategies, the
	// segment name for log-sequence.
	ArtifactLabel(key core.EntityKey, delta core.Delta) string
}

// sqlStringLiteral renders a value as a SQL literal for predicate building:
// unquoted when numeric, quoted and escaped otherwise.
func sqlStringLiteral(v string) string {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return v
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range v {
		switch r {
		case '\'':
			sb.WriteString(`\'`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
