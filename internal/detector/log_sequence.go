package detector

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/core"
)

// LogSequence detects changes at the level of the server's sequential log
// segments. It tracks a single global watermark: the name of the last fully
// captured segment. Segments are consumed strictly in order, one per
// detect-build-commit cycle, so an interrupted run leaves the watermark at
// the last completed segment and the next run resumes exactly after it.
type LogSequence struct {
	conn   connector.Connector
	logger *zap.Logger

	// flushed ensures the active segment is rotated at most once per run
	flushed bool
}

// NewLogSequence creates a log-sequence strategy for one run.
func NewLogSequence(conn connector.Connector, logger *zap.Logger) *LogSequence {
	return &LogSequence{conn: conn, logger: logger}
}

// Name implements Strategy.
func (s *LogSequence) Name() string { return LogSequenceName }

// Entities returns the single global sentinel; this strategy tracks the
// server as a whole.
func (s *LogSequence) Entities(ctx context.Context) ([]core.EntityKey, error) {
	return []core.EntityKey{core.GlobalKey()}, nil
}

// Detect returns the oldest not-yet-captured rotated segment, flushing the
// active segment first so its contents become a complete, non-growing file.
// The coordinator re-detects after each commit, which walks the pending
// segments in order.
func (s *LogSequence) Detect(ctx context.Context, key core.EntityKey, marker string, hasMarker bool) (core.Delta, error) {
	segments, err := s.conn.ListLogSegments(ctx)
	if err != nil {
		return core.NoChange(), err
	}
	if len(segments) == 0 {
		s.logger.Warn("source reports no log segments")
		return core.NoChange(), nil
	}

	// The last listed segment is the currently active one.
	rotated := segments[:len(segments)-1]

	if hasMarker && len(rotated) > 0 && rotated[len(rotated)-1] == marker {
		return core.NoChange(), nil
	}

	if !s.flushed {
		if err := s.conn.FlushLogs(ctx); err != nil {
			return core.NoChange(), err
		}
		s.flushed = true

		segments, err = s.conn.ListLogSegments(ctx)
		if err != nil {
			return core.NoChange(), err
		}
		if len(segments) == 0 {
			return core.NoChange(), nil
		}
		rotated = segments[:len(segments)-1]
	}

	next := nextSegment(rotated, marker, hasMarker)
	if next == "" {
		return core.NoChange(), nil
	}
	return core.Changed(next, next), nil
}

// Extract copies the segment named by the delta.
func (s *LogSequence) Extract(ctx context.Context, _ core.EntityKey, delta core.Delta, w io.Writer) (int64, error) {
	return s.conn.CopyLogSegment(ctx, delta.ObservedMax, w)
}

// ArtifactLabel names log-sequence artifacts after the captured segment.
func (s *LogSequence) ArtifactLabel(_ core.EntityKey, delta core.Delta) string {
	return delta.ObservedMax
}

// nextSegment returns the oldest rotated segment strictly after the
// watermark, or the oldest of all when no watermark is stored. A watermark
// naming a segment the server no longer lists falls back to the first
// segment ordered after it, so purged history cannot wedge the strategy.
func nextSegment(rotated []string, marker string, hasMarker bool) string {
	if !hasMarker {
		if len(rotated) == 0 {
			return ""
		}
		return rotated[0]
	}
	for i, name := range rotated {
		if name == marker {
			if i+1 < len(rotated) {
				return rotated[i+1]
			}
			return ""
		}
	}
	for _, name := range rotated {
		if core.CompareMarkers(name, marker) > 0 {
			return name
		}
	}
	return ""
}
