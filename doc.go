// Package driftcap implements an incremental backup coordination engine for
// live database servers. Instead of dumping everything on every cycle, it
// detects what changed since the previous cycle and packages only the delta.
//
// # Architecture
//
// A backup cycle flows through a fixed sequence of phases, orchestrated by
// internal/coordinator:
//
//  1. Gate: the run is admitted only when the host and the source server are
//     healthy enough to bear the load (internal/gate).
//  2. Enumerate: each enabled strategy lists the entities it tracks and the
//     configured filter narrows the universe.
//  3. Detect: a strategy decides per entity whether anything changed relative
//     to its stored watermark (internal/detector).
//  4. Build: the delta is extracted, compressed, and checksummed into an
//     artifact (internal/artifact).
//  5. Commit: the entity's watermark advances, durably, only after the
//     artifact is validated (internal/watermark).
//  6. Upload: artifacts are delivered to object storage with a bounded retry
//     budget (internal/uploader).
//  7. Sweep: artifacts past their class's retention age are removed
//     (internal/sweeper).
//
// # Detection Strategies
//
// Three strategies cover different table shapes, each an independent backup
// class with its own watermark store, artifact directory, and retention:
//
//	table_timestamp - compares the table's last-modification instant against
//	                  the watermark, with a skew buffer so clock drift cannot
//	                  produce false negatives; captures the whole table
//	row_watermark   - tracks a monotonic column (auto-increment key or a
//	                  temporal column) and captures only rows beyond the
//	                  watermark
//	log_sequence    - walks the server's rotated transaction log segments
//	                  strictly in order, one commit per segment, so an
//	                  interrupted run resumes exactly where it stopped
//
// # Key Packages
//
//	pkg/config        - unified YAML configuration with env substitution
//	pkg/backuperrors  - structured errors driving the fatal/recoverable split
//	pkg/compression   - gzip/zstd artifact compression
//	pkg/retry         - bounded retry with cancellable waits
//	internal/connector - MySQL source access (information_schema, binlogs)
//	internal/coordinator - the run state machine and exclusive run lease
//
// The driftcap CLI in cmd/driftcap wires these together for scheduled
// operation.
package driftcap
