// Package core defines the shared types of the backup engine: entity keys,
// delta descriptors, and resource snapshots.
package core

import (
	"fmt"
	"strconv"
)

// GlobalTable is the sentinel table name used by the log-sequence strategy,
// which tracks the server as a whole rather than individual tables.
const GlobalTable = "global"

// EntityKey identifies one unit of incremental capture: a (database, table)
// pair for table-level strategies, or the global sentinel for the
// log-sequence strategy.
type EntityKey struct {
	Database string `json:"database"`
	Table    string `json:"table"`
}

// GlobalKey returns the sentinel key used by the log-sequence strategy.
func GlobalKey() EntityKey {
	return EntityKey{Table: GlobalTable}
}

// IsGlobal reports whether the key is the log-sequence sentinel.
func (k EntityKey) IsGlobal() bool {
	return k.Database == "" && k.Table == GlobalTable
}

// String renders the key as "database.table", or just the table name when
// the database part is empty.
func (k EntityKey) String() string {
	if k.Database == "" {
		return k.Table
	}
	return k.Database + "." + k.Table
}

// Delta is the output of change detection for one entity: either no change,
// or a predicate selecting the new rows/partition together with the value
// that becomes the new watermark on success.
type Delta struct {
	// Changed is false for a NoChange result
	Changed bool
	// Predicate is the selection condition handed to extraction; empty
	// means the whole entity is the changed partition
	Predicate string
	// ObservedMax becomes the new watermark once the corresponding
	// artifact has been built and validated
	ObservedMax string
}

// NoChange returns a Delta describing an unchanged entity.
func NoChange() Delta {
	return Delta{}
}

// Changed returns a Delta describing a detected change.
func Changed(predicate, observedMax string) Delta {
	return Delta{Changed: true, Predicate: predicate, ObservedMax: observedMax}
}

// CompareMarkers orders two watermark values: numerically when both parse as
// integers, lexicographically otherwise. Lexicographic order is correct for
// ISO timestamps and for sequentially numbered log segment names of equal
// width. Returns -1, 0, or 1.
func CompareMarkers(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ResourceSnapshot is a point-in-time read of the health signals the
// resource gate classifies. It is recomputed on each gate poll and never
// persisted.
type ResourceSnapshot struct {
	// LoadPerCore is the 1-minute load average divided by core count
	LoadPerCore float64
	// MemoryPercent is system memory utilization
	MemoryPercent float64
	// IOWaitPercent is the share of CPU time spent in I/O wait
	IOWaitPercent float64
	// FreeDiskPercent is free space on the backup target path
	FreeDiskPercent float64
	// ConnectionPercent is source-server connection pool utilization
	ConnectionPercent float64
	// Healthy is the source server's binary health probe
	Healthy bool
}

// String summarizes the snapshot for gate logging.
func (s ResourceSnapshot) String() string {
	return fmt.Sprintf("load/core=%.2f mem=%.1f%% iowait=%.1f%% free_disk=%.1f%% conns=%.1f%% healthy=%t",
		s.LoadPerCore, s.MemoryPercent, s.IOWaitPercent, s.FreeDiskPercent, s.ConnectionPercent, s.Healthy)
}
