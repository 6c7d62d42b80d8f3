// Package watermark persists per-entity capture progress markers. Each
// detection strategy owns an independent store, so the same entity can be
// tracked concurrently by different strategies without conflict.
package watermark

import (
	"github.com/driftcap/driftcap/internal/core"
)

// Store is the durable mapping from entity key to the last-captured progress
// marker. An absent marker means "capture from the beginning". Writes for a
// given key are linearized by the store; there are no concurrent writers
// within one coordinator run.
type Store interface {
	// Get returns the marker for a key, with ok=false when absent.
	Get(key core.EntityKey) (marker string, ok bool, err error)

	// Set replaces the marker for a key. Implementations refuse regressions:
	// a new marker comparing lower than the stored one is dropped with a
	// warning rather than written.
	Set(key core.EntityKey, marker string) error

	// Close flushes and releases the store.
	Close() error
}
