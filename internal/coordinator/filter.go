package coordinator

import (
	"strings"

	"github.com/driftcap/driftcap/internal/core"
)

// applyFilter restricts the enumerated entity universe. Entries prefixed
// with "-" form an exclude list; entries prefixed with "+" or bare form an
// include-only list. A pattern matches either the qualified "db.table" name
// or the bare table name. An empty filter passes everything through.
func applyFilter(keys []core.EntityKey, filter []string) []core.EntityKey {
	if len(filter) == 0 {
		return keys
	}

	exclude := false
	patterns := make(map[string]struct{}, len(filter))
	for _, entry := range filter {
		switch {
		case strings.HasPrefix(entry, "-"):
			exclude = true
			patterns[entry[1:]] = struct{}{}
		case strings.HasPrefix(entry, "+"):
			patterns[entry[1:]] = struct{}{}
		default:
			patterns[entry] = struct{}{}
		}
	}

	matches := func(k core.EntityKey) bool {
		if _, ok := patterns[k.String()]; ok {
			return true
		}
		_, ok := patterns[k.Table]
		return ok
	}

	var out []core.EntityKey
	for _, k := range keys {
		if matches(k) != exclude {
			out = append(out, k)
		}
	}
	return out
}
