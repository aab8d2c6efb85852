// Package dedupe merges records from concurrently completing tasks into one
// URL-unique result set.
package dedupe

import (
	"strings"
	"sync"

	"github.com/JakeFAU/telespot/internal/search"
)

// Deduplicator keeps the first record seen per normalized URL. Records with an
// empty URL are always kept. It is safe for concurrent use.
type Deduplicator struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	records    search.ResultSet
	duplicates int
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// NormalizeKey trims, lower-cases, and strips one trailing slash.
func NormalizeKey(rawURL string) string {
	key := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.TrimSuffix(key, "/")
}

// Ingest stores rec unless its key was already seen. It returns true when the
// record was added.
func (d *Deduplicator) Ingest(rec search.Record) bool {
	key := NormalizeKey(rec.URL)
	d.mu.Lock()
	defer d.mu.Unlock()
	if key != "" {
		if _, ok := d.seen[key]; ok {
			d.duplicates++
			return false
		}
		d.seen[key] = struct{}{}
	}
	d.records = append(d.records, rec)
	return true
}

// IngestAll ingests records in order and returns how many were added.
func (d *Deduplicator) IngestAll(records []search.Record) int {
	added := 0
	for _, rec := range records {
		if d.Ingest(rec) {
			added++
		}
	}
	return added
}

// Snapshot returns a copy of the current set.
func (d *Deduplicator) Snapshot() search.ResultSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(search.ResultSet, len(d.records))
	copy(out, d.records)
	return out
}

// Len returns the number of unique records.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Duplicates returns how many records were dropped.
func (d *Deduplicator) Duplicates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duplicates
}
