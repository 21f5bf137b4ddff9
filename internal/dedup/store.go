// Package dedup persists which items have already been delivered, so a run
// never re-notifies something a previous run picked up.
//
// The store maps item fingerprints to first-seen timestamps, partitioned by
// source key. Membership checks are global across partitions: once any
// partition holds a fingerprint, it is no longer "new" anywhere. Storage
// stays partitioned so per-source retention and inspection remain possible.
//
// Lifecycle per run: Open loads everything into memory, FilterNew/Record
// mutate the in-memory state, Persist rewrites the backing store once at the
// end. The store is not safe for concurrent writers; exactly one run owns it.
package dedup

import (
	"errors"
	"strings"
	"time"

	"digestbot/internal/feed"
	"digestbot/pkg/logx"
)

// SchemaVersion gates persisted state. Any mismatch on load discards the
// stored entries rather than attempting a partial migration.
const SchemaVersion = "1.0"

// Store is the dedup ledger API used by the run pipeline.
type Store interface {
	// Contains reports whether the fingerprint exists in any partition.
	Contains(fingerprint string) bool
	// Record inserts or overwrites an entry in the source's partition.
	// A zero seenAt means "now".
	Record(sourceKey, fingerprint string, seenAt time.Time)
	// FilterNew returns the subsequence of items whose fingerprint is not
	// yet known, recording each returned item as seen. An item is considered
	// seen the moment it is selected, not after successful delivery.
	FilterNew(items []feed.Item) []feed.Item
	// Cleanup removes entries older than the retention window and persists
	// the store if anything was removed.
	Cleanup(retention time.Duration) error
	// Persist rewrites the backing store. A persist failure is fatal to the
	// run: continuing would desynchronize disk state from decisions already
	// made in memory.
	Persist() error
	Close() error
}

// Config selects and locates the backing store.
type Config struct {
	Driver string // "file" (default) or "sqlite"
	Path   string
}

// Open initializes the configured store and loads persisted state.
// Corrupt or version-mismatched state is absorbed: the store resets to empty
// and the run continues. Only persistence write failures are returned.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("dedup: store path is required")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg.Path, log, time.Now)
	case "sqlite", "sqlite3":
		return openSQLite(cfg.Path, log, time.Now)
	default:
		return nil, errors.New("dedup: unknown store driver: " + driver)
	}
}

// memState is the in-memory representation shared by every driver.
type memState struct {
	partitions map[string]map[string]time.Time
	now        func() time.Time
}

func newMemState(now func() time.Time) memState {
	return memState{partitions: map[string]map[string]time.Time{}, now: now}
}

func (m *memState) contains(fingerprint string) bool {
	for _, part := range m.partitions {
		if _, ok := part[fingerprint]; ok {
			return true
		}
	}
	return false
}

func (m *memState) record(sourceKey, fingerprint string, seenAt time.Time) {
	if seenAt.IsZero() {
		seenAt = m.now()
	}
	part := m.partitions[sourceKey]
	if part == nil {
		part = map[string]time.Time{}
		m.partitions[sourceKey] = part
	}
	part[fingerprint] = seenAt.UTC()
}

func (m *memState) filterNew(items []feed.Item) []feed.Item {
	var fresh []feed.Item
	for _, it := range items {
		fp := Fingerprint(it.Source, it.URL)
		if m.contains(fp) {
			continue
		}
		m.record(it.Source, fp, time.Time{})
		fresh = append(fresh, it)
	}
	return fresh
}

// removeOlderThan drops entries first seen before the cutoff and reports how
// many were removed. Empty partitions are pruned as well.
func (m *memState) removeOlderThan(cutoff time.Time) int {
	removed := 0
	for key, part := range m.partitions {
		for fp, seen := range part {
			if seen.Before(cutoff) {
				delete(part, fp)
				removed++
			}
		}
		if len(part) == 0 {
			delete(m.partitions, key)
		}
	}
	return removed
}

func (m *memState) size() int {
	n := 0
	for _, part := range m.partitions {
		n += len(part)
	}
	return n
}
