package dedup

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"digestbot/pkg/logx"
)

func openTestSQLite(t *testing.T, path string, now func() time.Time) *sqliteStore {
	t.Helper()
	if now == nil {
		now = time.Now
	}
	s, err := openSQLite(path, logx.Nop(), now)
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.db")

	s := openTestSQLite(t, path, nil)
	kept := s.FilterNew(testItems("hn", "https://a.example/1", "https://a.example/2"))
	if len(kept) != 2 {
		t.Fatalf("FilterNew returned %d items, want 2", len(kept))
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openTestSQLite(t, path, nil)
	if got := reopened.FilterNew(testItems("hn", "https://a.example/1", "https://a.example/2")); len(got) != 0 {
		t.Fatalf("reopened store treated %d persisted items as new", len(got))
	}
}

func TestSQLiteSchemaMismatchResets(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.db")

	s := openTestSQLite(t, path, nil)
	s.FilterNew(testItems("hn", "https://a.example/1"))
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Downgrade the stored version out of band; reopening must discard the
	// entries and rewrite the meta row with the current version.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec(`UPDATE meta SET value = '0.9' WHERE key = 'schema_version'`); err != nil {
		t.Fatalf("downgrade version: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("db.Close: %v", err)
	}

	reopened := openTestSQLite(t, path, nil)
	if got := reopened.FilterNew(testItems("hn", "https://a.example/1")); len(got) != 1 {
		t.Fatalf("schema mismatch did not reset the store: got %d new items, want 1", len(got))
	}

	var version string
	if err := reopened.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("rewritten version = %q, want %q", version, SchemaVersion)
	}
}

func TestSQLitePersistRewritesRemovedEntries(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	retention := 30 * 24 * time.Hour
	path := filepath.Join(t.TempDir(), "cache.db")

	s := openTestSQLite(t, path, func() time.Time { return now })
	oldFP := Fingerprint("hn", "https://a.example/old")
	freshFP := Fingerprint("hn", "https://a.example/fresh")
	s.Record("hn", oldFP, now.Add(-retention-24*time.Hour))
	s.Record("hn", freshFP, now.Add(-retention+24*time.Hour))
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Cleanup persists; the expired row must be gone from the table, not just
	// from memory.
	if err := s.Cleanup(retention); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&count); err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("entries table holds %d rows after cleanup, want 1", count)
	}
	if s.Contains(oldFP) || !s.Contains(freshFP) {
		t.Error("cleanup removed the wrong entry")
	}
}
