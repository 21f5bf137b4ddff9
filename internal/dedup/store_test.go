package dedup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"digestbot/internal/feed"
	"digestbot/pkg/logx"
)

func testItems(source string, urls ...string) []feed.Item {
	items := make([]feed.Item, 0, len(urls))
	for _, u := range urls {
		items = append(items, feed.Item{Source: source, Title: "t", URL: u})
	}
	return items
}

func openTestStore(t *testing.T, path string, now func() time.Time) *fileStore {
	t.Helper()
	if now == nil {
		now = time.Now
	}
	s, err := openFile(path, logx.Nop(), now)
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	return s
}

func TestFilterNewIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, filepath.Join(t.TempDir(), "cache.json"), nil)

	items := testItems("hn", "https://a.example/1", "https://a.example/2", "https://a.example/3")
	first := s.FilterNew(items)
	if len(first) != len(items) {
		t.Fatalf("first FilterNew returned %d items, want %d", len(first), len(items))
	}
	second := s.FilterNew(items)
	if len(second) != 0 {
		t.Fatalf("second FilterNew returned %d items, want 0", len(second))
	}
}

func TestContainsIsGlobalAcrossPartitions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, filepath.Join(t.TempDir(), "cache.json"), nil)

	fp := Fingerprint("hn", "https://a.example/1")
	s.Record("hn", fp, time.Time{})

	// The same fingerprint re-recorded under another source key must not
	// look new: membership checks span every partition.
	if !s.Contains(fp) {
		t.Fatal("Contains returned false for a recorded fingerprint")
	}
	s.Record("qiita", fp, time.Time{})
	if !s.Contains(fp) {
		t.Fatal("Contains lost the fingerprint after cross-partition record")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")

	s := openTestStore(t, path, nil)
	kept := s.FilterNew(testItems("hn", "https://a.example/1"))
	if len(kept) != 1 {
		t.Fatalf("FilterNew returned %d items, want 1", len(kept))
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reopened := openTestStore(t, path, nil)
	if got := reopened.FilterNew(testItems("hn", "https://a.example/1")); len(got) != 0 {
		t.Fatalf("reopened store treated a persisted item as new")
	}
}

func TestLoadMissingFileCreatesEmptyStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")
	openTestStore(t, path, nil)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("store file was not created: %v", err)
	}
	var doc storeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("created store is not valid JSON: %v", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		t.Fatalf("SchemaVersion = %q, want %q", doc.SchemaVersion, SchemaVersion)
	}
}

func TestLoadSchemaMismatchResets(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")

	s := openTestStore(t, path, nil)
	s.FilterNew(testItems("hn", "https://a.example/1"))
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Downgrade the on-disk version; the load must discard everything and
	// rewrite the file with the current version.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc storeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	doc.SchemaVersion = "0.9"
	downgraded, _ := json.Marshal(doc)
	if err := os.WriteFile(path, downgraded, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reopened := openTestStore(t, path, nil)
	if got := reopened.FilterNew(testItems("hn", "https://a.example/1")); len(got) != 1 {
		t.Fatalf("schema mismatch did not reset the store: got %d new items, want 1", len(got))
	}

	raw, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after reset: %v", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal after reset: %v", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		t.Fatalf("rewritten SchemaVersion = %q, want %q", doc.SchemaVersion, SchemaVersion)
	}
}

func TestLoadMalformedFileResets(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openTestStore(t, path, nil)
	if got := s.FilterNew(testItems("hn", "https://a.example/1")); len(got) != 1 {
		t.Fatalf("malformed file did not reset the store")
	}
}

func TestCleanupBoundary(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	retention := 30 * 24 * time.Hour

	path := filepath.Join(t.TempDir(), "cache.json")
	s := openTestStore(t, path, func() time.Time { return now })

	oldFP := Fingerprint("hn", "https://a.example/old")
	freshFP := Fingerprint("hn", "https://a.example/fresh")
	s.Record("hn", oldFP, now.Add(-retention-24*time.Hour))
	s.Record("hn", freshFP, now.Add(-retention+24*time.Hour))

	if err := s.Cleanup(retention); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if s.Contains(oldFP) {
		t.Error("entry older than the retention window survived cleanup")
	}
	if !s.Contains(freshFP) {
		t.Error("entry within the retention window was removed")
	}
}

func TestCleanupSkipsPersistWhenNothingRemoved(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.json")
	s := openTestStore(t, path, nil)
	s.Record("hn", Fingerprint("hn", "https://a.example/1"), time.Time{})

	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := s.Cleanup(30 * 24 * time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("cleanup rewrote the store although nothing was removed")
	}
}

func TestPersistLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	s := openTestStore(t, path, nil)
	s.Record("hn", Fingerprint("hn", "https://a.example/1"), time.Time{})
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "cache.json" {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}
}
