package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"digestbot/internal/feed"
	"digestbot/pkg/logx"
)

// fileStore persists the ledger as a single JSON document, rewritten
// atomically (write temp file, then rename) so a crash mid-write can never
// truncate previously committed state.
type fileStore struct {
	path string
	log  logx.Logger
	mem  memState
}

// storeDoc is the on-disk schema. Timestamps are RFC 3339 strings keyed by
// fingerprint hex, grouped per source.
type storeDoc struct {
	SchemaVersion string                       `json:"schemaVersion"`
	LastUpdated   string                       `json:"lastUpdated"`
	Partitions    map[string]map[string]string `json:"partitions"`
}

func openFile(path string, log logx.Logger, now func() time.Time) (*fileStore, error) {
	s := &fileStore{path: path, log: log, mem: newMemState(now)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Debug("dedup store missing, starting empty", logx.String("path", path))
		if err := s.Persist(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		// Unreadable state is absorbed: reset to empty and carry on.
		// Re-notifying beats refusing to run.
		s.log.Warn("dedup store unreadable, resetting", logx.String("path", path), logx.Err(err))
		if err := s.Persist(); err != nil {
			return nil, err
		}
		return s, nil
	}

	var doc storeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("dedup store malformed, resetting", logx.String("path", path), logx.Err(err))
		if err := s.Persist(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if doc.SchemaVersion != SchemaVersion {
		s.log.Warn("dedup store schema mismatch, resetting",
			logx.String("path", path),
			logx.String("have", doc.SchemaVersion),
			logx.String("want", SchemaVersion))
		if err := s.Persist(); err != nil {
			return nil, err
		}
		return s, nil
	}

	for source, part := range doc.Partitions {
		for fp, stamp := range part {
			seen, err := time.Parse(time.RFC3339, stamp)
			if err != nil {
				// One bad timestamp does not invalidate the rest.
				s.log.Warn("dedup entry has invalid timestamp, dropping",
					logx.String("source", source), logx.String("fingerprint", fp))
				continue
			}
			s.mem.record(source, fp, seen)
		}
	}
	s.log.Debug("dedup store loaded", logx.String("path", path), logx.Int("entries", s.mem.size()))
	return s, nil
}

func (s *fileStore) Contains(fingerprint string) bool { return s.mem.contains(fingerprint) }

func (s *fileStore) Record(sourceKey, fingerprint string, seenAt time.Time) {
	s.mem.record(sourceKey, fingerprint, seenAt)
}

func (s *fileStore) FilterNew(items []feed.Item) []feed.Item { return s.mem.filterNew(items) }

func (s *fileStore) Cleanup(retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := s.mem.now().Add(-retention)
	removed := s.mem.removeOlderThan(cutoff)
	if removed == 0 {
		return nil
	}
	s.log.Info("dedup store cleaned", logx.Int("removed", removed), logx.Time("cutoff", cutoff))
	return s.Persist()
}

func (s *fileStore) Persist() error {
	doc := storeDoc{
		SchemaVersion: SchemaVersion,
		LastUpdated:   s.mem.now().UTC().Format(time.RFC3339),
		Partitions:    map[string]map[string]string{},
	}
	for source, part := range s.mem.partitions {
		out := make(map[string]string, len(part))
		for fp, seen := range part {
			out[fp] = seen.UTC().Format(time.RFC3339)
		}
		doc.Partitions[source] = out
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("dedup: encode store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("dedup: create store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("dedup: write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("dedup: replace store: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
