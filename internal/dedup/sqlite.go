package dedup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"digestbot/internal/feed"
	"digestbot/pkg/logx"
)

// sqliteStore keeps the same load-mutate-persist lifecycle as the file
// driver: entries are read fully at open and rewritten in one transaction on
// Persist. The database is a durability format here, not a query engine.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	mem memState
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	source      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	first_seen  TEXT NOT NULL,
	PRIMARY KEY (source, fingerprint)
);`

func openSQLite(path string, log logx.Logger, now func() time.Time) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dedup: create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dedup: open sqlite: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log, mem: newMemState(now)}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedup: migrate sqlite: %w", err)
	}

	version, err := s.readVersion()
	if err != nil || version != SchemaVersion {
		if version != "" && version != SchemaVersion {
			s.log.Warn("dedup store schema mismatch, resetting",
				logx.String("have", version), logx.String("want", SchemaVersion))
		}
		if err := s.Persist(); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}

	rows, err := db.Query(`SELECT source, fingerprint, first_seen FROM entries`)
	if err != nil {
		// Unreadable state is absorbed, same as a corrupt file.
		s.log.Warn("dedup store unreadable, resetting", logx.Err(err))
		if err := s.Persist(); err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	}
	defer rows.Close()
	for rows.Next() {
		var source, fp, stamp string
		if err := rows.Scan(&source, &fp, &stamp); err != nil {
			continue
		}
		seen, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			continue
		}
		s.mem.record(source, fp, seen)
	}
	s.log.Debug("dedup store loaded", logx.String("path", path), logx.Int("entries", s.mem.size()))
	return s, nil
}

func (s *sqliteStore) readVersion() (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (s *sqliteStore) Contains(fingerprint string) bool { return s.mem.contains(fingerprint) }

func (s *sqliteStore) Record(sourceKey, fingerprint string, seenAt time.Time) {
	s.mem.record(sourceKey, fingerprint, seenAt)
}

func (s *sqliteStore) FilterNew(items []feed.Item) []feed.Item { return s.mem.filterNew(items) }

func (s *sqliteStore) Cleanup(retention time.Duration) error {
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

func (s *sqliteStore) Persist() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("dedup: begin persist: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("dedup: clear entries: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO entries(source, fingerprint, first_seen) VALUES(?,?,?)`)
	if err != nil {
		return fmt.Errorf("dedup: prepare insert: %w", err)
	}
	defer stmt.Close()
	for source, part := range s.mem.partitions {
		for fp, seen := range part {
			if _, err := stmt.Exec(source, fp, seen.UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("dedup: insert entry: %w", err)
			}
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO meta(key, value) VALUES('schema_version', ?), ('last_updated', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		SchemaVersion, s.mem.now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("dedup: update meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dedup: commit persist: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
