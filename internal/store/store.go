// Package store is the embedded local store: a sqlite database holding every
// per-source entity table plus sync bookkeeping. All multi-table writes run in
// a single transaction so readers never observe a half-deleted, half-inserted
// catalog, and so cross-table invariants (episode cascade, meta freshness)
// hold without a separate cleanup pass.
//
// Write methods that commit sync or enrichment results take an allow callback
// consulted immediately before commit; the deletion guard is wired in there so
// an in-flight sync for a just-deleted source rolls back instead of
// resurrecting rows.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite handle. Safe for concurrent use; sqlite serializes
// writers and WAL mode keeps readers on consistent snapshots.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between the pool's connections;
	// sqlite write throughput is single-writer anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store pragma %q: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			url TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			auto_enrich_epg INTEGER NOT NULL DEFAULT 0,
			epg_override_url TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			stream_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			name TEXT NOT NULL,
			logo_url TEXT NOT NULL DEFAULT '',
			epg_channel_id TEXT NOT NULL DEFAULT '',
			category_ids TEXT NOT NULL DEFAULT '[]',
			direct_url TEXT NOT NULL,
			channel_num INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (source_id, stream_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_epg ON channels(source_id, epg_channel_id)`,
		`CREATE TABLE IF NOT EXISTS categories (
			category_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (source_id, category_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS programs (
			id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_at INTEGER NOT NULL,
			end_at INTEGER NOT NULL,
			PRIMARY KEY (source_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_programs_stream ON programs(source_id, stream_id, start_at)`,
		`CREATE TABLE IF NOT EXISTS movies (
			stream_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			name TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL DEFAULT 0,
			category_ids TEXT NOT NULL DEFAULT '[]',
			direct_url TEXT NOT NULL,
			plot TEXT NOT NULL DEFAULT '',
			cast_list TEXT NOT NULL DEFAULT '',
			rating TEXT NOT NULL DEFAULT '',
			poster_url TEXT NOT NULL DEFAULT '',
			catalog_id INTEGER NOT NULL DEFAULT 0,
			catalog_popularity REAL NOT NULL DEFAULT 0,
			match_attempted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (source_id, stream_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movies_catalog ON movies(catalog_id)`,
		`CREATE TABLE IF NOT EXISTS series (
			series_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			name TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL DEFAULT 0,
			category_ids TEXT NOT NULL DEFAULT '[]',
			plot TEXT NOT NULL DEFAULT '',
			cast_list TEXT NOT NULL DEFAULT '',
			rating TEXT NOT NULL DEFAULT '',
			poster_url TEXT NOT NULL DEFAULT '',
			catalog_id INTEGER NOT NULL DEFAULT 0,
			catalog_popularity REAL NOT NULL DEFAULT 0,
			match_attempted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (source_id, series_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_series_catalog ON series(catalog_id)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			series_id TEXT NOT NULL,
			season_num INTEGER NOT NULL,
			episode_num INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			direct_url TEXT NOT NULL,
			PRIMARY KEY (source_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_series ON episodes(source_id, series_id)`,
		`CREATE TABLE IF NOT EXISTS source_meta (
			source_id TEXT PRIMARY KEY,
			last_synced INTEGER NOT NULL DEFAULT 0,
			channel_count INTEGER NOT NULL DEFAULT 0,
			category_count INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			vod_last_synced INTEGER NOT NULL DEFAULT 0,
			vod_movie_count INTEGER NOT NULL DEFAULT 0,
			vod_series_count INTEGER NOT NULL DEFAULT 0,
			vod_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS prefs (
			kind TEXT NOT NULL,
			position INTEGER NOT NULL,
			source_id TEXT NOT NULL,
			PRIMARY KEY (kind, position)
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing only when fn returns nil
// and allow (if non-nil) still permits the write. Returns committed=false
// without error when allow vetoes; that is the deletion-guard discard path.
func (s *Store) withTx(ctx context.Context, allow func() bool, fn func(tx *sql.Tx) error) (committed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return false, err
	}
	if allow != nil && !allow() {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// --- small codec helpers -----------------------------------------------------

func encodeIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeIDs(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}
