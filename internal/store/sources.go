package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tvmux/tvmux/internal/catalog"
)

// ErrNotFound is returned by single-row getters when no row matches.
var ErrNotFound = errors.New("store: not found")

// AddSource inserts a new source. Position 0 means "append": the next free
// insertion-order slot is assigned, which doubles as the default preference
// rank among sources of the same class.
func (s *Store) AddSource(ctx context.Context, src *catalog.Source) error {
	if src.Position == 0 {
		var max sql.NullInt64
		if err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM sources`).Scan(&max); err != nil {
			return fmt.Errorf("add source: %w", err)
		}
		src.Position = int(max.Int64) + 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, type, url, username, password, enabled, auto_enrich_epg, epg_override_url, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.Name, string(src.Type), src.URL, src.Username, src.Password,
		boolInt(src.Enabled), boolInt(src.AutoEnrichEPG), src.EPGOverrideURL, src.Position)
	if err != nil {
		return fmt.Errorf("add source: %w", err)
	}
	return nil
}

// UpdateSource rewrites a source's mutable fields (everything but id/position).
func (s *Store) UpdateSource(ctx context.Context, src *catalog.Source) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET name=?, type=?, url=?, username=?, password=?, enabled=?, auto_enrich_epg=?, epg_override_url=?
		 WHERE id=?`,
		src.Name, string(src.Type), src.URL, src.Username, src.Password,
		boolInt(src.Enabled), boolInt(src.AutoEnrichEPG), src.EPGOverrideURL, src.ID)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSource returns one source by id.
func (s *Store) GetSource(ctx context.Context, id string) (*catalog.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, url, username, password, enabled, auto_enrich_epg, epg_override_url, position
		 FROM sources WHERE id=?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

// ListSources returns sources in insertion order. enabledOnly filters to
// sources eligible for scheduled syncs.
func (s *Store) ListSources(ctx context.Context, enabledOnly bool) ([]catalog.Source, error) {
	q := `SELECT id, name, type, url, username, password, enabled, auto_enrich_epg, epg_override_url, position
	      FROM sources`
	if enabledOnly {
		q += ` WHERE enabled=1`
	}
	q += ` ORDER BY position`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	var out []catalog.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSource(r rowScanner) (*catalog.Source, error) {
	var src catalog.Source
	var typ string
	var enabled, autoEnrich int
	if err := r.Scan(&src.ID, &src.Name, &typ, &src.URL, &src.Username, &src.Password,
		&enabled, &autoEnrich, &src.EPGOverrideURL, &src.Position); err != nil {
		return nil, err
	}
	src.Type = catalog.SourceType(typ)
	src.Enabled = enabled != 0
	src.AutoEnrichEPG = autoEnrich != 0
	return &src, nil
}

// DeleteSourceCascade removes the source and every row referencing it, in one
// transaction. The caller must add the id to the deletion guard BEFORE calling
// so in-flight syncs discard their results instead of re-inserting.
func (s *Store) DeleteSourceCascade(ctx context.Context, id string) error {
	_, err := s.withTx(ctx, nil, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM episodes WHERE source_id=?`,
			`DELETE FROM series WHERE source_id=?`,
			`DELETE FROM movies WHERE source_id=?`,
			`DELETE FROM programs WHERE source_id=?`,
			`DELETE FROM channels WHERE source_id=?`,
			`DELETE FROM categories WHERE source_id=?`,
			`DELETE FROM source_meta WHERE source_id=?`,
			`DELETE FROM prefs WHERE source_id=?`,
			`DELETE FROM sources WHERE id=?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("cascade delete: %w", err)
			}
		}
		return nil
	})
	return err
}

// Meta returns the sync bookkeeping row for a source. A source never synced
// yields a zero-valued meta (not ErrNotFound) so staleness logic stays simple.
func (s *Store) Meta(ctx context.Context, sourceID string) (catalog.SourceMeta, error) {
	m := catalog.SourceMeta{SourceID: sourceID}
	var last, vodLast int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_synced, channel_count, category_count, error,
		        vod_last_synced, vod_movie_count, vod_series_count, vod_error
		 FROM source_meta WHERE source_id=?`, sourceID).
		Scan(&last, &m.ChannelCount, &m.CategoryCount, &m.Error,
			&vodLast, &m.VODMovieCount, &m.VODSeriesCount, &m.VODError)
	if err == sql.ErrNoRows {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("meta: %w", err)
	}
	m.LastSynced = timeOrZero(last)
	m.VODLastSynced = timeOrZero(vodLast)
	return m, nil
}

// ListMeta returns bookkeeping for every known source (status endpoint).
func (s *Store) ListMeta(ctx context.Context) ([]catalog.SourceMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, last_synced, channel_count, category_count, error,
		        vod_last_synced, vod_movie_count, vod_series_count, vod_error
		 FROM source_meta ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("list meta: %w", err)
	}
	defer rows.Close()
	var out []catalog.SourceMeta
	for rows.Next() {
		var m catalog.SourceMeta
		var last, vodLast int64
		if err := rows.Scan(&m.SourceID, &last, &m.ChannelCount, &m.CategoryCount, &m.Error,
			&vodLast, &m.VODMovieCount, &m.VODSeriesCount, &m.VODError); err != nil {
			return nil, fmt.Errorf("list meta: %w", err)
		}
		m.LastSynced = timeOrZero(last)
		m.VODLastSynced = timeOrZero(vodLast)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetSyncError records a failed sync for one content class without touching
// catalog rows or last_synced (the safe-update protocol's failure path).
func (s *Store) SetSyncError(ctx context.Context, sourceID string, class catalog.ContentClass, msg string) error {
	col := "error"
	if class == catalog.ClassVOD {
		col = "vod_error"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_meta (source_id, `+col+`) VALUES (?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET `+col+`=excluded.`+col, sourceID, msg)
	if err != nil {
		return fmt.Errorf("set sync error: %w", err)
	}
	return nil
}

// SetPreferenceOrder replaces the ordered source-preference list for one
// content class ("live" or "vod").
func (s *Store) SetPreferenceOrder(ctx context.Context, class catalog.ContentClass, sourceIDs []string) error {
	_, err := s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM prefs WHERE kind=?`, string(class)); err != nil {
			return err
		}
		for i, id := range sourceIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO prefs (kind, position, source_id) VALUES (?, ?, ?)`,
				string(class), i, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set preference order: %w", err)
	}
	return nil
}

// PreferenceOrder returns the configured order for a class; empty when the
// user never set one (callers fall back to enabled-source insertion order).
func (s *Store) PreferenceOrder(ctx context.Context, class catalog.ContentClass) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id FROM prefs WHERE kind=? ORDER BY position`, string(class))
	if err != nil {
		return nil, fmt.Errorf("preference order: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("preference order: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
