package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
)

// ReplaceLive atomically swaps a source's live channel + category set and
// refreshes the meta row (counts, last_synced=now, error cleared). The allow
// callback is consulted after all statements but before commit; when it
// returns false the whole replace rolls back and committed=false is returned.
//
// Callers must apply the safe-update rules BEFORE calling: a failed or
// empty-against-nonempty fetch never reaches this method.
func (s *Store) ReplaceLive(ctx context.Context, sourceID string, channels []catalog.Channel, categories []catalog.Category, now time.Time, allow func() bool) (bool, error) {
	return s.withTx(ctx, allow, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE source_id=?`, sourceID); err != nil {
			return fmt.Errorf("replace live: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE source_id=? AND kind=?`,
			sourceID, string(catalog.CategoryLive)); err != nil {
			return fmt.Errorf("replace live: %w", err)
		}
		chStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO channels (stream_id, source_id, name, logo_url, epg_channel_id, category_ids, direct_url, channel_num)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(source_id, stream_id) DO UPDATE SET
			   name=excluded.name, logo_url=excluded.logo_url, epg_channel_id=excluded.epg_channel_id,
			   category_ids=excluded.category_ids, direct_url=excluded.direct_url, channel_num=excluded.channel_num`)
		if err != nil {
			return err
		}
		defer chStmt.Close()
		for _, ch := range channels {
			if _, err := chStmt.ExecContext(ctx, ch.StreamID, sourceID, ch.Name, ch.LogoURL,
				ch.EPGChannelID, encodeIDs(ch.CategoryIDs), ch.DirectURL, ch.ChannelNum); err != nil {
				return fmt.Errorf("insert channel %s: %w", ch.StreamID, err)
			}
		}
		catStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO categories (category_id, source_id, name, kind) VALUES (?, ?, ?, ?)
			 ON CONFLICT(source_id, category_id, kind) DO UPDATE SET name=excluded.name`)
		if err != nil {
			return err
		}
		defer catStmt.Close()
		for _, c := range categories {
			if _, err := catStmt.ExecContext(ctx, c.CategoryID, sourceID, c.Name, string(catalog.CategoryLive)); err != nil {
				return fmt.Errorf("insert category %s: %w", c.CategoryID, err)
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO source_meta (source_id, last_synced, channel_count, category_count, error)
			 VALUES (?, ?, ?, ?, '')
			 ON CONFLICT(source_id) DO UPDATE SET
			   last_synced=excluded.last_synced, channel_count=excluded.channel_count,
			   category_count=excluded.category_count, error=''`,
			sourceID, now.Unix(), len(channels), len(categories))
		if err != nil {
			return fmt.Errorf("replace live meta: %w", err)
		}
		return nil
	})
}

// Channels returns every channel for a source, ordered by channel number then name.
func (s *Store) Channels(ctx context.Context, sourceID string) ([]catalog.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stream_id, source_id, name, logo_url, epg_channel_id, category_ids, direct_url, channel_num
		 FROM channels WHERE source_id=? ORDER BY channel_num, name`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	defer rows.Close()
	var out []catalog.Channel
	for rows.Next() {
		var ch catalog.Channel
		var cats string
		if err := rows.Scan(&ch.StreamID, &ch.SourceID, &ch.Name, &ch.LogoURL,
			&ch.EPGChannelID, &cats, &ch.DirectURL, &ch.ChannelNum); err != nil {
			return nil, fmt.Errorf("channels: %w", err)
		}
		ch.CategoryIDs = decodeIDs(cats)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ChannelCount returns the stored channel count for a source. The sync step
// uses it for the empty-fetch rule without loading full rows.
func (s *Store) ChannelCount(ctx context.Context, sourceID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM channels WHERE source_id=?`, sourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("channel count: %w", err)
	}
	return n, nil
}

// EPGChannelMap returns epg_channel_id -> stream_id for one source's channels
// that carry an EPG link. Used to map fetched guide entries to local channels.
func (s *Store) EPGChannelMap(ctx context.Context, sourceID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epg_channel_id, stream_id FROM channels WHERE source_id=? AND epg_channel_id != ''`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("epg channel map: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var epgID, streamID string
		if err := rows.Scan(&epgID, &streamID); err != nil {
			return nil, fmt.Errorf("epg channel map: %w", err)
		}
		out[epgID] = streamID
	}
	return out, rows.Err()
}

// ReplacePrograms atomically replaces the full EPG set for a source.
// Same safe-update contract as ReplaceLive.
func (s *Store) ReplacePrograms(ctx context.Context, sourceID string, programs []catalog.Program, allow func() bool) (bool, error) {
	return s.withTx(ctx, allow, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM programs WHERE source_id=?`, sourceID); err != nil {
			return fmt.Errorf("replace programs: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO programs (id, source_id, stream_id, title, description, start_at, end_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(source_id, id) DO UPDATE SET
			   title=excluded.title, description=excluded.description, end_at=excluded.end_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range programs {
			if _, err := stmt.ExecContext(ctx, p.ID, sourceID, p.StreamID, p.Title,
				p.Description, p.Start.Unix(), p.End.Unix()); err != nil {
				return fmt.Errorf("insert program %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// ProgramCount returns the stored EPG entry count for a source.
func (s *Store) ProgramCount(ctx context.Context, sourceID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM programs WHERE source_id=?`, sourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("program count: %w", err)
	}
	return n, nil
}

// ProgramsForStream returns guide entries for one channel overlapping
// [from, to), ordered by start time. Backed by the (source, stream, start)
// index for the program-grid range reads.
func (s *Store) ProgramsForStream(ctx context.Context, sourceID, streamID string, from, to time.Time) ([]catalog.Program, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, stream_id, title, description, start_at, end_at
		 FROM programs
		 WHERE source_id=? AND stream_id=? AND end_at > ? AND start_at < ?
		 ORDER BY start_at`, sourceID, streamID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("programs for stream: %w", err)
	}
	defer rows.Close()
	var out []catalog.Program
	for rows.Next() {
		var p catalog.Program
		var start, end int64
		if err := rows.Scan(&p.ID, &p.SourceID, &p.StreamID, &p.Title, &p.Description, &start, &end); err != nil {
			return nil, fmt.Errorf("programs for stream: %w", err)
		}
		p.Start, p.End = time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
