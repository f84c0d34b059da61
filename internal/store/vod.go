package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
)

// vodCarry holds the enrichment-bearing fields preserved across resyncs.
type vodCarry struct {
	plot, cast, rating, poster string
	catalogID                  int64
	popularity                 float64
	matchAttempted             int64
}

// UpsertVOD applies one VOD sync for a source: upsert movies/series by primary
// key with enrichment fields carried forward from existing rows, replace the
// episode and category sets, delete only items absent from the new fetch
// (cascading episodes of removed series inside the same transaction), and
// refresh the meta row. Unlike live channels this is an upsert, not a full
// replace: catalog ids, popularity, match timestamps, and provider metadata
// accumulated on existing rows must survive a resync when the new fetch lacks
// them.
//
// The allow callback runs immediately before commit (deletion-guard check).
func (s *Store) UpsertVOD(ctx context.Context, sourceID string, movies []catalog.Movie, series []catalog.Series, episodes []catalog.Episode, categories []catalog.Category, now time.Time, allow func() bool) (bool, error) {
	return s.withTx(ctx, allow, func(tx *sql.Tx) error {
		if err := upsertMovies(ctx, tx, sourceID, movies); err != nil {
			return err
		}
		if err := upsertSeries(ctx, tx, sourceID, series); err != nil {
			return err
		}
		// Episodes carry no enrichment state; replace the full set.
		if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE source_id=?`, sourceID); err != nil {
			return fmt.Errorf("replace episodes: %w", err)
		}
		epStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO episodes (id, source_id, series_id, season_num, episode_num, title, direct_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(source_id, id) DO UPDATE SET
			   series_id=excluded.series_id, season_num=excluded.season_num,
			   episode_num=excluded.episode_num, title=excluded.title, direct_url=excluded.direct_url`)
		if err != nil {
			return err
		}
		defer epStmt.Close()
		for _, ep := range episodes {
			if _, err := epStmt.ExecContext(ctx, ep.ID, sourceID, ep.SeriesID,
				ep.SeasonNum, ep.EpisodeNum, ep.Title, ep.DirectURL); err != nil {
				return fmt.Errorf("insert episode %s: %w", ep.ID, err)
			}
		}
		// VOD categories are replaced wholesale; no enrichment state on them.
		for _, kind := range []catalog.CategoryKind{catalog.CategoryMovie, catalog.CategorySeries} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE source_id=? AND kind=?`,
				sourceID, string(kind)); err != nil {
				return fmt.Errorf("replace vod categories: %w", err)
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
			if _, err := catStmt.ExecContext(ctx, c.CategoryID, sourceID, c.Name, string(c.Kind)); err != nil {
				return fmt.Errorf("insert vod category %s: %w", c.CategoryID, err)
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO source_meta (source_id, vod_last_synced, vod_movie_count, vod_series_count, vod_error)
			 VALUES (?, ?, ?, ?, '')
			 ON CONFLICT(source_id) DO UPDATE SET
			   vod_last_synced=excluded.vod_last_synced, vod_movie_count=excluded.vod_movie_count,
			   vod_series_count=excluded.vod_series_count, vod_error=''`,
			sourceID, now.Unix(), len(movies), len(series))
		if err != nil {
			return fmt.Errorf("vod meta: %w", err)
		}
		return nil
	})
}

func upsertMovies(ctx context.Context, tx *sql.Tx, sourceID string, movies []catalog.Movie) error {
	existing, err := loadCarry(ctx, tx, `SELECT stream_id, plot, cast_list, rating, poster_url, catalog_id, catalog_popularity, match_attempted FROM movies WHERE source_id=?`, sourceID)
	if err != nil {
		return fmt.Errorf("load existing movies: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO movies (stream_id, source_id, name, title, year, category_ids, direct_url,
		                     plot, cast_list, rating, poster_url, catalog_id, catalog_popularity, match_attempted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, stream_id) DO UPDATE SET
		   name=excluded.name, title=excluded.title, year=excluded.year,
		   category_ids=excluded.category_ids, direct_url=excluded.direct_url,
		   plot=excluded.plot, cast_list=excluded.cast_list, rating=excluded.rating,
		   poster_url=excluded.poster_url, catalog_id=excluded.catalog_id,
		   catalog_popularity=excluded.catalog_popularity, match_attempted=excluded.match_attempted`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(movies))
	for _, m := range movies {
		seen[m.StreamID] = true
		if old, ok := existing[m.StreamID]; ok {
			carryForwardMovie(&m, old)
		}
		if _, err := stmt.ExecContext(ctx, m.StreamID, sourceID, m.Name, m.Title, m.Year,
			encodeIDs(m.CategoryIDs), m.DirectURL, m.Plot, m.Cast, m.Rating, m.PosterURL,
			m.CatalogID, m.CatalogPopularity, unixOrZero(m.MatchAttempted)); err != nil {
			return fmt.Errorf("upsert movie %s: %w", m.StreamID, err)
		}
	}
	// Items gone from the new fetch are deleted; the new fetch is treated as
	// authoritative and complete.
	for id := range existing {
		if !seen[id] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM movies WHERE source_id=? AND stream_id=?`, sourceID, id); err != nil {
				return fmt.Errorf("prune movie %s: %w", id, err)
			}
		}
	}
	return nil
}

func upsertSeries(ctx context.Context, tx *sql.Tx, sourceID string, series []catalog.Series) error {
	existing, err := loadCarry(ctx, tx, `SELECT series_id, plot, cast_list, rating, poster_url, catalog_id, catalog_popularity, match_attempted FROM series WHERE source_id=?`, sourceID)
	if err != nil {
		return fmt.Errorf("load existing series: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO series (series_id, source_id, name, title, year, category_ids,
		                     plot, cast_list, rating, poster_url, catalog_id, catalog_popularity, match_attempted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, series_id) DO UPDATE SET
		   name=excluded.name, title=excluded.title, year=excluded.year,
		   category_ids=excluded.category_ids,
		   plot=excluded.plot, cast_list=excluded.cast_list, rating=excluded.rating,
		   poster_url=excluded.poster_url, catalog_id=excluded.catalog_id,
		   catalog_popularity=excluded.catalog_popularity, match_attempted=excluded.match_attempted`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(series))
	for _, sr := range series {
		seen[sr.SeriesID] = true
		if old, ok := existing[sr.SeriesID]; ok {
			carryForwardSeries(&sr, old)
		}
		if _, err := stmt.ExecContext(ctx, sr.SeriesID, sourceID, sr.Name, sr.Title, sr.Year,
			encodeIDs(sr.CategoryIDs), sr.Plot, sr.Cast, sr.Rating, sr.PosterURL,
			sr.CatalogID, sr.CatalogPopularity, unixOrZero(sr.MatchAttempted)); err != nil {
			return fmt.Errorf("upsert series %s: %w", sr.SeriesID, err)
		}
	}
	for id := range existing {
		if !seen[id] {
			// Cascade the removed series' episodes in the same transaction.
			if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE source_id=? AND series_id=?`, sourceID, id); err != nil {
				return fmt.Errorf("prune episodes of series %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM series WHERE source_id=? AND series_id=?`, sourceID, id); err != nil {
				return fmt.Errorf("prune series %s: %w", id, err)
			}
		}
	}
	return nil
}

func loadCarry(ctx context.Context, tx *sql.Tx, query, sourceID string) (map[string]vodCarry, error) {
	rows, err := tx.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]vodCarry)
	for rows.Next() {
		var id string
		var c vodCarry
		if err := rows.Scan(&id, &c.plot, &c.cast, &c.rating, &c.poster,
			&c.catalogID, &c.popularity, &c.matchAttempted); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

// carryForwardMovie fills enrichment fields missing from the new fetch with
// the values already stored. catalog_id / popularity / match_attempted are
// engine-owned and always carried; provider text fields only when absent.
func carryForwardMovie(m *catalog.Movie, old vodCarry) {
	if m.CatalogID == 0 {
		m.CatalogID = old.catalogID
		m.CatalogPopularity = old.popularity
	}
	if m.MatchAttempted.IsZero() {
		m.MatchAttempted = timeOrZero(old.matchAttempted)
	}
	if m.Plot == "" {
		m.Plot = old.plot
	}
	if m.Cast == "" {
		m.Cast = old.cast
	}
	if m.Rating == "" {
		m.Rating = old.rating
	}
	if m.PosterURL == "" {
		m.PosterURL = old.poster
	}
}

func carryForwardSeries(sr *catalog.Series, old vodCarry) {
	if sr.CatalogID == 0 {
		sr.CatalogID = old.catalogID
		sr.CatalogPopularity = old.popularity
	}
	if sr.MatchAttempted.IsZero() {
		sr.MatchAttempted = timeOrZero(old.matchAttempted)
	}
	if sr.Plot == "" {
		sr.Plot = old.plot
	}
	if sr.Cast == "" {
		sr.Cast = old.cast
	}
	if sr.Rating == "" {
		sr.Rating = old.rating
	}
	if sr.PosterURL == "" {
		sr.PosterURL = old.poster
	}
}

// --- reads -------------------------------------------------------------------

const movieCols = `stream_id, source_id, name, title, year, category_ids, direct_url,
       plot, cast_list, rating, poster_url, catalog_id, catalog_popularity, match_attempted`

func scanMovie(r rowScanner) (catalog.Movie, error) {
	var m catalog.Movie
	var cats string
	var attempted int64
	err := r.Scan(&m.StreamID, &m.SourceID, &m.Name, &m.Title, &m.Year, &cats, &m.DirectURL,
		&m.Plot, &m.Cast, &m.Rating, &m.PosterURL, &m.CatalogID, &m.CatalogPopularity, &attempted)
	if err != nil {
		return m, err
	}
	m.CategoryIDs = decodeIDs(cats)
	m.MatchAttempted = timeOrZero(attempted)
	return m, nil
}

const seriesCols = `series_id, source_id, name, title, year, category_ids,
       plot, cast_list, rating, poster_url, catalog_id, catalog_popularity, match_attempted`

func scanSeries(r rowScanner) (catalog.Series, error) {
	var sr catalog.Series
	var cats string
	var attempted int64
	err := r.Scan(&sr.SeriesID, &sr.SourceID, &sr.Name, &sr.Title, &sr.Year, &cats,
		&sr.Plot, &sr.Cast, &sr.Rating, &sr.PosterURL, &sr.CatalogID, &sr.CatalogPopularity, &attempted)
	if err != nil {
		return sr, err
	}
	sr.CategoryIDs = decodeIDs(cats)
	sr.MatchAttempted = timeOrZero(attempted)
	return sr, nil
}

func (s *Store) queryMovies(ctx context.Context, query string, args ...any) ([]catalog.Movie, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) querySeries(ctx context.Context, query string, args ...any) ([]catalog.Series, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Series
	for rows.Next() {
		sr, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Movies returns all movies for one source.
func (s *Store) Movies(ctx context.Context, sourceID string) ([]catalog.Movie, error) {
	out, err := s.queryMovies(ctx, `SELECT `+movieCols+` FROM movies WHERE source_id=? ORDER BY name`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("movies: %w", err)
	}
	return out, nil
}

// AllMovies returns every movie across sources (merged-view input).
func (s *Store) AllMovies(ctx context.Context) ([]catalog.Movie, error) {
	out, err := s.queryMovies(ctx, `SELECT `+movieCols+` FROM movies ORDER BY source_id, name`)
	if err != nil {
		return nil, fmt.Errorf("all movies: %w", err)
	}
	return out, nil
}

// Series returns all series for one source.
func (s *Store) Series(ctx context.Context, sourceID string) ([]catalog.Series, error) {
	out, err := s.querySeries(ctx, `SELECT `+seriesCols+` FROM series WHERE source_id=? ORDER BY name`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	return out, nil
}

// AllSeries returns every series across sources (merged-view input).
func (s *Store) AllSeries(ctx context.Context) ([]catalog.Series, error) {
	out, err := s.querySeries(ctx, `SELECT `+seriesCols+` FROM series ORDER BY source_id, name`)
	if err != nil {
		return nil, fmt.Errorf("all series: %w", err)
	}
	return out, nil
}

// EpisodesForSeries returns one series' episodes ordered by season/episode.
func (s *Store) EpisodesForSeries(ctx context.Context, sourceID, seriesID string) ([]catalog.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, series_id, season_num, episode_num, title, direct_url
		 FROM episodes WHERE source_id=? AND series_id=? ORDER BY season_num, episode_num`,
		sourceID, seriesID)
	if err != nil {
		return nil, fmt.Errorf("episodes: %w", err)
	}
	defer rows.Close()
	var out []catalog.Episode
	for rows.Next() {
		var ep catalog.Episode
		if err := rows.Scan(&ep.ID, &ep.SourceID, &ep.SeriesID, &ep.SeasonNum,
			&ep.EpisodeNum, &ep.Title, &ep.DirectURL); err != nil {
			return nil, fmt.Errorf("episodes: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// CountRowsForSource returns the total rows referencing a source across all
// entity tables. Zero after a cascade delete; used by tests and the status
// endpoint.
func (s *Store) CountRowsForSource(ctx context.Context, sourceID string) (int, error) {
	total := 0
	for _, table := range []string{"channels", "categories", "programs", "movies", "series", "episodes", "source_meta"} {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+table+` WHERE source_id=?`, sourceID).Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}
