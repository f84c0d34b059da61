package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
)

// MatchResult is one enrichment outcome for a movie or series row.
// CatalogID 0 means the matcher gave up on this title; the row still gets its
// match_attempted stamp so it is never retried.
type MatchResult struct {
	ID         string // stream_id for movies, series_id for series
	CatalogID  int64
	Popularity float64
}

// MoviesNeedingMatch returns a source's movies that have never been through
// the matcher: no catalog id and no recorded attempt.
func (s *Store) MoviesNeedingMatch(ctx context.Context, sourceID string, limit int) ([]catalog.Movie, error) {
	out, err := s.queryMovies(ctx,
		`SELECT `+movieCols+` FROM movies
		 WHERE source_id=? AND catalog_id=0 AND match_attempted=0
		 ORDER BY stream_id LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("movies needing match: %w", err)
	}
	return out, nil
}

// SeriesNeedingMatch is the series counterpart of MoviesNeedingMatch.
func (s *Store) SeriesNeedingMatch(ctx context.Context, sourceID string, limit int) ([]catalog.Series, error) {
	out, err := s.querySeries(ctx,
		`SELECT `+seriesCols+` FROM series
		 WHERE source_id=? AND catalog_id=0 AND match_attempted=0
		 ORDER BY series_id LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("series needing match: %w", err)
	}
	return out, nil
}

// ApplyMovieMatches writes one batch of match outcomes in a single
// transaction. match_attempted is only ever set, never cleared, so the
// operation is idempotent and monotonic. The allow callback is the
// deletion-guard hook, consulted immediately before commit.
func (s *Store) ApplyMovieMatches(ctx context.Context, sourceID string, results []MatchResult, attemptedAt time.Time, allow func() bool) (bool, error) {
	return s.applyMatches(ctx, sourceID, results, attemptedAt, allow,
		`UPDATE movies SET catalog_id=?, catalog_popularity=?, match_attempted=?
		 WHERE source_id=? AND stream_id=? AND match_attempted=0`)
}

// ApplySeriesMatches is the series counterpart of ApplyMovieMatches.
func (s *Store) ApplySeriesMatches(ctx context.Context, sourceID string, results []MatchResult, attemptedAt time.Time, allow func() bool) (bool, error) {
	return s.applyMatches(ctx, sourceID, results, attemptedAt, allow,
		`UPDATE series SET catalog_id=?, catalog_popularity=?, match_attempted=?
		 WHERE source_id=? AND series_id=? AND match_attempted=0`)
}

func (s *Store) applyMatches(ctx context.Context, sourceID string, results []MatchResult, attemptedAt time.Time, allow func() bool, query string) (bool, error) {
	if len(results) == 0 {
		return true, nil
	}
	return s.withTx(ctx, allow, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range results {
			if _, err := stmt.ExecContext(ctx, r.CatalogID, r.Popularity,
				attemptedAt.Unix(), sourceID, r.ID); err != nil {
				return fmt.Errorf("apply match %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// MatchStats reports how much of the VOD catalog has been resolved, for the
// status endpoint.
type MatchStats struct {
	MoviesTotal   int `json:"movies_total"`
	MoviesMatched int `json:"movies_matched"`
	SeriesTotal   int `json:"series_total"`
	SeriesMatched int `json:"series_matched"`
}

func (s *Store) MatchStats(ctx context.Context) (MatchStats, error) {
	var st MatchStats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM movies),
		(SELECT COUNT(*) FROM movies WHERE catalog_id != 0),
		(SELECT COUNT(*) FROM series),
		(SELECT COUNT(*) FROM series WHERE catalog_id != 0)`)
	if err := row.Scan(&st.MoviesTotal, &st.MoviesMatched, &st.SeriesTotal, &st.SeriesMatched); err != nil {
		return st, fmt.Errorf("match stats: %w", err)
	}
	return st, nil
}
