// Package enrich matches VOD titles against the external catalog's bulk
// export datasets, entirely offline after the daily download: no per-title
// API calls, one in-memory index lookup per record. Matching is incremental
// and terminal per record; a row is attempted once and the outcome stamped,
// so repeated runs converge to a no-op.
package enrich

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/tvmux/tvmux/internal/guard"
	"github.com/tvmux/tvmux/internal/metrics"
	"github.com/tvmux/tvmux/internal/store"
)

const defaultBatchSize = 500

// Engine owns the dataset cache and the in-memory title indexes, and applies
// match results in guarded batches. Activity is a counter, not a flag: movie
// and series sub-tasks for several sources can overlap, and Active stays true
// until every one of them has finished.
type Engine struct {
	store     *store.Store
	guard     *guard.Guard
	datasets  *DatasetCache
	batchSize int

	active atomic.Int64

	mu           chan struct{} // binary semaphore guarding the index fields
	movieIdx     *Index
	seriesIdx    *Index
	movieLoaded  time.Time
	seriesLoaded time.Time
}

func NewEngine(st *store.Store, g *guard.Guard, datasets *DatasetCache, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	e := &Engine{
		store:     st,
		guard:     g,
		datasets:  datasets,
		batchSize: batchSize,
		mu:        make(chan struct{}, 1),
	}
	e.mu <- struct{}{}
	return e
}

// Active reports whether any enrichment sub-task is still running.
func (e *Engine) Active() bool { return e.active.Load() > 0 }

// Kick starts enrichment for one source in the background, one sub-task per
// kind. Called fire-and-forget after a VOD sync; errors are logged, not
// returned, and the next sync kicks again.
func (e *Engine) Kick(sourceID string) {
	for _, kind := range []string{DatasetMovies, DatasetSeries} {
		e.active.Add(1)
		metrics.EnrichActive.Inc()
		go func(kind string) {
			defer func() {
				e.active.Add(-1)
				metrics.EnrichActive.Dec()
			}()
			if err := e.enrichKind(context.Background(), sourceID, kind); err != nil {
				log.Printf("enrich: %s %s: %v", sourceID, kind, err)
			}
		}(kind)
	}
}

// Wait blocks until every running enrichment sub-task has finished or ctx is
// canceled. One-shot commands call it before exiting so work kicked in the
// background is not lost to process exit.
func (e *Engine) Wait(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for e.Active() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// EnrichSource runs both kinds synchronously. Used by the enrich subcommand.
func (e *Engine) EnrichSource(ctx context.Context, sourceID string) error {
	e.active.Add(2)
	metrics.EnrichActive.Add(2)
	defer func() {
		e.active.Add(-2)
		metrics.EnrichActive.Sub(2)
	}()
	if err := e.enrichKind(ctx, sourceID, DatasetMovies); err != nil {
		return err
	}
	return e.enrichKind(ctx, sourceID, DatasetSeries)
}

// index returns the loaded index for a kind, reloading when the in-memory
// copy has outlived the dataset TTL. Loading is serialized so concurrent
// kicks share one parse instead of racing on the same file.
func (e *Engine) index(ctx context.Context, kind string) (*Index, error) {
	select {
	case <-e.mu:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.mu <- struct{}{} }()

	idx, loaded := e.movieIdx, e.movieLoaded
	if kind == DatasetSeries {
		idx, loaded = e.seriesIdx, e.seriesLoaded
	}
	if idx != nil && time.Since(loaded) < e.datasets.TTL {
		return idx, nil
	}
	idx, err := e.datasets.Load(ctx, kind)
	if err != nil {
		return nil, err
	}
	log.Printf("enrich: loaded %s dataset, %d distinct titles", kind, idx.Len())
	if kind == DatasetSeries {
		e.seriesIdx, e.seriesLoaded = idx, time.Now()
	} else {
		e.movieIdx, e.movieLoaded = idx, time.Now()
	}
	return idx, nil
}

func (e *Engine) enrichKind(ctx context.Context, sourceID, kind string) error {
	if e.guard.Deleted(sourceID) {
		return nil
	}
	idx, err := e.index(ctx, kind)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	matched, attempted := 0, 0
	for {
		var results []store.MatchResult
		var batchLen int
		if kind == DatasetMovies {
			batch, err := e.store.MoviesNeedingMatch(ctx, sourceID, e.batchSize)
			if err != nil {
				return err
			}
			batchLen = len(batch)
			for _, m := range batch {
				title, year := movieKey(m)
				results = append(results, matchOne(idx, m.StreamID, title, year, "movie"))
			}
		} else {
			batch, err := e.store.SeriesNeedingMatch(ctx, sourceID, e.batchSize)
			if err != nil {
				return err
			}
			batchLen = len(batch)
			for _, s := range batch {
				title, year := seriesKey(s)
				results = append(results, matchOne(idx, s.SeriesID, title, year, "series"))
			}
		}
		if batchLen == 0 {
			break
		}
		for _, r := range results {
			attempted++
			if r.CatalogID != 0 {
				matched++
			}
		}
		apply := e.store.ApplyMovieMatches
		if kind == DatasetSeries {
			apply = e.store.ApplySeriesMatches
		}
		committed, err := apply(ctx, sourceID, results, time.Now(), e.guard.Allow(sourceID))
		if err != nil {
			return fmt.Errorf("apply batch: %w", err)
		}
		if !committed {
			log.Printf("enrich: %s deleted mid-run, batch discarded", sourceID)
			return nil
		}
		if batchLen < e.batchSize {
			break
		}
	}
	if attempted > 0 {
		log.Printf("enrich: %s %s done, %d/%d matched", sourceID, kind, matched, attempted)
	}
	return nil
}

func matchOne(idx *Index, id, title string, year int, metricKind string) store.MatchResult {
	r := store.MatchResult{ID: id}
	if entry, ok := idx.Match(title, year); ok {
		r.CatalogID = entry.ID
		r.Popularity = entry.Popularity
		metrics.MatchTotal.WithLabelValues(metricKind, "matched").Inc()
	} else {
		metrics.MatchTotal.WithLabelValues(metricKind, "unmatched").Inc()
	}
	return r
}
