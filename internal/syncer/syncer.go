// Package syncer drives the per-source refresh cycle: staleness checks, the
// safe-update protocol against flaky providers, EPG mapping, and the VOD
// upsert with enrichment carry-forward. A sync either lands atomically or
// leaves the stored catalog exactly as it was, with the failure recorded in
// source_meta for the status surface.
package syncer

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/guard"
	"github.com/tvmux/tvmux/internal/metrics"
	"github.com/tvmux/tvmux/internal/provider"
	"github.com/tvmux/tvmux/internal/store"
)

// Config holds the two refresh thresholds and the enrichment toggle.
type Config struct {
	LiveRefresh   time.Duration
	VODRefresh    time.Duration
	EnrichEnabled bool
}

// Enricher is the hook kicked fire-and-forget after a successful VOD sync.
type Enricher interface {
	Kick(sourceID string)
}

// Orchestrator coordinates syncs. At most one sync runs per source at a time;
// different sources run concurrently.
type Orchestrator struct {
	store    *store.Store
	guard    *guard.Guard
	cfg      Config
	enricher Enricher

	// clientFor and now are swappable for tests.
	clientFor func(catalog.Source) provider.Client
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(st *store.Store, g *guard.Guard, cfg Config, enricher Enricher, httpClient *http.Client) *Orchestrator {
	return &Orchestrator{
		store:    st,
		guard:    g,
		cfg:      cfg,
		enricher: enricher,
		clientFor: func(src catalog.Source) provider.Client {
			return provider.New(src, httpClient)
		},
		now:      time.Now,
		inFlight: make(map[string]bool),
	}
}

func (o *Orchestrator) begin(sourceID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[sourceID] {
		return false
	}
	o.inFlight[sourceID] = true
	return true
}

func (o *Orchestrator) end(sourceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sourceID)
}

// SyncAllEnabled checks every enabled source against its thresholds and syncs
// the stale classes, one goroutine per source. Per-source errors are recorded
// and logged, never returned; the scheduler must outlive bad providers.
func (o *Orchestrator) SyncAllEnabled(ctx context.Context) {
	sources, err := o.store.ListSources(ctx, true)
	if err != nil {
		log.Printf("sync: list sources: %v", err)
		return
	}
	var wg sync.WaitGroup
	for _, src := range sources {
		meta, err := o.store.Meta(ctx, src.ID)
		if err != nil {
			log.Printf("sync: meta %s: %v", src.ID, err)
			continue
		}
		now := o.now()
		live := IsStale(meta.LastSynced, o.cfg.LiveRefresh, now)
		vod := IsStale(meta.VODLastSynced, o.cfg.VODRefresh, now)
		if !live && !vod {
			continue
		}
		wg.Add(1)
		go func(src catalog.Source, live, vod bool) {
			defer wg.Done()
			if !o.begin(src.ID) {
				log.Printf("sync: %s already in flight, skipping", src.ID)
				return
			}
			defer o.end(src.ID)
			if live {
				if err := o.syncLive(ctx, src); err != nil {
					log.Printf("sync: %s live: %v", src.ID, err)
				}
			}
			if vod {
				if err := o.syncVOD(ctx, src); err != nil {
					log.Printf("sync: %s vod: %v", src.ID, err)
				}
			}
		}(src, live, vod)
	}
	wg.Wait()
}

// SyncSource runs one full live sync (channels, categories, then EPG) for a
// source regardless of staleness. Used by manual sync.
func (o *Orchestrator) SyncSource(ctx context.Context, src catalog.Source) error {
	if !o.begin(src.ID) {
		return fmt.Errorf("sync: source %s already in flight", src.ID)
	}
	defer o.end(src.ID)
	return o.syncLive(ctx, src)
}

// SyncVOD runs one VOD sync for a source regardless of staleness.
func (o *Orchestrator) SyncVOD(ctx context.Context, src catalog.Source) error {
	if !o.begin(src.ID) {
		return fmt.Errorf("sync: source %s already in flight", src.ID)
	}
	defer o.end(src.ID)
	return o.syncVOD(ctx, src)
}

// SyncEPG refreshes only the guide for a source (channels untouched).
func (o *Orchestrator) SyncEPG(ctx context.Context, src catalog.Source) error {
	if !o.begin(src.ID) {
		return fmt.Errorf("sync: source %s already in flight", src.ID)
	}
	defer o.end(src.ID)
	return o.syncEPG(ctx, o.clientFor(src), src)
}

// MarkSourceDeleted removes a source: the id goes on the deletion guard
// first, so a sync that is mid-fetch rolls back at commit time instead of
// re-inserting rows, then every table's rows cascade-delete in one
// transaction.
func (o *Orchestrator) MarkSourceDeleted(ctx context.Context, id string) error {
	o.guard.MarkDeleted(id)
	log.Printf("guard: source %s marked deleted", id)
	if err := o.store.DeleteSourceCascade(ctx, id); err != nil {
		return err
	}
	// Re-arm so the veto window runs from cascade completion, not from the
	// moment deletion was requested.
	o.guard.MarkDeleted(id)
	return nil
}

// syncLive applies the safe-update protocol for the live class:
// fetch everything first, treat a failed fetch as record-and-bail, treat an
// empty fetch against a non-empty store as a provider glitch, and otherwise
// replace atomically with the deletion guard consulted before commit.
func (o *Orchestrator) syncLive(ctx context.Context, src catalog.Source) error {
	defer func(start time.Time) {
		metrics.SyncDuration.WithLabelValues("live").Observe(time.Since(start).Seconds())
	}(time.Now())
	client := o.clientFor(src)

	channels, err := client.FetchChannels(ctx)
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassLive, fmt.Errorf("fetch channels: %w", err))
	}
	categories, err := client.FetchCategories(ctx)
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassLive, fmt.Errorf("fetch categories: %w", err))
	}

	if len(channels) == 0 {
		stored, err := o.store.ChannelCount(ctx, src.ID)
		if err != nil {
			return err
		}
		if stored > 0 {
			log.Printf("sync: %s returned 0 channels, keeping %d stored", src.ID, stored)
			metrics.SyncTotal.WithLabelValues("live", "empty_noop").Inc()
			return nil
		}
	}

	committed, err := o.store.ReplaceLive(ctx, src.ID, channels, categories, o.now(), o.guard.Allow(src.ID))
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassLive, err)
	}
	if !committed {
		log.Printf("sync: %s deleted mid-sync, live result discarded", src.ID)
		metrics.SyncTotal.WithLabelValues("live", "discarded").Inc()
		return nil
	}
	log.Printf("sync: %s live ok, %d channels %d categories", src.ID, len(channels), len(categories))
	metrics.SyncTotal.WithLabelValues("live", "ok").Inc()

	return o.syncEPG(ctx, client, src)
}

func (o *Orchestrator) syncEPG(ctx context.Context, client provider.Client, src catalog.Source) error {
	raw, err := client.FetchEPG(ctx)
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassLive, fmt.Errorf("fetch epg: %w", err))
	}
	if raw == nil {
		return nil // dialect has no guide for this source
	}
	mapping, err := o.store.EPGChannelMap(ctx, src.ID)
	if err != nil {
		return err
	}
	programs := mapPrograms(src.ID, raw, mapping)
	if len(programs) == 0 {
		stored, err := o.store.ProgramCount(ctx, src.ID)
		if err != nil {
			return err
		}
		if stored > 0 {
			log.Printf("sync: %s mapped 0 of %d guide entries, keeping %d stored", src.ID, len(raw), stored)
			return nil
		}
	}
	committed, err := o.store.ReplacePrograms(ctx, src.ID, programs, o.guard.Allow(src.ID))
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassLive, err)
	}
	if !committed {
		log.Printf("sync: %s deleted mid-sync, epg result discarded", src.ID)
		return nil
	}
	log.Printf("sync: %s epg ok, %d programs", src.ID, len(programs))
	return nil
}

// mapPrograms translates guide entries keyed by the feed's channel id into
// rows keyed by local stream id. Entries for channels this source does not
// carry are dropped, and overlaps within one stream are collapsed so the
// stored guide never has two programmes covering the same instant.
func mapPrograms(sourceID string, raw []catalog.EPGProgram, epgToStream map[string]string) []catalog.Program {
	var out []catalog.Program
	for _, p := range raw {
		streamID, ok := epgToStream[p.ChannelExternalID]
		if !ok {
			continue
		}
		out = append(out, catalog.Program{
			ID:          streamID + "-" + strconv.FormatInt(p.Start.Unix(), 10),
			SourceID:    sourceID,
			StreamID:    streamID,
			Title:       p.Title,
			Description: p.Description,
			Start:       p.Start,
			End:         p.End,
		})
	}
	return dropOverlaps(out)
}

// dropOverlaps sorts each stream's entries by start and keeps the
// earliest-starting programme of any overlapping pair; entries sharing a
// start collapse to the last one fetched, matching the replace upsert.
// Upstream guides do ship overlapping programmes, and relying on the
// (stream, start) key alone would let two entries cover the same instant.
func dropOverlaps(programs []catalog.Program) []catalog.Program {
	sort.SliceStable(programs, func(i, j int) bool {
		a, b := programs[i], programs[j]
		if a.StreamID != b.StreamID {
			return a.StreamID < b.StreamID
		}
		return a.Start.Before(b.Start)
	})
	out := programs[:0]
	for _, p := range programs {
		if n := len(out); n > 0 && out[n-1].StreamID == p.StreamID {
			if p.Start.Equal(out[n-1].Start) {
				out[n-1] = p
				continue
			}
			if p.Start.Before(out[n-1].End) {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func (o *Orchestrator) syncVOD(ctx context.Context, src catalog.Source) error {
	defer func(start time.Time) {
		metrics.SyncDuration.WithLabelValues("vod").Observe(time.Since(start).Seconds())
	}(time.Now())
	client := o.clientFor(src)

	movies, err := client.FetchMovies(ctx)
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassVOD, fmt.Errorf("fetch movies: %w", err))
	}
	series, err := client.FetchSeries(ctx)
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassVOD, fmt.Errorf("fetch series: %w", err))
	}
	categories, err := client.FetchVODCategories(ctx)
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassVOD, fmt.Errorf("fetch vod categories: %w", err))
	}

	meta, err := o.store.Meta(ctx, src.ID)
	if err != nil {
		return err
	}
	if len(movies) == 0 && len(series) == 0 && (meta.VODMovieCount > 0 || meta.VODSeriesCount > 0) {
		log.Printf("sync: %s returned empty vod catalog, keeping %d movies %d series",
			src.ID, meta.VODMovieCount, meta.VODSeriesCount)
		metrics.SyncTotal.WithLabelValues("vod", "empty_noop").Inc()
		return nil
	}

	// Episode walk happens after the list fetches succeed; a single bad
	// series_info response should not void the whole catalog, so failures
	// here drop that series' episodes and keep going.
	var episodes []catalog.Episode
	for _, sr := range series {
		eps, err := client.FetchSeriesEpisodes(ctx, sr.SeriesID)
		if err != nil {
			log.Printf("sync: %s series %s episodes: %v", src.ID, sr.SeriesID, err)
			continue
		}
		episodes = append(episodes, eps...)
	}

	committed, err := o.store.UpsertVOD(ctx, src.ID, movies, series, episodes, categories, o.now(), o.guard.Allow(src.ID))
	if err != nil {
		return o.recordError(ctx, src.ID, catalog.ClassVOD, err)
	}
	if !committed {
		log.Printf("sync: %s deleted mid-sync, vod result discarded", src.ID)
		metrics.SyncTotal.WithLabelValues("vod", "discarded").Inc()
		return nil
	}
	log.Printf("sync: %s vod ok, %d movies %d series %d episodes",
		src.ID, len(movies), len(series), len(episodes))
	metrics.SyncTotal.WithLabelValues("vod", "ok").Inc()

	if o.cfg.EnrichEnabled && o.enricher != nil {
		o.enricher.Kick(src.ID)
	}
	return nil
}

// recordError stores the failure in the class's error column without touching
// catalog rows or the last-synced stamps, then returns it.
func (o *Orchestrator) recordError(ctx context.Context, sourceID string, class catalog.ContentClass, cause error) error {
	if err := o.store.SetSyncError(ctx, sourceID, class, cause.Error()); err != nil {
		log.Printf("sync: record error for %s: %v", sourceID, err)
	}
	metrics.SyncTotal.WithLabelValues(string(class), "error").Inc()
	return cause
}
