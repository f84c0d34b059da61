// Package webui is the read-only HTTP surface: per-source sync status and the
// merged cross-source catalog as JSON, a liveness probe, and the prometheus
// registry. It never mutates the store; writes only happen through the CLI and
// the sync scheduler.
package webui

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/prefs"
	"github.com/tvmux/tvmux/internal/store"
)

// ActivityReporter is the slice of the enrichment engine the status page
// needs.
type ActivityReporter interface {
	Active() bool
}

type Server struct {
	store    *store.Store
	enricher ActivityReporter
}

func New(st *store.Store, enricher ActivityReporter) *Server {
	return &Server{store: st, enricher: enricher}
}

type sourceStatus struct {
	catalog.Source
	catalog.SourceMeta
}

type statusPayload struct {
	GeneratedAt    time.Time        `json:"generated_at"`
	Sources        []sourceStatus   `json:"sources"`
	Match          store.MatchStats `json:"match"`
	EnrichmentBusy bool             `json:"enrichment_busy"`
	PreferenceLive []string         `json:"preference_live,omitempty"`
	PreferenceVOD  []string         `json:"preference_vod,omitempty"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status.json", s.handleStatus)
	mux.HandleFunc("/catalog.json", s.handleCatalog)
	mux.HandleFunc("/lineup.json", s.handleLineup)
	mux.HandleFunc("/epg.json", s.handleEPG)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sources, err := s.store.ListSources(ctx, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metas, err := s.store.ListMeta(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	byID := make(map[string]catalog.SourceMeta, len(metas))
	for _, m := range metas {
		byID[m.SourceID] = m
	}
	payload := statusPayload{GeneratedAt: time.Now().UTC()}
	for _, src := range sources {
		meta := byID[src.ID]
		meta.SourceID = src.ID // never-synced sources have no meta row yet
		src.Password = ""      // credentials never leave the process
		payload.Sources = append(payload.Sources, sourceStatus{Source: src, SourceMeta: meta})
	}
	if payload.Match, err = s.store.MatchStats(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.enricher != nil {
		payload.EnrichmentBusy = s.enricher.Active()
	}
	payload.PreferenceLive, _ = s.store.PreferenceOrder(ctx, catalog.ClassLive)
	payload.PreferenceVOD, _ = s.store.PreferenceOrder(ctx, catalog.ClassVOD)

	writeJSON(w, payload)
}

type seriesView struct {
	prefs.SeriesGroup
	Episodes []catalog.Episode `json:"episodes,omitempty"`
}

type catalogPayload struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Movies      []prefs.MovieGroup `json:"movies"`
	Series      []seriesView       `json:"series"`
}

// handleCatalog serves the merged cross-source VOD view: one entry per
// resolved catalog id with the preferred source's record and every source's
// stream URLs, unresolved rows passing through as singleton groups.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resolver, err := prefs.Load(ctx, s.store, catalog.ClassVOD)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	movies, err := s.store.AllMovies(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	series, err := s.store.AllSeries(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload := catalogPayload{
		GeneratedAt: time.Now().UTC(),
		Movies:      resolver.GroupMovies(movies),
	}
	for _, g := range resolver.GroupSeries(series) {
		bySource := make(map[string][]catalog.Episode, len(g.Members))
		for _, member := range g.Members {
			eps, err := s.store.EpisodesForSeries(ctx, member.SourceID, member.SeriesID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			bySource[member.SourceID] = eps
		}
		payload.Series = append(payload.Series, seriesView{
			SeriesGroup: g,
			Episodes:    resolver.MergeEpisodes(bySource),
		})
	}
	writeJSON(w, payload)
}

// handleLineup serves one source's live channel list.
func (s *Server) handleLineup(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source")
	if sourceID == "" {
		http.Error(w, "missing source parameter", http.StatusBadRequest)
		return
	}
	channels, err := s.store.Channels(r.Context(), sourceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		SourceID string            `json:"source_id"`
		Channels []catalog.Channel `json:"channels"`
	}{sourceID, channels})
}

// handleEPG serves the guide window for one channel, default the next 12
// hours from now.
func (s *Server) handleEPG(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sourceID, streamID := q.Get("source"), q.Get("stream")
	if sourceID == "" || streamID == "" {
		http.Error(w, "missing source or stream parameter", http.StatusBadRequest)
		return
	}
	hours := 12
	if h, err := strconv.Atoi(q.Get("hours")); err == nil && h > 0 {
		hours = h
	}
	from := time.Now()
	programs, err := s.store.ProgramsForStream(r.Context(), sourceID, streamID,
		from, from.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		StreamID string            `json:"stream_id"`
		Programs []catalog.Program `json:"programs"`
	}{streamID, programs})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		log.Printf("webui: encode response: %v", err)
	}
}

// ListenAndServe runs the status listener until ctx is canceled. The listener
// is capped at maxConns concurrent connections; the status page is cheap but
// the process's file descriptors are shared with provider fetches.
func (s *Server) ListenAndServe(ctx context.Context, addr string, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("webui: listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
