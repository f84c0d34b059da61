package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/store"
)

type busyReporter bool

func (b busyReporter) Active() bool { return bool(b) }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, busyReporter(true)), st
}

func TestStatusJSON(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	src := catalog.Source{
		ID: "a", Name: "Provider A", Type: catalog.SourceXtream,
		URL: "http://x", Username: "user", Password: "hunter2", Enabled: true,
	}
	if err := st.AddSource(ctx, &src); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.ReplaceLive(ctx, "a",
		[]catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "u"}}, nil, time.Now(), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatal("password leaked into status payload")
	}
	var payload struct {
		Sources []struct {
			ID           string `json:"id"`
			ChannelCount int    `json:"channel_count"`
			Error        string `json:"error,omitempty"`
		} `json:"sources"`
		EnrichmentBusy bool `json:"enrichment_busy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Sources) != 1 || payload.Sources[0].ID != "a" || payload.Sources[0].ChannelCount != 1 {
		t.Fatalf("payload: %+v", payload)
	}
	if !payload.EnrichmentBusy {
		t.Fatal("enrichment activity not surfaced")
	}
}

func TestCatalogJSONMergesAcrossSources(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		src := catalog.Source{ID: id, Name: id, Type: catalog.SourceXtream, URL: "http://" + id, Enabled: true}
		if err := st.AddSource(ctx, &src); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	now := time.Now()
	if _, err := st.UpsertVOD(ctx, "a",
		[]catalog.Movie{{StreamID: "m1", SourceID: "a", Name: "Heat", DirectURL: "http://a/m1", CatalogID: 949}},
		[]catalog.Series{{SeriesID: "s1", SourceID: "a", Name: "Breaking Bad", CatalogID: 1396}},
		[]catalog.Episode{{ID: "e1", SourceID: "a", SeriesID: "s1", SeasonNum: 1, EpisodeNum: 1, DirectURL: "http://a/e1"}},
		nil, now, nil); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if _, err := st.UpsertVOD(ctx, "b",
		[]catalog.Movie{{StreamID: "m9", SourceID: "b", Name: "Heat 1995", DirectURL: "http://b/m9", CatalogID: 949}},
		[]catalog.Series{{SeriesID: "s9", SourceID: "b", Name: "Breaking Bad", CatalogID: 1396}},
		[]catalog.Episode{{ID: "e9", SourceID: "b", SeriesID: "s9", SeasonNum: 2, EpisodeNum: 1, DirectURL: "http://b/e9"}},
		nil, now, nil); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Movies []struct {
			CatalogID int64 `json:"catalog_id"`
			Streams   []struct {
				SourceID string `json:"source_id"`
			} `json:"streams"`
		} `json:"movies"`
		Series []struct {
			CatalogID int64 `json:"catalog_id"`
			Episodes  []struct {
				SourceID  string `json:"source_id"`
				SeasonNum int    `json:"season_num"`
			} `json:"episodes"`
		} `json:"series"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Movies) != 1 || payload.Movies[0].CatalogID != 949 || len(payload.Movies[0].Streams) != 2 {
		t.Fatalf("movie groups: %+v", payload.Movies)
	}
	if len(payload.Series) != 1 || len(payload.Series[0].Episodes) != 2 {
		t.Fatalf("series groups: %+v", payload.Series)
	}
	if payload.Series[0].Episodes[1].SourceID != "b" || payload.Series[0].Episodes[1].SeasonNum != 2 {
		t.Fatalf("season 2 must come from the only source carrying it: %+v", payload.Series[0].Episodes)
	}
}

func TestLineupAndEPG(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	src := catalog.Source{ID: "a", Name: "A", Type: catalog.SourceXtream, URL: "http://x", Enabled: true}
	if err := st.AddSource(ctx, &src); err != nil {
		t.Fatalf("add: %v", err)
	}
	now := time.Now()
	if _, err := st.ReplaceLive(ctx, "a",
		[]catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "u"}}, nil, now, nil); err != nil {
		t.Fatalf("seed channels: %v", err)
	}
	if _, err := st.ReplacePrograms(ctx, "a", []catalog.Program{
		{ID: "p1", StreamID: "1", Title: "News", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
	}, nil); err != nil {
		t.Fatalf("seed programs: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lineup.json?source=a", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"One"`) {
		t.Fatalf("lineup: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/epg.json?source=a&stream=1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"News"`) {
		t.Fatalf("epg: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lineup.json", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("lineup without source: status=%d", rec.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status=%d", path, rec.Code)
		}
	}
}
