package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/guard"
	"github.com/tvmux/tvmux/internal/provider"
	"github.com/tvmux/tvmux/internal/store"
)

func TestIsStale(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cases := []struct {
		name       string
		lastSynced time.Time
		threshold  time.Duration
		want       bool
	}{
		{"zero threshold is manual only", now.Add(-100 * time.Hour), 0, false},
		{"never synced", time.Time{}, time.Hour, true},
		{"fresh", now.Add(-30 * time.Minute), time.Hour, false},
		{"exactly at threshold", now.Add(-time.Hour), time.Hour, false},
		{"past threshold", now.Add(-61 * time.Minute), time.Hour, true},
	}
	for _, tc := range cases {
		if got := IsStale(tc.lastSynced, tc.threshold, now); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

type fakeClient struct {
	channels   []catalog.Channel
	categories []catalog.Category
	chanErr    error
	epg        []catalog.EPGProgram
	epgErr     error
	movies     []catalog.Movie
	series     []catalog.Series
	episodes   map[string][]catalog.Episode
	movieErr   error
}

func (f *fakeClient) FetchChannels(context.Context) ([]catalog.Channel, error) {
	return f.channels, f.chanErr
}
func (f *fakeClient) FetchCategories(context.Context) ([]catalog.Category, error) {
	return f.categories, nil
}
func (f *fakeClient) FetchVODCategories(context.Context) ([]catalog.Category, error) {
	return nil, nil
}
func (f *fakeClient) FetchMovies(context.Context) ([]catalog.Movie, error) {
	return f.movies, f.movieErr
}
func (f *fakeClient) FetchSeries(context.Context) ([]catalog.Series, error) {
	return f.series, nil
}
func (f *fakeClient) FetchSeriesEpisodes(_ context.Context, seriesID string) ([]catalog.Episode, error) {
	return f.episodes[seriesID], nil
}
func (f *fakeClient) FetchEPG(context.Context) ([]catalog.EPGProgram, error) {
	return f.epg, f.epgErr
}

func newTestOrchestrator(t *testing.T, fake *fakeClient) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	o := New(st, guard.New(0), Config{LiveRefresh: time.Hour, VODRefresh: time.Hour}, nil, nil)
	o.clientFor = func(catalog.Source) provider.Client { return fake }
	return o, st
}

func seedSource(t *testing.T, st *store.Store, id string) catalog.Source {
	t.Helper()
	src := catalog.Source{ID: id, Name: id, Type: catalog.SourceXtream, URL: "http://x", Enabled: true}
	if err := st.AddSource(context.Background(), &src); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return src
}

func TestSyncLiveStoresChannelsAndMappedEPG(t *testing.T) {
	start := time.Unix(1760000000, 0).UTC()
	fake := &fakeClient{
		channels: []catalog.Channel{
			{StreamID: "1", Name: "One", DirectURL: "u1", EPGChannelID: "one.tv"},
			{StreamID: "2", Name: "Two", DirectURL: "u2"},
		},
		categories: []catalog.Category{{CategoryID: "c", Name: "News", Kind: catalog.CategoryLive}},
		epg: []catalog.EPGProgram{
			{ChannelExternalID: "one.tv", Title: "Show", Start: start, End: start.Add(time.Hour)},
			{ChannelExternalID: "unknown.tv", Title: "Dropped", Start: start, End: start.Add(time.Hour)},
		},
	}
	o, st := newTestOrchestrator(t, fake)
	ctx := context.Background()
	src := seedSource(t, st, "a")

	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n, _ := st.ChannelCount(ctx, "a"); n != 2 {
		t.Fatalf("channels=%d want 2", n)
	}
	m, _ := st.Meta(ctx, "a")
	if m.ChannelCount != 2 || m.Error != "" || m.LastSynced.IsZero() {
		t.Fatalf("meta: %+v", m)
	}
	progs, err := st.ProgramsForStream(ctx, "a", "1", start.Add(-time.Hour), start.Add(2*time.Hour))
	if err != nil || len(progs) != 1 || progs[0].Title != "Show" {
		t.Fatalf("mapped programs: %+v err=%v", progs, err)
	}
	if n, _ := st.ProgramCount(ctx, "a"); n != 1 {
		t.Fatalf("unmapped guide entry stored, count=%d", n)
	}
}

func TestSyncLiveFetchErrorKeepsRowsAndRecords(t *testing.T) {
	fake := &fakeClient{channels: []catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "u"}}}
	o, st := newTestOrchestrator(t, fake)
	ctx := context.Background()
	src := seedSource(t, st, "a")
	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	before, _ := st.Meta(ctx, "a")

	fake.chanErr = errors.New("connection refused")
	if err := o.SyncSource(ctx, src); err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if n, _ := st.ChannelCount(ctx, "a"); n != 1 {
		t.Fatalf("rows touched on failed fetch: %d", n)
	}
	after, _ := st.Meta(ctx, "a")
	if after.Error == "" {
		t.Fatal("error not recorded")
	}
	if !after.LastSynced.Equal(before.LastSynced) {
		t.Fatal("last_synced advanced on failure")
	}
}

func TestSyncLiveEmptyFetchAgainstNonEmptyStoreIsNoop(t *testing.T) {
	fake := &fakeClient{channels: []catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "u"}}}
	o, st := newTestOrchestrator(t, fake)
	ctx := context.Background()
	src := seedSource(t, st, "a")
	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	before, _ := st.Meta(ctx, "a")

	fake.channels = nil
	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("empty sync must not error: %v", err)
	}
	if n, _ := st.ChannelCount(ctx, "a"); n != 1 {
		t.Fatalf("empty fetch wiped rows: %d", n)
	}
	after, _ := st.Meta(ctx, "a")
	if !after.LastSynced.Equal(before.LastSynced) {
		t.Fatal("last_synced advanced on empty-fetch no-op")
	}
}

func TestSyncEPGCollapsesOverlappingGuideEntries(t *testing.T) {
	start := time.Unix(1760000000, 0).UTC()
	fake := &fakeClient{
		channels: []catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "u", EPGChannelID: "one.tv"}},
		epg: []catalog.EPGProgram{
			{ChannelExternalID: "one.tv", Title: "A", Start: start, End: start.Add(time.Hour)},
			// Starts inside A's range; must not be stored alongside it.
			{ChannelExternalID: "one.tv", Title: "B", Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)},
			{ChannelExternalID: "one.tv", Title: "C", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
		},
	}
	o, st := newTestOrchestrator(t, fake)
	ctx := context.Background()
	src := seedSource(t, st, "a")
	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("sync: %v", err)
	}

	progs, err := st.ProgramsForStream(ctx, "a", "1", start.Add(-time.Hour), start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("programs: %v", err)
	}
	if len(progs) != 2 || progs[0].Title != "A" || progs[1].Title != "C" {
		t.Fatalf("overlap not collapsed: %+v", progs)
	}
	for i := 1; i < len(progs); i++ {
		if progs[i].Start.Before(progs[i-1].End) {
			t.Fatalf("stored programmes overlap: %+v", progs)
		}
	}
}

func TestDropOverlapsSameStartLastWriterWins(t *testing.T) {
	start := time.Unix(1760000000, 0).UTC()
	got := dropOverlaps([]catalog.Program{
		{StreamID: "1", Title: "stale", Start: start, End: start.Add(time.Hour)},
		{StreamID: "1", Title: "corrected", Start: start, End: start.Add(30 * time.Minute)},
		{StreamID: "2", Title: "other channel", Start: start, End: start.Add(time.Hour)},
	})
	if len(got) != 2 {
		t.Fatalf("got %d programs: %+v", len(got), got)
	}
	if got[0].Title != "corrected" || got[1].Title != "other channel" {
		t.Fatalf("same-start collision: %+v", got)
	}
}

func TestSyncEPGZeroMappedAgainstNonEmptyGuideIsNoop(t *testing.T) {
	start := time.Unix(1760000000, 0).UTC()
	fake := &fakeClient{
		channels: []catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "u", EPGChannelID: "one.tv"}},
		epg:      []catalog.EPGProgram{{ChannelExternalID: "one.tv", Title: "Show", Start: start, End: start.Add(time.Hour)}},
	}
	o, st := newTestOrchestrator(t, fake)
	ctx := context.Background()
	src := seedSource(t, st, "a")
	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	// Next guide fetch only covers channels this source does not carry.
	fake.epg = []catalog.EPGProgram{{ChannelExternalID: "other.tv", Title: "X", Start: start, End: start.Add(time.Hour)}}
	if err := o.SyncEPG(ctx, src); err != nil {
		t.Fatalf("epg sync: %v", err)
	}
	if n, _ := st.ProgramCount(ctx, "a"); n != 1 {
		t.Fatalf("guide wiped by zero-match fetch: %d", n)
	}
}

func TestDeletionRaceDiscardsLateWrite(t *testing.T) {
	fake := &fakeClient{channels: []catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "u"}}}
	o, st := newTestOrchestrator(t, fake)
	ctx := context.Background()
	src := seedSource(t, st, "a")
	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	// Delete lands while a second sync is conceptually mid-fetch; the sync's
	// commit must be vetoed by the guard.
	if err := o.MarkSourceDeleted(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := o.SyncSource(ctx, src); err != nil {
		t.Fatalf("late sync: %v", err)
	}
	n, err := st.CountRowsForSource(ctx, "a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d rows resurrected after deletion", n)
	}
}

type recordingEnricher struct{ kicked []string }

func (r *recordingEnricher) Kick(sourceID string) { r.kicked = append(r.kicked, sourceID) }

func TestSyncVODStoresCatalogAndKicksEnricher(t *testing.T) {
	fake := &fakeClient{
		movies: []catalog.Movie{{StreamID: "m1", Name: "Heat (1995)", DirectURL: "u"}},
		series: []catalog.Series{{SeriesID: "s1", Name: "Spaced"}},
		episodes: map[string][]catalog.Episode{
			"s1": {{ID: "e1", SeriesID: "s1", SeasonNum: 1, EpisodeNum: 1, DirectURL: "u"}},
		},
	}
	o, st := newTestOrchestrator(t, fake)
	enr := &recordingEnricher{}
	o.cfg.EnrichEnabled = true
	o.enricher = enr
	ctx := context.Background()
	src := seedSource(t, st, "a")

	if err := o.SyncVOD(ctx, src); err != nil {
		t.Fatalf("vod sync: %v", err)
	}
	m, _ := st.Meta(ctx, "a")
	if m.VODMovieCount != 1 || m.VODSeriesCount != 1 || m.VODError != "" {
		t.Fatalf("vod meta: %+v", m)
	}
	if eps, _ := st.EpisodesForSeries(ctx, "a", "s1"); len(eps) != 1 {
		t.Fatalf("episodes: %+v", eps)
	}
	if len(enr.kicked) != 1 || enr.kicked[0] != "a" {
		t.Fatalf("enricher kicks: %v", enr.kicked)
	}
}

func TestSyncVODEmptyFetchAgainstNonEmptyStoreIsNoop(t *testing.T) {
	fake := &fakeClient{movies: []catalog.Movie{{StreamID: "m1", Name: "Heat", DirectURL: "u"}}}
	o, st := newTestOrchestrator(t, fake)
	ctx := context.Background()
	src := seedSource(t, st, "a")
	if err := o.SyncVOD(ctx, src); err != nil {
		t.Fatalf("seed vod: %v", err)
	}

	fake.movies = nil
	if err := o.SyncVOD(ctx, src); err != nil {
		t.Fatalf("empty vod sync: %v", err)
	}
	got, _ := st.Movies(ctx, "a")
	if len(got) != 1 {
		t.Fatalf("empty vod fetch wiped movies: %+v", got)
	}
}

func TestSecondSyncForSameSourceIsRejectedWhileInFlight(t *testing.T) {
	fake := &fakeClient{}
	o, st := newTestOrchestrator(t, fake)
	src := seedSource(t, st, "a")
	if !o.begin(src.ID) {
		t.Fatal("first begin failed")
	}
	if err := o.SyncSource(context.Background(), src); err == nil {
		t.Fatal("overlapping sync for one source must be rejected")
	}
	o.end(src.ID)
	if !o.begin(src.ID) {
		t.Fatal("slot not released")
	}
}
