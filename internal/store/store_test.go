package store

import (
	"context"
	"testing"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestSource(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.AddSource(context.Background(), &catalog.Source{
		ID: id, Name: id, Type: catalog.SourceXtream, URL: "http://" + id + ".example", Enabled: true,
	})
	if err != nil {
		t.Fatalf("add source %s: %v", id, err)
	}
}

func TestSourcePositionAssignment(t *testing.T) {
	s := openTest(t)
	addTestSource(t, s, "a")
	addTestSource(t, s, "b")
	srcs, err := s.ListSources(context.Background(), false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(srcs) != 2 || srcs[0].ID != "a" || srcs[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", srcs)
	}
	if srcs[0].Position >= srcs[1].Position {
		t.Fatalf("positions not increasing: %d %d", srcs[0].Position, srcs[1].Position)
	}
}

func TestMetaZeroValuedBeforeFirstSync(t *testing.T) {
	s := openTest(t)
	m, err := s.Meta(context.Background(), "never-synced")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if !m.LastSynced.IsZero() || m.ChannelCount != 0 || m.Error != "" {
		t.Fatalf("want zero meta, got %+v", m)
	}
}

func TestReplaceLiveIdempotentResync(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	chans := []catalog.Channel{
		{StreamID: "1", Name: "One", DirectURL: "http://x/1", EPGChannelID: "one.tv"},
		{StreamID: "2", Name: "Two", DirectURL: "http://x/2"},
	}
	cats := []catalog.Category{{CategoryID: "10", Name: "News", Kind: catalog.CategoryLive}}
	now := time.Now()

	for i := 0; i < 2; i++ {
		committed, err := s.ReplaceLive(ctx, "a", chans, cats, now, nil)
		if err != nil || !committed {
			t.Fatalf("pass %d: committed=%v err=%v", i, committed, err)
		}
	}
	n, err := s.ChannelCount(ctx, "a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("channels=%d want 2 after double sync", n)
	}
	m, _ := s.Meta(ctx, "a")
	if m.ChannelCount != 2 || m.CategoryCount != 1 || m.Error != "" || m.LastSynced.IsZero() {
		t.Fatalf("meta after sync: %+v", m)
	}
}

func TestReplaceLiveAllowVetoRollsBack(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	seed := []catalog.Channel{{StreamID: "1", Name: "One", DirectURL: "http://x/1"}}
	if _, err := s.ReplaceLive(ctx, "a", seed, nil, time.Now(), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	replacement := []catalog.Channel{{StreamID: "9", Name: "Nine", DirectURL: "http://x/9"}}
	committed, err := s.ReplaceLive(ctx, "a", replacement, nil, time.Now(), func() bool { return false })
	if err != nil {
		t.Fatalf("veto replace: %v", err)
	}
	if committed {
		t.Fatal("write committed despite veto")
	}
	got, err := s.Channels(ctx, "a")
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	if len(got) != 1 || got[0].StreamID != "1" {
		t.Fatalf("rows changed under veto: %+v", got)
	}
}

func TestSetSyncErrorDoesNotAdvanceLastSynced(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	synced := time.Unix(1700000000, 0)
	if _, err := s.ReplaceLive(ctx, "a", []catalog.Channel{{StreamID: "1", DirectURL: "u"}}, nil, synced, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.SetSyncError(ctx, "a", catalog.ClassLive, "timeout"); err != nil {
		t.Fatalf("set error: %v", err)
	}
	m, _ := s.Meta(ctx, "a")
	if m.Error != "timeout" {
		t.Fatalf("error=%q want timeout", m.Error)
	}
	if !m.LastSynced.Equal(synced.UTC()) {
		t.Fatalf("last_synced moved: %v want %v", m.LastSynced, synced.UTC())
	}
	if n, _ := s.ChannelCount(ctx, "a"); n != 1 {
		t.Fatalf("channels=%d, error path must not touch rows", n)
	}
}

func TestUpsertVODCarriesEnrichmentAcrossResync(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	now := time.Now()

	movies := []catalog.Movie{{StreamID: "m1", Name: "Heat (1995)", DirectURL: "u", Plot: "crime"}}
	if _, err := s.UpsertVOD(ctx, "a", movies, nil, nil, nil, now, nil); err != nil {
		t.Fatalf("first vod sync: %v", err)
	}
	attempted := time.Unix(1700000000, 0)
	committed, err := s.ApplyMovieMatches(ctx, "a",
		[]MatchResult{{ID: "m1", CatalogID: 949, Popularity: 44.5}}, attempted, nil)
	if err != nil || !committed {
		t.Fatalf("apply match: committed=%v err=%v", committed, err)
	}

	// Resync delivers the same movie with no enrichment and no plot.
	resync := []catalog.Movie{{StreamID: "m1", Name: "Heat (1995)", DirectURL: "u2"}}
	if _, err := s.UpsertVOD(ctx, "a", resync, nil, nil, nil, now.Add(time.Hour), nil); err != nil {
		t.Fatalf("resync: %v", err)
	}
	got, err := s.Movies(ctx, "a")
	if err != nil || len(got) != 1 {
		t.Fatalf("movies: %v %v", got, err)
	}
	m := got[0]
	if m.CatalogID != 949 || m.CatalogPopularity != 44.5 {
		t.Fatalf("enrichment lost on resync: %+v", m)
	}
	if !m.MatchAttempted.Equal(attempted.UTC()) {
		t.Fatalf("match_attempted lost: %v", m.MatchAttempted)
	}
	if m.Plot != "crime" {
		t.Fatalf("plot not carried forward: %q", m.Plot)
	}
	if m.DirectURL != "u2" {
		t.Fatalf("fresh provider fields must win: %q", m.DirectURL)
	}
}

func TestUpsertVODPrunesRemovedAndCascadesEpisodes(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	now := time.Now()

	series := []catalog.Series{
		{SeriesID: "s1", Name: "Keep"},
		{SeriesID: "s2", Name: "Drop"},
	}
	eps := []catalog.Episode{
		{ID: "e1", SeriesID: "s1", SeasonNum: 1, EpisodeNum: 1, DirectURL: "u"},
		{ID: "e2", SeriesID: "s2", SeasonNum: 1, EpisodeNum: 1, DirectURL: "u"},
	}
	if _, err := s.UpsertVOD(ctx, "a", nil, series, eps, nil, now, nil); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// s2 disappears upstream along with its episodes.
	keep := []catalog.Series{{SeriesID: "s1", Name: "Keep"}}
	keepEps := []catalog.Episode{{ID: "e1", SeriesID: "s1", SeasonNum: 1, EpisodeNum: 1, DirectURL: "u"}}
	if _, err := s.UpsertVOD(ctx, "a", nil, keep, keepEps, nil, now.Add(time.Hour), nil); err != nil {
		t.Fatalf("resync: %v", err)
	}
	got, err := s.AllSeries(ctx)
	if err != nil || len(got) != 1 || got[0].SeriesID != "s1" {
		t.Fatalf("series after prune: %+v err=%v", got, err)
	}
	if eps, _ := s.EpisodesForSeries(ctx, "a", "s2"); len(eps) != 0 {
		t.Fatalf("episodes of removed series survived: %+v", eps)
	}
	if eps, _ := s.EpisodesForSeries(ctx, "a", "s1"); len(eps) != 1 {
		t.Fatalf("episodes of kept series: %+v", eps)
	}
}

func TestApplyMatchesMonotonic(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	if _, err := s.UpsertVOD(ctx, "a",
		[]catalog.Movie{{StreamID: "m1", Name: "X", DirectURL: "u"}}, nil, nil, nil, time.Now(), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	first := time.Unix(1700000000, 0)
	if _, err := s.ApplyMovieMatches(ctx, "a",
		[]MatchResult{{ID: "m1", CatalogID: 0, Popularity: 0}}, first, nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// A second pass must not overwrite the recorded attempt.
	if _, err := s.ApplyMovieMatches(ctx, "a",
		[]MatchResult{{ID: "m1", CatalogID: 777, Popularity: 9}}, first.Add(time.Hour), nil); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	got, _ := s.Movies(ctx, "a")
	if got[0].CatalogID != 0 || !got[0].MatchAttempted.Equal(first.UTC()) {
		t.Fatalf("attempt not terminal: %+v", got[0])
	}
	if rem, _ := s.MoviesNeedingMatch(ctx, "a", 100); len(rem) != 0 {
		t.Fatalf("attempted row still a candidate: %+v", rem)
	}
}

func TestDeleteSourceCascadeLeavesNoRows(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	now := time.Now()
	if _, err := s.ReplaceLive(ctx, "a",
		[]catalog.Channel{{StreamID: "1", DirectURL: "u"}},
		[]catalog.Category{{CategoryID: "c", Name: "n", Kind: catalog.CategoryLive}}, now, nil); err != nil {
		t.Fatalf("live: %v", err)
	}
	if _, err := s.ReplacePrograms(ctx, "a",
		[]catalog.Program{{ID: "1-100", StreamID: "1", Title: "t", Start: now, End: now.Add(time.Hour)}}, nil); err != nil {
		t.Fatalf("programs: %v", err)
	}
	if _, err := s.UpsertVOD(ctx, "a",
		[]catalog.Movie{{StreamID: "m", Name: "M", DirectURL: "u"}},
		[]catalog.Series{{SeriesID: "s", Name: "S"}},
		[]catalog.Episode{{ID: "e", SeriesID: "s", SeasonNum: 1, EpisodeNum: 1, DirectURL: "u"}},
		[]catalog.Category{{CategoryID: "vc", Name: "vn", Kind: catalog.CategoryMovie}}, now, nil); err != nil {
		t.Fatalf("vod: %v", err)
	}
	if err := s.SetPreferenceOrder(ctx, catalog.ClassLive, []string{"a"}); err != nil {
		t.Fatalf("prefs: %v", err)
	}

	if err := s.DeleteSourceCascade(ctx, "a"); err != nil {
		t.Fatalf("cascade: %v", err)
	}
	n, err := s.CountRowsForSource(ctx, "a")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d rows survived cascade delete", n)
	}
	if _, err := s.GetSource(ctx, "a"); err != ErrNotFound {
		t.Fatalf("source still present: %v", err)
	}
	if order, _ := s.PreferenceOrder(ctx, catalog.ClassLive); len(order) != 0 {
		t.Fatalf("pref entry survived: %v", order)
	}
}

func TestPreferenceOrderRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.SetPreferenceOrder(ctx, catalog.ClassVOD, []string{"b", "a", "c"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.PreferenceOrder(ctx, catalog.ClassVOD)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v want %v", got, want)
		}
	}
	// Replacing the order drops the old entries.
	if err := s.SetPreferenceOrder(ctx, catalog.ClassVOD, []string{"c"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got, _ := s.PreferenceOrder(ctx, catalog.ClassVOD); len(got) != 1 || got[0] != "c" {
		t.Fatalf("after replace: %v", got)
	}
}

func TestProgramsForStreamRange(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	addTestSource(t, s, "a")
	base := time.Unix(1700000000, 0).UTC()
	progs := []catalog.Program{
		{ID: "1-0", StreamID: "1", Title: "early", Start: base, End: base.Add(30 * time.Minute)},
		{ID: "1-1", StreamID: "1", Title: "mid", Start: base.Add(time.Hour), End: base.Add(90 * time.Minute)},
		{ID: "1-2", StreamID: "1", Title: "late", Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)},
	}
	if _, err := s.ReplacePrograms(ctx, "a", progs, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := s.ProgramsForStream(ctx, "a", "1", base.Add(45*time.Minute), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 1 || got[0].Title != "mid" {
		t.Fatalf("range query: %+v", got)
	}
}
