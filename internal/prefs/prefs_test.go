package prefs

import (
	"context"
	"testing"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/store"
)

func TestPreferredDeterministicAndTotal(t *testing.T) {
	r := NewResolver([]string{"a", "b", "c"})
	cases := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"ranked order wins over input order", []string{"c", "b"}, "b"},
		{"single candidate", []string{"c"}, "c"},
		{"no ranked candidate falls back to first", []string{"z", "y"}, "z"},
		{"mixed ranked and unranked", []string{"z", "c"}, "c"},
		{"empty input", nil, ""},
	}
	for _, tc := range cases {
		if got := r.Preferred(tc.candidates); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
		// Same input, same answer, every time.
		if again := r.Preferred(tc.candidates); again != r.Preferred(tc.candidates) {
			t.Fatalf("%s: nondeterministic: %q vs %q", tc.name, again, r.Preferred(tc.candidates))
		}
	}
}

func TestGroupMoviesMergesByCatalogIDOnly(t *testing.T) {
	r := NewResolver([]string{"a", "b"})
	movies := []catalog.Movie{
		{StreamID: "1", SourceID: "b", Name: "Heat B", DirectURL: "http://b/1", CatalogID: 949},
		{StreamID: "2", SourceID: "a", Name: "Heat A", DirectURL: "http://a/2", CatalogID: 949},
		{StreamID: "3", SourceID: "a", Name: "Heat", DirectURL: "http://a/3"}, // unresolved, same title
		{StreamID: "4", SourceID: "b", Name: "Other", DirectURL: "http://b/4", CatalogID: 100},
	}
	groups := r.GroupMovies(movies)
	if len(groups) != 3 {
		t.Fatalf("groups=%d want 3: %+v", len(groups), groups)
	}
	heat := groups[0]
	if heat.CatalogID != 949 || len(heat.Members) != 2 {
		t.Fatalf("heat group: %+v", heat)
	}
	if heat.Representative.SourceID != "a" {
		t.Fatalf("representative must come from the preferred source: %+v", heat.Representative)
	}
	if len(heat.Streams) != 2 || heat.Streams[0].URL != "http://a/2" || heat.Streams[1].URL != "http://b/1" {
		t.Fatalf("failover stream order: %+v", heat.Streams)
	}
	// The unresolved row with an identical title passes through untouched.
	if groups[1].CatalogID != 0 || groups[1].Representative.StreamID != "3" {
		t.Fatalf("unresolved row merged: %+v", groups[1])
	}
}

func TestMergeEpisodesUnionAndCollision(t *testing.T) {
	r := NewResolver([]string{"a", "b"})
	// Source A carries season 1, source B carries seasons 1 and 2.
	bySource := map[string][]catalog.Episode{
		"a": {
			{ID: "a11", SourceID: "a", SeasonNum: 1, EpisodeNum: 1, DirectURL: "http://a/11"},
			{ID: "a12", SourceID: "a", SeasonNum: 1, EpisodeNum: 2, DirectURL: "http://a/12"},
		},
		"b": {
			{ID: "b11", SourceID: "b", SeasonNum: 1, EpisodeNum: 1, DirectURL: "http://b/11"},
			{ID: "b21", SourceID: "b", SeasonNum: 2, EpisodeNum: 1, DirectURL: "http://b/21"},
		},
	}
	merged := r.MergeEpisodes(bySource)
	if len(merged) != 3 {
		t.Fatalf("merged=%d want 3 (union of seasons {1} and {1,2}): %+v", len(merged), merged)
	}
	if merged[0].SourceID != "a" {
		t.Fatalf("s01e01 collision must resolve to the ranked source: %+v", merged[0])
	}
	if merged[1].SourceID != "a" || merged[1].EpisodeNum != 2 {
		t.Fatalf("s01e02: %+v", merged[1])
	}
	if merged[2].SourceID != "b" || merged[2].SeasonNum != 2 {
		t.Fatalf("season 2 must come from the only source carrying it: %+v", merged[2])
	}
}

func TestMergeEpisodesNoOrderConfigured(t *testing.T) {
	r := NewResolver(nil)
	bySource := map[string][]catalog.Episode{
		"b": {{ID: "b11", SourceID: "b", SeasonNum: 1, EpisodeNum: 1}},
		"a": {{ID: "a11", SourceID: "a", SeasonNum: 1, EpisodeNum: 1}},
	}
	// Unranked sources fall back to lexical source order, deterministically.
	for i := 0; i < 3; i++ {
		merged := r.MergeEpisodes(bySource)
		if len(merged) != 1 || merged[0].SourceID != "a" {
			t.Fatalf("run %d: %+v", i, merged)
		}
	}
}

func TestLoadFallsBackToEnabledSourceOrder(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	for _, id := range []string{"first", "second"} {
		src := catalog.Source{ID: id, Name: id, Type: catalog.SourceXtream, URL: "http://x", Enabled: true}
		if err := st.AddSource(ctx, &src); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	disabled := catalog.Source{ID: "off", Name: "off", Type: catalog.SourceXtream, URL: "http://x"}
	if err := st.AddSource(ctx, &disabled); err != nil {
		t.Fatalf("add: %v", err)
	}

	r, err := Load(ctx, st, catalog.ClassVOD)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := r.Preferred([]string{"second", "first"}); got != "first" {
		t.Fatalf("insertion-order fallback: got %q", got)
	}
	if got := r.Preferred([]string{"off", "second"}); got != "second" {
		t.Fatalf("disabled source must be unranked: got %q", got)
	}

	// A configured order overrides insertion order.
	if err := st.SetPreferenceOrder(ctx, catalog.ClassVOD, []string{"second", "first"}); err != nil {
		t.Fatalf("set order: %v", err)
	}
	r, err = Load(ctx, st, catalog.ClassVOD)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := r.Preferred([]string{"first", "second"}); got != "second" {
		t.Fatalf("configured order: got %q", got)
	}
}
