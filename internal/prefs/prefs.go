// Package prefs is the read-side view layer: it ranks sources per content
// class, groups VOD records that resolved to the same external catalog id
// into one logical entity, and merges episode sets across sources. It never
// writes; the stored per-source rows stay untouched and the merge is
// recomputed from them on demand.
package prefs

import (
	"context"
	"sort"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/store"
)

// Resolver ranks source ids. Sources absent from the configured order sort
// after every ranked source, keeping their relative input order.
type Resolver struct {
	rank map[string]int
}

// NewResolver builds a resolver from an ordered id list (first = most
// preferred).
func NewResolver(ordered []string) *Resolver {
	r := &Resolver{rank: make(map[string]int, len(ordered))}
	for i, id := range ordered {
		if _, dup := r.rank[id]; !dup {
			r.rank[id] = i
		}
	}
	return r
}

// Load builds the resolver for one content class from the store: the
// user-configured order when set, otherwise enabled sources in insertion
// order.
func Load(ctx context.Context, st *store.Store, class catalog.ContentClass) (*Resolver, error) {
	ordered, err := st.PreferenceOrder(ctx, class)
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		sources, err := st.ListSources(ctx, true)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			ordered = append(ordered, src.ID)
		}
	}
	return NewResolver(ordered), nil
}

// Preferred returns the winning source id among candidates: the first-ranked
// candidate, or the first candidate when none is ranked. Deterministic, and
// total for non-empty input; empty input returns "".
func (r *Resolver) Preferred(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	best, bestRank := "", int(^uint(0)>>1)
	for _, id := range candidates {
		rank, ok := r.rank[id]
		if ok && rank < bestRank {
			best, bestRank = id, rank
		}
	}
	if best != "" {
		return best
	}
	return candidates[0]
}

// sortByRank orders ids by rank; unranked ids keep their relative order after
// all ranked ones.
func (r *Resolver) sortByRank(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		ri, iok := r.rank[ids[i]]
		rj, jok := r.rank[ids[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
}

// StreamRef is one playable URL with its owning source, for client-side
// failover down the preference order.
type StreamRef struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
}

// MovieGroup is one logical movie: all source rows that resolved to the same
// catalog id, or a single unresolved row passing through 1:1.
type MovieGroup struct {
	CatalogID      int64           `json:"catalog_id,omitempty"`
	Representative catalog.Movie   `json:"representative"`
	Streams        []StreamRef     `json:"streams"`
	Members        []catalog.Movie `json:"-"`
}

// GroupMovies merges rows strictly by catalog id. Rows without a catalog id
// are never merged, whatever their titles look like. Output order follows
// first appearance in the input, so a stable input yields a stable view.
func (r *Resolver) GroupMovies(movies []catalog.Movie) []MovieGroup {
	var out []MovieGroup
	byCatalog := make(map[int64]int)
	for _, m := range movies {
		if m.CatalogID == 0 {
			out = append(out, MovieGroup{
				Representative: m,
				Streams:        []StreamRef{{SourceID: m.SourceID, URL: m.DirectURL}},
				Members:        []catalog.Movie{m},
			})
			continue
		}
		idx, ok := byCatalog[m.CatalogID]
		if !ok {
			byCatalog[m.CatalogID] = len(out)
			out = append(out, MovieGroup{CatalogID: m.CatalogID, Members: []catalog.Movie{m}})
			continue
		}
		out[idx].Members = append(out[idx].Members, m)
	}
	for i := range out {
		if out[i].CatalogID == 0 {
			continue
		}
		g := &out[i]
		ids := make([]string, len(g.Members))
		for j, m := range g.Members {
			ids[j] = m.SourceID
		}
		winner := r.Preferred(ids)
		for _, m := range g.Members {
			if m.SourceID == winner {
				g.Representative = m
				break
			}
		}
		r.sortByRank(ids)
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			for _, m := range g.Members {
				if m.SourceID == id {
					g.Streams = append(g.Streams, StreamRef{SourceID: id, URL: m.DirectURL})
				}
			}
		}
	}
	return out
}

// SeriesGroup is the series counterpart of MovieGroup. Episodes are merged
// lazily via MergeEpisodes because they need a separate store read.
type SeriesGroup struct {
	CatalogID      int64            `json:"catalog_id,omitempty"`
	Representative catalog.Series   `json:"representative"`
	Members        []catalog.Series `json:"-"`
}

func (r *Resolver) GroupSeries(series []catalog.Series) []SeriesGroup {
	var out []SeriesGroup
	byCatalog := make(map[int64]int)
	for _, s := range series {
		if s.CatalogID == 0 {
			out = append(out, SeriesGroup{Representative: s, Members: []catalog.Series{s}})
			continue
		}
		idx, ok := byCatalog[s.CatalogID]
		if !ok {
			byCatalog[s.CatalogID] = len(out)
			out = append(out, SeriesGroup{CatalogID: s.CatalogID, Members: []catalog.Series{s}})
			continue
		}
		out[idx].Members = append(out[idx].Members, s)
	}
	for i := range out {
		g := &out[i]
		if g.CatalogID == 0 {
			continue
		}
		ids := make([]string, len(g.Members))
		for j, s := range g.Members {
			ids[j] = s.SourceID
		}
		winner := r.Preferred(ids)
		for _, s := range g.Members {
			if s.SourceID == winner {
				g.Representative = s
				break
			}
		}
	}
	return out
}

// MergeEpisodes unions episode sets from every member of a series group,
// keyed by (season, episode). When several sources carry the same episode the
// highest-ranked source's copy wins; an episode only one source carries is
// included regardless of that source's rank.
func (r *Resolver) MergeEpisodes(bySource map[string][]catalog.Episode) []catalog.Episode {
	type key struct{ season, episode int }
	chosen := make(map[key]catalog.Episode)

	sourceIDs := make([]string, 0, len(bySource))
	for id := range bySource {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Strings(sourceIDs) // stable base order before rank sort
	r.sortByRank(sourceIDs)

	// Walk from least to most preferred so better sources overwrite.
	for i := len(sourceIDs) - 1; i >= 0; i-- {
		for _, ep := range bySource[sourceIDs[i]] {
			chosen[key{ep.SeasonNum, ep.EpisodeNum}] = ep
		}
	}
	out := make([]catalog.Episode, 0, len(chosen))
	for _, ep := range chosen {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeasonNum != out[j].SeasonNum {
			return out[i].SeasonNum < out[j].SeasonNum
		}
		return out[i].EpisodeNum < out[j].EpisodeNum
	})
	return out
}
