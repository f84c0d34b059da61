package enrich

import "strings"

// Entry is one catalog dataset row. Year is best-effort, parsed from titles
// that embed one; most dataset rows carry none, in which case year preference
// degrades to popularity order.
type Entry struct {
	ID         int64
	Title      string
	Year       int
	Popularity float64
}

// Index maps a normalized title to its candidate entries.
type Index struct {
	byTitle map[string][]Entry
}

func NewIndex() *Index {
	return &Index{byTitle: make(map[string][]Entry)}
}

func (ix *Index) Add(e Entry) {
	key := normalizeTitle(e.Title)
	if key == "" {
		return
	}
	if e.Year == 0 {
		e.Year = trailingYear(e.Title)
	}
	ix.byTitle[key] = append(ix.byTitle[key], e)
}

func (ix *Index) Len() int { return len(ix.byTitle) }

// Match resolves a provider title against the index: exact normalized lookup,
// then one retry with a leading "the " stripped. Among candidates a known
// year selects the exact-year entry when one exists; otherwise the most
// popular candidate wins.
func (ix *Index) Match(title string, year int) (Entry, bool) {
	key := normalizeTitle(title)
	if key == "" {
		return Entry{}, false
	}
	if e, ok := ix.lookup(key, year); ok {
		return e, true
	}
	if rest, found := strings.CutPrefix(key, "the "); found {
		return ix.lookup(rest, year)
	}
	return Entry{}, false
}

func (ix *Index) lookup(key string, year int) (Entry, bool) {
	candidates := ix.byTitle[key]
	if len(candidates) == 0 {
		return Entry{}, false
	}
	if year != 0 {
		for _, c := range candidates {
			if c.Year == year {
				return c, true
			}
		}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Popularity > best.Popularity {
			best = c
		}
	}
	return best, true
}
