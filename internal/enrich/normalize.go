package enrich

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tvmux/tvmux/internal/catalog"
)

var (
	qualityRe = regexp.MustCompile(`\b(hd|fhd|uhd|sd|4k|8k|hdr|web|webrip|web dl|bluray|brrip|dvdrip|hdtv|cam|ts|multi|vostfr|dubbed|subbed|remastered|extended|unrated)\b`)
	yearRe    = regexp.MustCompile(`\(?\b(19\d{2}|20\d{2})\b\)?\s*$`)
	nonWordRe = regexp.MustCompile(`[^a-z0-9 ]`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// normalizeTitle reduces a provider display name or a catalog original title
// to a comparable key: lowercase, trailing year and quality/release tokens
// stripped, punctuation flattened, whitespace collapsed.
func normalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = yearRe.ReplaceAllString(s, "")
	s = nonWordRe.ReplaceAllString(s, " ")
	s = qualityRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	// Release names often bury the year behind a quality tag ("X.1999.WEB");
	// a second pass catches it once those tags are gone. Dataset titles go
	// through the same pipeline, so both sides lose the year consistently.
	s = strings.TrimSpace(yearRe.ReplaceAllString(s, ""))
	return s
}

// trailingYear extracts a plausible trailing release year, bracketed or bare.
func trailingYear(s string) int {
	m := yearRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	year, _ := strconv.Atoi(m[1])
	return year
}

// movieKey picks the best title and year a movie row offers, in priority
// order: structured title with its year, structured title with a year parsed
// from the raw name, then the raw name with any year it embeds.
func movieKey(m catalog.Movie) (title string, year int) {
	if m.Title != "" {
		year = m.Year
		if year == 0 {
			year = trailingYear(m.Name)
		}
		return m.Title, year
	}
	return m.Name, trailingYear(m.Name)
}

func seriesKey(s catalog.Series) (title string, year int) {
	if s.Title != "" {
		year = s.Year
		if year == 0 {
			year = trailingYear(s.Name)
		}
		return s.Title, year
	}
	return s.Name, trailingYear(s.Name)
}
