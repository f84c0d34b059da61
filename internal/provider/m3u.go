package provider

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/httpclient"
)

const (
	maxLineSize      = 1 << 20 // 1 MiB per playlist line
	playlistCacheTTL = time.Minute
)

// M3U serves one playlist-format source. The playlist is a single document
// covering live, movies, and series, so the first Fetch* call downloads and
// classifies it and the other calls within one sync reuse the parse (short
// TTL, guarded by a mutex).
type M3U struct {
	sourceID    string
	playlistURL string
	epgURL      string // override URL only; a bare playlist has no guide
	client      *http.Client

	mu       sync.Mutex
	parsed   *m3uParsed
	parsedAt time.Time
}

type m3uParsed struct {
	channels   []catalog.Channel
	movies     []catalog.Movie
	series     []catalog.Series
	episodes   []catalog.Episode
	categories map[catalog.CategoryKind][]catalog.Category
}

func NewM3U(src catalog.Source, client *http.Client) *M3U {
	return &M3U{
		sourceID:    src.ID,
		playlistURL: src.URL,
		epgURL:      src.EPGOverrideURL,
		client:      client,
	}
}

func (m *M3U) load(ctx context.Context) (*m3uParsed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.parsed != nil && time.Since(m.parsedAt) < playlistCacheTTL {
		return m.parsed, nil
	}
	body, err := httpclient.Get(ctx, m.client, m.playlistURL)
	if err != nil {
		return nil, err
	}
	parsed, err := parsePlaylist(m.sourceID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	m.parsed, m.parsedAt = parsed, time.Now()
	return parsed, nil
}

func (m *M3U) FetchChannels(ctx context.Context) ([]catalog.Channel, error) {
	p, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return p.channels, nil
}

func (m *M3U) FetchCategories(ctx context.Context) ([]catalog.Category, error) {
	p, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return p.categories[catalog.CategoryLive], nil
}

func (m *M3U) FetchVODCategories(ctx context.Context) ([]catalog.Category, error) {
	p, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return append(append([]catalog.Category{}, p.categories[catalog.CategoryMovie]...),
		p.categories[catalog.CategorySeries]...), nil
}

func (m *M3U) FetchMovies(ctx context.Context) ([]catalog.Movie, error) {
	p, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return p.movies, nil
}

func (m *M3U) FetchSeries(ctx context.Context) ([]catalog.Series, error) {
	p, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return p.series, nil
}

// FetchSeriesEpisodes filters the playlist's episode entries; the full set is
// already in memory from the classify pass.
func (m *M3U) FetchSeriesEpisodes(ctx context.Context, seriesID string) ([]catalog.Episode, error) {
	p, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []catalog.Episode
	for _, ep := range p.episodes {
		if ep.SeriesID == seriesID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (m *M3U) FetchEPG(ctx context.Context) ([]catalog.EPGProgram, error) {
	if m.epgURL == "" {
		return nil, nil
	}
	body, err := httpclient.Get(ctx, m.client, m.epgURL)
	if err != nil {
		return nil, err
	}
	return parseXMLTV(body)
}

type m3uEntry struct {
	extinf string
	url    string
}

// parsePlaylist streams the playlist line by line and classifies each entry:
// SxxEyy in the display name makes it a series episode, a parseable year or a
// movie/vod group makes it a movie, everything else is a live channel.
func parsePlaylist(sourceID string, r io.Reader) (*m3uParsed, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	var entries []m3uEntry
	var extinf string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			extinf = line
			continue
		}
		if extinf != "" && (strings.HasPrefix(line, "http") || strings.HasPrefix(line, "/")) {
			entries = append(entries, m3uEntry{extinf: extinf, url: line})
		}
		extinf = ""
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return classifyEntries(sourceID, entries), nil
}

func classifyEntries(sourceID string, entries []m3uEntry) *m3uParsed {
	p := &m3uParsed{categories: make(map[catalog.CategoryKind][]catalog.Category)}
	groups := make(map[catalog.CategoryKind]map[string]bool)
	seriesIDs := make(map[string]bool)

	addGroup := func(kind catalog.CategoryKind, name string) string {
		if name == "" {
			return ""
		}
		if groups[kind] == nil {
			groups[kind] = make(map[string]bool)
		}
		if !groups[kind][name] {
			groups[kind][name] = true
			p.categories[kind] = append(p.categories[kind], catalog.Category{
				CategoryID: name, SourceID: sourceID, Name: name, Kind: kind,
			})
		}
		return name
	}

	for _, e := range entries {
		display := extinfDisplayName(e.extinf)
		group := extinfAttr(e.extinf, "group-title")
		id := stableID(e.url, e.extinf)

		if show, season, episode, ok := parseSeasonEpisode(display); ok {
			sid := "series_" + stableID(show, "")
			if !seriesIDs[sid] {
				seriesIDs[sid] = true
				title, year := parseTitleYear(show)
				sr := catalog.Series{SeriesID: sid, SourceID: sourceID, Name: show, Title: title, Year: year}
				if g := addGroup(catalog.CategorySeries, group); g != "" {
					sr.CategoryIDs = []string{g}
				}
				p.series = append(p.series, sr)
			}
			p.episodes = append(p.episodes, catalog.Episode{
				ID: id, SourceID: sourceID, SeriesID: sid,
				SeasonNum: season, EpisodeNum: episode,
				Title: display, DirectURL: e.url,
			})
			continue
		}

		title, year := parseTitleYear(display)
		lowerGroup := strings.ToLower(group)
		if year > 0 || strings.Contains(lowerGroup, "movie") || strings.Contains(lowerGroup, "vod") {
			mv := catalog.Movie{
				StreamID: id, SourceID: sourceID, Name: display,
				Title: title, Year: year, DirectURL: e.url,
				PosterURL: extinfAttr(e.extinf, "tvg-logo"),
			}
			if g := addGroup(catalog.CategoryMovie, group); g != "" {
				mv.CategoryIDs = []string{g}
			}
			p.movies = append(p.movies, mv)
			continue
		}

		ch := catalog.Channel{
			StreamID:     id,
			SourceID:     sourceID,
			Name:         display,
			LogoURL:      extinfAttr(e.extinf, "tvg-logo"),
			EPGChannelID: extinfAttr(e.extinf, "tvg-id"),
			DirectURL:    e.url,
		}
		if chno := extinfAttr(e.extinf, "tvg-chno"); chno != "" {
			ch.ChannelNum, _ = strconv.Atoi(chno)
		}
		if g := addGroup(catalog.CategoryLive, group); g != "" {
			ch.CategoryIDs = []string{g}
		}
		p.channels = append(p.channels, ch)
	}
	sort.Slice(p.episodes, func(i, j int) bool {
		a, b := p.episodes[i], p.episodes[j]
		if a.SeriesID != b.SeriesID {
			return a.SeriesID < b.SeriesID
		}
		if a.SeasonNum != b.SeasonNum {
			return a.SeasonNum < b.SeasonNum
		}
		return a.EpisodeNum < b.EpisodeNum
	})
	return p
}

func extinfDisplayName(extinf string) string {
	if i := strings.LastIndex(extinf, ","); i >= 0 {
		return strings.TrimSpace(extinf[i+1:])
	}
	return strings.TrimSpace(extinf)
}

func extinfAttr(extinf, key string) string {
	prefix := key + `="`
	i := strings.Index(extinf, prefix)
	if i < 0 {
		return ""
	}
	i += len(prefix)
	j := strings.Index(extinf[i:], `"`)
	if j < 0 {
		return ""
	}
	return extinf[i : i+j]
}

// parseSeasonEpisode finds an SxxEyy marker and splits the show name off the
// part before it.
func parseSeasonEpisode(name string) (show string, season, episode int, ok bool) {
	upper := strings.ToUpper(name)
	for i := 0; i+5 < len(upper); i++ {
		if upper[i] != 'S' || !isDigit(upper[i+1]) || !isDigit(upper[i+2]) ||
			upper[i+3] != 'E' || !isDigit(upper[i+4]) || !isDigit(upper[i+5]) {
			continue
		}
		season = int(upper[i+1]-'0')*10 + int(upper[i+2]-'0')
		episode = int(upper[i+4]-'0')*10 + int(upper[i+5]-'0')
		show = strings.TrimRight(strings.TrimSpace(name[:i]), "-– ")
		if show == "" || season == 0 {
			return "", 0, 0, false
		}
		return show, season, episode, true
	}
	return "", 0, 0, false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// stableID hashes the entry so resyncs of an unchanged playlist produce the
// same ids (playlists carry no upstream ids of their own).
func stableID(url, extinf string) string {
	h := uint64(0)
	for _, c := range url {
		h = h*31 + uint64(c)
	}
	for _, c := range extinf {
		h = h*31 + uint64(c)
	}
	return "id_" + strconv.FormatUint(h, 10)
}
