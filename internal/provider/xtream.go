package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/httpclient"
)

// pageInterval paces category-paged and per-series requests so a large
// catalog walk does not trip provider rate limits.
const pageInterval = 200 * time.Millisecond

// Xtream talks to a player_api.php provider. Upstream ids arrive as either
// JSON numbers or strings depending on the panel software, so every id field
// decodes through interface{} and idStr.
type Xtream struct {
	sourceID    string
	apiBase     string // player_api.php URL with credentials
	streamBase  string
	user, pass  string
	streamExt   string
	epgOverride string
	client      *http.Client
	limiter     *rate.Limiter
}

func NewXtream(src catalog.Source, client *http.Client) *Xtream {
	base := strings.TrimSuffix(src.URL, "/")
	return &Xtream{
		sourceID: src.ID,
		apiBase: base + "/player_api.php?username=" + url.QueryEscape(src.Username) +
			"&password=" + url.QueryEscape(src.Password),
		streamBase:  base,
		user:        src.Username,
		pass:        src.Password,
		streamExt:   "m3u8",
		epgOverride: src.EPGOverrideURL,
		client:      client,
		limiter:     rate.NewLimiter(rate.Every(pageInterval), 1),
	}
}

func (x *Xtream) get(ctx context.Context, action, extra string) ([]byte, error) {
	if err := x.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return httpclient.Get(ctx, x.client, x.apiBase+"&action="+action+extra)
}

func (x *Xtream) streamURL(kind, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s", x.streamBase, kind,
		url.PathEscape(x.user), url.PathEscape(x.pass), url.PathEscape(id), x.streamExt)
}

// idStr coerces an upstream id that may be a JSON number or string.
func idStr(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case string:
		return t
	}
	return ""
}

func idInt(v any, fallback int) int {
	s := idStr(v)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

type xtreamCategory struct {
	CategoryID   any    `json:"category_id"`
	CategoryName string `json:"category_name"`
}

func (x *Xtream) fetchCategories(ctx context.Context, action string, kind catalog.CategoryKind) ([]catalog.Category, error) {
	body, err := x.get(ctx, action, "")
	if err != nil {
		return nil, err
	}
	var raw []xtreamCategory
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	out := make([]catalog.Category, 0, len(raw))
	for _, c := range raw {
		id := idStr(c.CategoryID)
		if id == "" {
			continue
		}
		out = append(out, catalog.Category{
			CategoryID: id,
			SourceID:   x.sourceID,
			Name:       strings.TrimSpace(c.CategoryName),
			Kind:       kind,
		})
	}
	return out, nil
}

func (x *Xtream) FetchCategories(ctx context.Context) ([]catalog.Category, error) {
	return x.fetchCategories(ctx, "get_live_categories", catalog.CategoryLive)
}

func (x *Xtream) FetchVODCategories(ctx context.Context) ([]catalog.Category, error) {
	movie, err := x.fetchCategories(ctx, "get_vod_categories", catalog.CategoryMovie)
	if err != nil {
		return nil, err
	}
	series, err := x.fetchCategories(ctx, "get_series_categories", catalog.CategorySeries)
	if err != nil {
		return nil, err
	}
	return append(movie, series...), nil
}

func (x *Xtream) FetchChannels(ctx context.Context) ([]catalog.Channel, error) {
	body, err := x.get(ctx, "get_live_streams", "")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		StreamID     any    `json:"stream_id"`
		Num          any    `json:"num"`
		Name         string `json:"name"`
		EpgChannelID any    `json:"epg_channel_id"`
		StreamIcon   string `json:"stream_icon"`
		CategoryID   any    `json:"category_id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("get_live_streams: %w", err)
	}
	out := make([]catalog.Channel, 0, len(raw))
	for _, s := range raw {
		sid := idStr(s.StreamID)
		if sid == "" {
			continue
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = "Channel " + sid
		}
		ch := catalog.Channel{
			StreamID:     sid,
			SourceID:     x.sourceID,
			Name:         name,
			LogoURL:      s.StreamIcon,
			EPGChannelID: idStr(s.EpgChannelID),
			DirectURL:    x.streamURL("live", sid),
			ChannelNum:   idInt(s.Num, 0),
		}
		if cid := idStr(s.CategoryID); cid != "" {
			ch.CategoryIDs = []string{cid}
		}
		out = append(out, ch)
	}
	return out, nil
}

type xtreamVODStream struct {
	StreamID           any    `json:"stream_id"`
	Name               string `json:"name"`
	ContainerExtension string `json:"container_extension"`
	StreamIcon         string `json:"stream_icon"`
	Rating             any    `json:"rating"`
	Releasedate        string `json:"releasedate"`
	CategoryID         any    `json:"category_id"`
	Plot               string `json:"plot"`
	Cast               string `json:"cast"`
}

// FetchMovies tries the full get_vod_streams dump first; some panels time out
// or return an empty body on it, so it falls back to walking categories one
// request each.
func (x *Xtream) FetchMovies(ctx context.Context) ([]catalog.Movie, error) {
	var raw []xtreamVODStream
	if body, err := x.get(ctx, "get_vod_streams", ""); err == nil {
		_ = json.Unmarshal(body, &raw)
	}
	if len(raw) == 0 {
		paged, err := x.fetchMoviesByCategory(ctx)
		if err != nil {
			return nil, err
		}
		raw = paged
	}
	out := make([]catalog.Movie, 0, len(raw))
	for _, m := range raw {
		sid := idStr(m.StreamID)
		if sid == "" {
			continue
		}
		ext := m.ContainerExtension
		if ext == "" || len(ext) > 5 {
			ext = "m3u8"
		}
		title, year := parseTitleYear(m.Name)
		if y := strings.TrimSpace(m.Releasedate); year == 0 && len(y) >= 4 {
			year, _ = strconv.Atoi(y[:4])
		}
		mv := catalog.Movie{
			StreamID:  sid,
			SourceID:  x.sourceID,
			Name:      strings.TrimSpace(m.Name),
			Title:     title,
			Year:      year,
			DirectURL: strings.TrimSuffix(x.streamURL("movie", sid), "."+x.streamExt) + "." + ext,
			Plot:      m.Plot,
			Cast:      m.Cast,
			Rating:    idStr(m.Rating),
			PosterURL: m.StreamIcon,
		}
		if cid := idStr(m.CategoryID); cid != "" {
			mv.CategoryIDs = []string{cid}
		}
		out = append(out, mv)
	}
	return out, nil
}

func (x *Xtream) fetchMoviesByCategory(ctx context.Context) ([]xtreamVODStream, error) {
	body, err := x.get(ctx, "get_vod_categories", "")
	if err != nil {
		return nil, err
	}
	var cats []xtreamCategory
	if err := json.Unmarshal(body, &cats); err != nil {
		return nil, fmt.Errorf("get_vod_categories: %w", err)
	}
	var out []xtreamVODStream
	seen := make(map[string]bool)
	for _, c := range cats {
		cid := idStr(c.CategoryID)
		if cid == "" {
			continue
		}
		b, err := x.get(ctx, "get_vod_streams", "&category_id="+url.QueryEscape(cid))
		if err != nil {
			return nil, fmt.Errorf("vod category %s: %w", cid, err)
		}
		var part []xtreamVODStream
		if json.Unmarshal(b, &part) != nil {
			continue
		}
		for _, m := range part {
			sid := idStr(m.StreamID)
			if sid == "" || seen[sid] {
				continue
			}
			seen[sid] = true
			if m.CategoryID == nil {
				m.CategoryID = cid
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// FetchSeries returns the series list only; episodes come from
// FetchSeriesEpisodes per series so the orchestrator controls the walk.
// Some panels return the list as a JSON object keyed by row number instead
// of an array.
func (x *Xtream) FetchSeries(ctx context.Context) ([]catalog.Series, error) {
	body, err := x.get(ctx, "get_series", "")
	if err != nil {
		return nil, err
	}
	type show struct {
		SeriesID    any    `json:"series_id"`
		ID          any    `json:"id"`
		Name        string `json:"name"`
		Cover       string `json:"cover"`
		Plot        string `json:"plot"`
		Cast        string `json:"cast"`
		Rating      any    `json:"rating"`
		ReleaseDate string `json:"releaseDate"`
		CategoryID  any    `json:"category_id"`
	}
	var list []show
	if json.Unmarshal(body, &list) != nil {
		var m map[string]show
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("get_series: %w", err)
		}
		for _, s := range m {
			list = append(list, s)
		}
	}
	out := make([]catalog.Series, 0, len(list))
	for _, s := range list {
		sid := idStr(s.SeriesID)
		if sid == "" {
			sid = idStr(s.ID)
		}
		if sid == "" {
			continue
		}
		title, year := parseTitleYear(s.Name)
		if y := strings.TrimSpace(s.ReleaseDate); year == 0 && len(y) >= 4 {
			year, _ = strconv.Atoi(y[:4])
		}
		sr := catalog.Series{
			SeriesID:  sid,
			SourceID:  x.sourceID,
			Name:      strings.TrimSpace(s.Name),
			Title:     title,
			Year:      year,
			Plot:      s.Plot,
			Cast:      s.Cast,
			Rating:    idStr(s.Rating),
			PosterURL: s.Cover,
		}
		if cid := idStr(s.CategoryID); cid != "" {
			sr.CategoryIDs = []string{cid}
		}
		out = append(out, sr)
	}
	return out, nil
}

func (x *Xtream) FetchSeriesEpisodes(ctx context.Context, seriesID string) ([]catalog.Episode, error) {
	body, err := x.get(ctx, "get_series_info", "&series_id="+url.QueryEscape(seriesID))
	if err != nil {
		return nil, err
	}
	var info struct {
		Episodes map[string][]struct {
			ID                 any    `json:"id"`
			EpisodeNum         any    `json:"episode_num"`
			Title              string `json:"title"`
			Season             any    `json:"season"`
			ContainerExtension string `json:"container_extension"`
		} `json:"episodes"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("get_series_info %s: %w", seriesID, err)
	}
	var out []catalog.Episode
	for seasonKey, eps := range info.Episodes {
		seasonNum, _ := strconv.Atoi(seasonKey)
		if seasonNum < 1 {
			seasonNum = 1
		}
		for _, ep := range eps {
			eid := idStr(ep.ID)
			if eid == "" {
				continue
			}
			ext := ep.ContainerExtension
			if ext == "" || len(ext) > 5 {
				ext = "m3u8"
			}
			out = append(out, catalog.Episode{
				ID:         eid,
				SourceID:   x.sourceID,
				SeriesID:   seriesID,
				SeasonNum:  idInt(ep.Season, seasonNum),
				EpisodeNum: idInt(ep.EpisodeNum, 0),
				Title:      strings.TrimSpace(ep.Title),
				DirectURL:  strings.TrimSuffix(x.streamURL("series", eid), "."+x.streamExt) + "." + ext,
			})
		}
	}
	return out, nil
}

// FetchEPG pulls the provider's xmltv.php dump, or the per-source override
// URL when configured.
func (x *Xtream) FetchEPG(ctx context.Context) ([]catalog.EPGProgram, error) {
	epgURL := x.epgOverride
	if epgURL == "" {
		epgURL = x.streamBase + "/xmltv.php?username=" + url.QueryEscape(x.user) +
			"&password=" + url.QueryEscape(x.pass)
	}
	body, err := httpclient.Get(ctx, x.client, epgURL)
	if err != nil {
		return nil, err
	}
	return parseXMLTV(body)
}

// parseTitleYear splits "Title (2004)" style names; returns the input
// unchanged with year 0 when no plausible trailing year is present.
func parseTitleYear(s string) (string, int) {
	s = strings.TrimSpace(s)
	if len(s) < 6 || s[len(s)-1] != ')' {
		return s, 0
	}
	i := strings.LastIndex(s, "(")
	if i < 0 {
		return s, 0
	}
	y := strings.TrimSpace(s[i+1 : len(s)-1])
	if len(y) != 4 {
		return s, 0
	}
	year, err := strconv.Atoi(y)
	if err != nil || year < 1900 || year > 2100 {
		return s, 0
	}
	return strings.TrimSpace(s[:i]), year
}
