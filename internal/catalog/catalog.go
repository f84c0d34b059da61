// Package catalog defines the entity types shared by the store, the sync
// orchestrator, and the enrichment engine. All per-entity rows are namespaced
// by SourceID because upstream stream/series ids are only unique within one
// provider account.
package catalog

import "time"

// SourceType selects the provider client used to fetch a source's catalog.
type SourceType string

const (
	SourceM3U    SourceType = "m3u"    // playlist-format provider (get.php / raw M3U)
	SourceXtream SourceType = "xtream" // structured player_api.php provider
)

// ContentClass partitions sync bookkeeping: live channels + EPG refresh on one
// threshold, VOD catalogs on another.
type ContentClass string

const (
	ClassLive ContentClass = "live"
	ClassVOD  ContentClass = "vod"
)

// Source is one configured IPTV provider account. Created by user action and
// never auto-deleted; Enabled gates scheduled syncs.
type Source struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           SourceType `json:"type"`
	URL            string     `json:"url"` // base URL (xtream) or playlist URL (m3u)
	Username       string     `json:"username,omitempty"`
	Password       string     `json:"password,omitempty"`
	Enabled        bool       `json:"enabled"`
	AutoEnrichEPG  bool       `json:"auto_enrich_epg"`
	EPGOverrideURL string     `json:"epg_override_url,omitempty"` // XMLTV URL used instead of the provider's EPG endpoint
	Position       int        `json:"position"`                   // insertion order; default preference rank
}

// Channel is one live channel as exposed by one source. Cross-source
// duplicates are kept as separate rows; merging happens at read time only.
type Channel struct {
	StreamID     string   `json:"stream_id"`
	SourceID     string   `json:"source_id"`
	Name         string   `json:"name"`
	LogoURL      string   `json:"logo_url,omitempty"`
	EPGChannelID string   `json:"epg_channel_id,omitempty"` // external id linking programs to this channel
	CategoryIDs  []string `json:"category_ids,omitempty"`
	DirectURL    string   `json:"direct_url"`
	ChannelNum   int      `json:"channel_num,omitempty"`
}

// CategoryKind distinguishes live groups from the two VOD taxonomies.
type CategoryKind string

const (
	CategoryLive   CategoryKind = "live"
	CategoryMovie  CategoryKind = "movie"
	CategorySeries CategoryKind = "series"
)

// Category is a provider-defined grouping. Fully replaced on every sync; it
// carries no enrichment state.
type Category struct {
	CategoryID string       `json:"category_id"`
	SourceID   string       `json:"source_id"`
	Name       string       `json:"name"`
	Kind       CategoryKind `json:"kind"`
}

// Program is one EPG entry, already mapped to a local channel's StreamID.
// ID is StreamID + start epoch so a full per-source replace is naturally
// idempotent and start-time collisions collapse to one row.
type Program struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	StreamID    string    `json:"stream_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// EPGProgram is a raw guide entry as fetched from a provider, keyed by the
// provider's external channel id. The sync step maps it to local channels via
// Channel.EPGChannelID.
type EPGProgram struct {
	ChannelExternalID string    `json:"channel_external_id"`
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
}

// Movie is one VOD movie on one source. CatalogID is the external catalog
// (TMDB) identifier once enrichment has matched the title; MatchAttempted is
// set on the first match attempt, successful or not, and is never cleared for
// rows that persist across resyncs.
type Movie struct {
	StreamID    string   `json:"stream_id"`
	SourceID    string   `json:"source_id"`
	Name        string   `json:"name"`            // raw display name from the provider
	Title       string   `json:"title,omitempty"` // structured title when the provider supplies one
	Year        int      `json:"year,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	DirectURL   string   `json:"direct_url"`
	Plot        string   `json:"plot,omitempty"`
	Cast        string   `json:"cast,omitempty"`
	Rating      string   `json:"rating,omitempty"`
	PosterURL   string   `json:"poster_url,omitempty"`

	CatalogID         int64     `json:"catalog_id,omitempty"` // 0 = unmatched
	CatalogPopularity float64   `json:"catalog_popularity,omitempty"`
	MatchAttempted    time.Time `json:"match_attempted,omitempty"` // zero = never attempted
}

// Series is one VOD series on one source; enrichment fields as on Movie.
type Series struct {
	SeriesID    string   `json:"series_id"`
	SourceID    string   `json:"source_id"`
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Year        int      `json:"year,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	Plot        string   `json:"plot,omitempty"`
	Cast        string   `json:"cast,omitempty"`
	Rating      string   `json:"rating,omitempty"`
	PosterURL   string   `json:"poster_url,omitempty"`

	CatalogID         int64     `json:"catalog_id,omitempty"`
	CatalogPopularity float64   `json:"catalog_popularity,omitempty"`
	MatchAttempted    time.Time `json:"match_attempted,omitempty"`
}

// Episode belongs to one Series row (same SourceID).
type Episode struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	SeriesID   string `json:"series_id"`
	SeasonNum  int    `json:"season_num"`
	EpisodeNum int    `json:"episode_num"`
	Title      string `json:"title,omitempty"`
	DirectURL  string `json:"direct_url"`
}

// SourceMeta is the per-source sync bookkeeping row: the single source of
// truth for staleness decisions and the per-source status line.
type SourceMeta struct {
	SourceID      string    `json:"source_id"`
	LastSynced    time.Time `json:"last_synced,omitempty"` // live class; zero = never
	ChannelCount  int       `json:"channel_count"`
	CategoryCount int       `json:"category_count"`
	Error         string    `json:"error,omitempty"`

	VODLastSynced  time.Time `json:"vod_last_synced,omitempty"`
	VODMovieCount  int       `json:"vod_movie_count"`
	VODSeriesCount int       `json:"vod_series_count"`
	VODError       string    `json:"vod_error,omitempty"`
}
