// Package provider implements the per-source catalog clients. Each client
// speaks one provider dialect (Xtream player_api or raw M3U playlist) and
// returns complete entity lists; a fetch either yields the full set or an
// error, never a partial result, because the sync layer applies results
// atomically.
package provider

import (
	"context"
	"net/http"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/httpclient"
)

// Client is the fetch contract the sync orchestrator programs against.
// Methods that a dialect cannot serve return empty lists and no error
// (an M3U playlist has no EPG endpoint unless an override URL is set).
type Client interface {
	FetchCategories(ctx context.Context) ([]catalog.Category, error)
	FetchChannels(ctx context.Context) ([]catalog.Channel, error)
	FetchVODCategories(ctx context.Context) ([]catalog.Category, error)
	FetchMovies(ctx context.Context) ([]catalog.Movie, error)
	FetchSeries(ctx context.Context) ([]catalog.Series, error)
	FetchSeriesEpisodes(ctx context.Context, seriesID string) ([]catalog.Episode, error)
	FetchEPG(ctx context.Context) ([]catalog.EPGProgram, error)
}

// New returns the client for the source's type. A nil http client falls back
// to the shared tuned default.
func New(src catalog.Source, client *http.Client) Client {
	if client == nil {
		client = httpclient.Default()
	}
	switch src.Type {
	case catalog.SourceM3U:
		return NewM3U(src, client)
	default:
		return NewXtream(src, client)
	}
}
