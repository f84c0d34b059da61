package enrich

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/tvmux/tvmux/internal/httpclient"
	"github.com/tvmux/tvmux/internal/metrics"
)

const (
	DatasetMovies = "movie_ids"
	DatasetSeries = "tv_series_ids"

	datasetMaxLine = 1 << 20
)

// DatasetCache downloads and caches the daily catalog export files. The cache
// is an explicit object owned by the engine, not package state, so tests and
// callers control its directory and TTL. Files land on disk decompressed,
// one JSON document per line, via temp-file + rename so a crashed download
// never leaves a truncated cache.
type DatasetCache struct {
	BaseURL string
	Dir     string
	TTL     time.Duration
	Client  *http.Client
	MaxSize int64 // decompressed byte cap, 0 = unlimited

	limiter *rate.Limiter
	now     func() time.Time
}

func NewDatasetCache(baseURL, dir string, ttl time.Duration, client *http.Client) *DatasetCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DatasetCache{
		BaseURL: baseURL,
		Dir:     dir,
		TTL:     ttl,
		Client:  client,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		now:     time.Now,
	}
}

func (dc *DatasetCache) path(kind string) string {
	return filepath.Join(dc.Dir, kind+".jsonl")
}

// Load returns the index for one dataset kind, downloading a fresh export
// when the cached file is absent or older than the TTL. A failed download
// with a stale-but-present cache falls back to the stale file; matching
// against yesterday's catalog beats matching against nothing.
func (dc *DatasetCache) Load(ctx context.Context, kind string) (*Index, error) {
	path := dc.path(kind)
	fresh := false
	if st, err := os.Stat(path); err == nil && dc.now().Sub(st.ModTime()) < dc.TTL {
		fresh = true
	}
	if !fresh {
		if err := dc.download(ctx, kind); err != nil {
			if _, statErr := os.Stat(path); statErr != nil {
				metrics.DatasetDownloads.WithLabelValues("error").Inc()
				return nil, err
			}
			log.Printf("enrich: dataset %s download failed, using stale cache: %v", kind, err)
			metrics.DatasetDownloads.WithLabelValues("error").Inc()
		} else {
			metrics.DatasetDownloads.WithLabelValues("ok").Inc()
		}
	} else {
		metrics.DatasetDownloads.WithLabelValues("cached").Inc()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", kind, err)
	}
	defer f.Close()
	return parseDataset(f)
}

// download fetches the newest available export. Exports are published daily
// and named by date; the previous UTC day is always complete, today's may not
// exist yet, so yesterday is tried first.
func (dc *DatasetCache) download(ctx context.Context, kind string) error {
	if err := dc.limiter.Wait(ctx); err != nil {
		return err
	}
	var lastErr error
	for _, day := range []int{-1, -2} {
		date := dc.now().UTC().AddDate(0, 0, day).Format("01_02_2006")
		u := fmt.Sprintf("%s/%s_%s.json.gz", dc.BaseURL, kind, date)
		body, err := httpclient.Get(ctx, dc.Client, u)
		if err != nil {
			lastErr = err
			continue
		}
		plain, err := decompress(body, dc.MaxSize)
		if err != nil {
			lastErr = fmt.Errorf("dataset %s: %w", kind, err)
			continue
		}
		return writeAtomic(dc.path(kind), plain)
	}
	return fmt.Errorf("dataset %s: %w", kind, lastErr)
}

// decompress sniffs the payload: gzip by magic bytes, raw JSON lines by the
// leading brace, anything else tried as brotli (which has no magic).
func decompress(data []byte, maxSize int64) ([]byte, error) {
	var r io.Reader
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return data, nil
	default:
		r = brotli.NewReader(bytes.NewReader(data))
	}
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize)
	}
	return io.ReadAll(r)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".dataset-*.tmp")
	if err != nil {
		return fmt.Errorf("dataset cache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("dataset cache: write: %w", writeErr)
		}
		return fmt.Errorf("dataset cache: close: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("dataset cache: rename: %w", err)
	}
	return nil
}

// parseDataset reads newline-delimited JSON export rows. Unparseable lines
// are skipped; a dataset with a few mangled rows is still worth indexing.
func parseDataset(r io.Reader) (*Index, error) {
	ix := NewIndex()
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, datasetMaxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var row struct {
			ID            int64   `json:"id"`
			OriginalTitle string  `json:"original_title"`
			OriginalName  string  `json:"original_name"`
			Popularity    float64 `json:"popularity"`
		}
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		title := row.OriginalTitle
		if title == "" {
			title = row.OriginalName
		}
		if row.ID == 0 || title == "" {
			continue
		}
		ix.Add(Entry{ID: row.ID, Title: title, Popularity: row.Popularity})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ix, nil
}
