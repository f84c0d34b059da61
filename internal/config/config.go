package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds store, sync, enrichment, and status-server settings.
// Load from env; call LoadEnvFile(".env") before Load() to use a .env file.
type Config struct {
	// Paths
	DBPath   string // sqlite database file, e.g. /var/lib/tvmux/tvmux.db
	CacheDir string // enrichment dataset cache, e.g. /var/cache/tvmux

	// Staleness thresholds per content class. 0 = manual-only (never stale).
	LiveRefresh time.Duration
	VODRefresh  time.Duration

	// Sync loop
	SyncInterval time.Duration // how often the run loop re-evaluates staleness

	// Enrichment
	EnrichEnabled     bool
	DatasetBaseURL    string        // base URL for the bulk id exports (TMDB daily exports)
	DatasetTTL        time.Duration // re-download after this age
	EnrichBatchSize   int           // rows per write-back transaction
	EnrichMaxDownload time.Duration // hard cap on one dataset download

	// Status server
	ListenAddr     string // e.g. :5805; empty = disabled
	MaxStatusConns int    // cap on concurrent status-server connections
}

const (
	defaultDatasetBaseURL = "http://files.tmdb.org/p/exports"
	defaultBatchSize      = 500
)

// Load reads config from environment with defaults suitable for a home server.
func Load() *Config {
	c := &Config{
		DBPath:            getEnv("TVMUX_DB", "./tvmux.db"),
		CacheDir:          getEnv("TVMUX_CACHE", "/var/cache/tvmux"),
		LiveRefresh:       time.Duration(getEnvInt("TVMUX_LIVE_REFRESH_HOURS", 12)) * time.Hour,
		VODRefresh:        time.Duration(getEnvInt("TVMUX_VOD_REFRESH_HOURS", 24)) * time.Hour,
		SyncInterval:      getEnvDuration("TVMUX_SYNC_INTERVAL", 15*time.Minute),
		EnrichEnabled:     getEnvBool("TVMUX_ENRICH_ENABLED", true),
		DatasetBaseURL:    getEnv("TVMUX_DATASET_BASE_URL", defaultDatasetBaseURL),
		DatasetTTL:        getEnvDuration("TVMUX_DATASET_TTL", 24*time.Hour),
		EnrichBatchSize:   getEnvInt("TVMUX_ENRICH_BATCH", defaultBatchSize),
		EnrichMaxDownload: getEnvDuration("TVMUX_DATASET_TIMEOUT", 10*time.Minute),
		ListenAddr:        getEnv("TVMUX_LISTEN", ":5805"),
		MaxStatusConns:    getEnvInt("TVMUX_STATUS_MAX_CONNS", 32),
	}
	if c.EnrichBatchSize <= 0 {
		c.EnrichBatchSize = defaultBatchSize
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 15 * time.Minute
	}
	if c.MaxStatusConns <= 0 {
		c.MaxStatusConns = 32
	}
	return c
}

// SeedSource describes a source taken from env for first-run convenience:
// TVMUX_SOURCE_URLS (comma-separated), with TVMUX_SOURCE_USER / TVMUX_SOURCE_PASS
// applied to each. URLs containing get.php or ending in .m3u/.m3u8 are treated
// as playlist sources, everything else as Xtream.
type SeedSource struct {
	URL      string
	Username string
	Password string
	IsM3U    bool
}

// SeedSources returns sources from env, or nil when none are configured.
func SeedSources() []SeedSource {
	s := os.Getenv("TVMUX_SOURCE_URLS")
	if s == "" {
		return nil
	}
	user := os.Getenv("TVMUX_SOURCE_USER")
	pass := os.Getenv("TVMUX_SOURCE_PASS")
	parts := strings.Split(s, ",")
	out := make([]SeedSource, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lower := strings.ToLower(p)
		isM3U := strings.Contains(lower, "get.php") ||
			strings.HasSuffix(lower, ".m3u") || strings.HasSuffix(lower, ".m3u8")
		out = append(out, SeedSource{URL: p, Username: user, Password: pass, IsM3U: isM3U})
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
