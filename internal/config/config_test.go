package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"TVMUX_DB", "TVMUX_LIVE_REFRESH_HOURS", "TVMUX_VOD_REFRESH_HOURS", "TVMUX_ENRICH_BATCH"} {
		os.Unsetenv(k)
	}
	c := Load()
	if c.DBPath != "./tvmux.db" {
		t.Fatalf("DBPath=%q", c.DBPath)
	}
	if c.LiveRefresh != 12*time.Hour || c.VODRefresh != 24*time.Hour {
		t.Fatalf("refresh defaults: live=%v vod=%v", c.LiveRefresh, c.VODRefresh)
	}
	if c.EnrichBatchSize != defaultBatchSize {
		t.Fatalf("EnrichBatchSize=%d", c.EnrichBatchSize)
	}
}

func TestLoadManualOnlyThreshold(t *testing.T) {
	t.Setenv("TVMUX_LIVE_REFRESH_HOURS", "0")
	c := Load()
	if c.LiveRefresh != 0 {
		t.Fatalf("LiveRefresh=%v want 0 (manual only)", c.LiveRefresh)
	}
}

func TestSeedSources(t *testing.T) {
	t.Setenv("TVMUX_SOURCE_URLS", "http://a.example:8080, http://b.example/get.php?username=u&password=p ,")
	t.Setenv("TVMUX_SOURCE_USER", "u")
	t.Setenv("TVMUX_SOURCE_PASS", "p")
	got := SeedSources()
	if len(got) != 2 {
		t.Fatalf("len=%d want 2", len(got))
	}
	if got[0].IsM3U || !got[1].IsM3U {
		t.Fatalf("type detection: %+v", got)
	}
	if got[0].Username != "u" || got[0].Password != "p" {
		t.Fatalf("credentials not applied: %+v", got[0])
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nTVMUX_TEST_KEY=plain\nTVMUX_TEST_QUOTED=\"quoted value\"\n\nBADLINE\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TVMUX_TEST_KEY", "")
	t.Setenv("TVMUX_TEST_QUOTED", "")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("TVMUX_TEST_KEY"); got != "plain" {
		t.Fatalf("TVMUX_TEST_KEY=%q", got)
	}
	if got := os.Getenv("TVMUX_TEST_QUOTED"); got != "quoted value" {
		t.Fatalf("TVMUX_TEST_QUOTED=%q", got)
	}
}

func TestLoadEnvFileMissingIsNil(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing env file should not error: %v", err)
	}
}
