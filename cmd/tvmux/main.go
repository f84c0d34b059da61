// Command tvmux aggregates live and VOD catalogs from multiple IPTV provider
// accounts into one local sqlite store, keeps them fresh, and reconciles
// duplicates across sources.
//
//	run         Daemon: periodic staleness-driven sync + status server. For systemd.
//	sync        One-shot sync of one source or all enabled sources
//	enrich      One-shot catalog matching for one source or all sources
//	status      Print per-source sync status
//	add-source  Register a provider account
//	mod-source  Rename, retarget EPG, or enable/disable a source
//	del-source  Delete a source and every row it owns
//	set-order   Configure the source preference order for one content class
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/tvmux/tvmux/internal/catalog"
	"github.com/tvmux/tvmux/internal/config"
	"github.com/tvmux/tvmux/internal/enrich"
	"github.com/tvmux/tvmux/internal/guard"
	"github.com/tvmux/tvmux/internal/httpclient"
	"github.com/tvmux/tvmux/internal/store"
	"github.com/tvmux/tvmux/internal/syncer"
	"github.com/tvmux/tvmux/internal/webui"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[tvmux] ")

	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	syncSource := syncCmd.String("source", "", "Source id to sync (default: all enabled)")
	syncVOD := syncCmd.Bool("vod", false, "Also sync the VOD catalog, not just live+EPG")

	enrichCmd := flag.NewFlagSet("enrich", flag.ExitOnError)
	enrichSource := enrichCmd.String("source", "", "Source id to enrich (default: all)")

	addCmd := flag.NewFlagSet("add-source", flag.ExitOnError)
	addName := addCmd.String("name", "", "Display name")
	addType := addCmd.String("type", "xtream", "Source type: xtream or m3u")
	addURL := addCmd.String("url", "", "Base URL (xtream) or playlist URL (m3u)")
	addUser := addCmd.String("user", "", "Username (xtream)")
	addPass := addCmd.String("pass", "", "Password (xtream)")
	addEPG := addCmd.String("epg", "", "XMLTV override URL used instead of the provider's EPG endpoint")
	addDisabled := addCmd.Bool("disabled", false, "Register without enabling scheduled syncs")

	modCmd := flag.NewFlagSet("mod-source", flag.ExitOnError)
	modID := modCmd.String("id", "", "Source id to modify")
	modName := modCmd.String("name", "", "New display name")
	modEPG := modCmd.String("epg", "", "New XMLTV override URL")
	modEnable := modCmd.Bool("enable", false, "Enable scheduled syncs")
	modDisable := modCmd.Bool("disable", false, "Disable scheduled syncs")

	delCmd := flag.NewFlagSet("del-source", flag.ExitOnError)
	delID := delCmd.String("id", "", "Source id to delete")

	orderCmd := flag.NewFlagSet("set-order", flag.ExitOnError)
	orderClass := orderCmd.String("class", "vod", "Content class: live or vod")
	orderIDs := orderCmd.String("ids", "", "Comma-separated source ids, most preferred first")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|sync|enrich|status|add-source|mod-source|del-source|set-order> [flags]\n", os.Args[0])
		os.Exit(1)
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	g := guard.New(guard.DefaultWindow)
	datasets := enrich.NewDatasetCache(cfg.DatasetBaseURL, cfg.CacheDir, cfg.DatasetTTL,
		httpclient.WithTimeout(cfg.EnrichMaxDownload))
	engine := enrich.NewEngine(st, g, datasets, cfg.EnrichBatchSize)
	orch := syncer.New(st, g, syncer.Config{
		LiveRefresh:   cfg.LiveRefresh,
		VODRefresh:    cfg.VODRefresh,
		EnrichEnabled: cfg.EnrichEnabled,
	}, engine, nil)

	switch os.Args[1] {
	case "run":
		if err := seedSourcesIfEmpty(ctx, st); err != nil {
			log.Fatalf("seed sources: %v", err)
		}
		runDaemon(ctx, cfg, st, orch, engine)

	case "sync":
		_ = syncCmd.Parse(os.Args[2:])
		if err := runSync(ctx, st, orch, *syncSource, *syncVOD); err != nil {
			log.Fatalf("sync: %v", err)
		}
		// A VOD sync kicks enrichment in the background; hold the process
		// open until it drains instead of losing the kicked work on exit.
		if *syncVOD && cfg.EnrichEnabled {
			if err := engine.Wait(ctx); err != nil {
				log.Printf("sync: enrichment interrupted: %v", err)
			}
		}

	case "enrich":
		_ = enrichCmd.Parse(os.Args[2:])
		if err := runEnrich(ctx, st, engine, *enrichSource); err != nil {
			log.Fatalf("enrich: %v", err)
		}

	case "status":
		if err := printStatus(ctx, st, engine); err != nil {
			log.Fatalf("status: %v", err)
		}

	case "add-source":
		_ = addCmd.Parse(os.Args[2:])
		if *addURL == "" {
			log.Fatal("add-source: -url is required")
		}
		src := catalog.Source{
			ID:             uuid.NewString(),
			Name:           *addName,
			Type:           catalog.SourceType(*addType),
			URL:            *addURL,
			Username:       *addUser,
			Password:       *addPass,
			EPGOverrideURL: *addEPG,
			Enabled:        !*addDisabled,
		}
		if src.Name == "" {
			src.Name = src.URL
		}
		if src.Type != catalog.SourceM3U && src.Type != catalog.SourceXtream {
			log.Fatalf("add-source: unknown type %q", *addType)
		}
		if err := st.AddSource(ctx, &src); err != nil {
			log.Fatalf("add-source: %v", err)
		}
		fmt.Println(src.ID)

	case "mod-source":
		_ = modCmd.Parse(os.Args[2:])
		if *modID == "" {
			log.Fatal("mod-source: -id is required")
		}
		src, err := st.GetSource(ctx, *modID)
		if err != nil {
			log.Fatalf("mod-source: %v", err)
		}
		if *modName != "" {
			src.Name = *modName
		}
		if *modEPG != "" {
			src.EPGOverrideURL = *modEPG
		}
		if *modEnable {
			src.Enabled = true
		}
		if *modDisable {
			src.Enabled = false
		}
		if err := st.UpdateSource(ctx, src); err != nil {
			log.Fatalf("mod-source: %v", err)
		}

	case "del-source":
		_ = delCmd.Parse(os.Args[2:])
		if *delID == "" {
			log.Fatal("del-source: -id is required")
		}
		if err := orch.MarkSourceDeleted(ctx, *delID); err != nil {
			log.Fatalf("del-source: %v", err)
		}
		log.Printf("deleted source %s", *delID)

	case "set-order":
		_ = orderCmd.Parse(os.Args[2:])
		class := catalog.ContentClass(*orderClass)
		if class != catalog.ClassLive && class != catalog.ClassVOD {
			log.Fatalf("set-order: unknown class %q", *orderClass)
		}
		var ids []string
		for _, id := range strings.Split(*orderIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if err := st.SetPreferenceOrder(ctx, class, ids); err != nil {
			log.Fatalf("set-order: %v", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

// seedSourcesIfEmpty registers sources from TVMUX_SOURCE_URLS on first run so
// a fresh container needs no interactive setup.
func seedSourcesIfEmpty(ctx context.Context, st *store.Store) error {
	existing, err := st.ListSources(ctx, false)
	if err != nil || len(existing) > 0 {
		return err
	}
	for _, seed := range config.SeedSources() {
		src := catalog.Source{
			ID:       uuid.NewString(),
			Name:     seed.URL,
			Type:     catalog.SourceXtream,
			URL:      seed.URL,
			Username: seed.Username,
			Password: seed.Password,
			Enabled:  true,
		}
		if seed.IsM3U {
			src.Type = catalog.SourceM3U
		}
		if err := st.AddSource(ctx, &src); err != nil {
			return err
		}
		log.Printf("seeded %s source %s", src.Type, src.ID)
	}
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config, st *store.Store, orch *syncer.Orchestrator, engine *enrich.Engine) {
	if cfg.ListenAddr != "" {
		go func() {
			if err := webui.New(st, engine).ListenAndServe(ctx, cfg.ListenAddr, cfg.MaxStatusConns); err != nil {
				log.Printf("webui: %v", err)
			}
		}()
	}
	log.Printf("run: live refresh %v, vod refresh %v, checking every %v",
		cfg.LiveRefresh, cfg.VODRefresh, cfg.SyncInterval)
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	orch.SyncAllEnabled(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Print("run: shutting down")
			return
		case <-ticker.C:
			orch.SyncAllEnabled(ctx)
		}
	}
}

func runSync(ctx context.Context, st *store.Store, orch *syncer.Orchestrator, sourceID string, vod bool) error {
	sources, err := selectSources(ctx, st, sourceID)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := orch.SyncSource(ctx, src); err != nil {
			log.Printf("sync: %s live: %v", src.ID, err)
		}
		if vod {
			if err := orch.SyncVOD(ctx, src); err != nil {
				log.Printf("sync: %s vod: %v", src.ID, err)
			}
		}
	}
	return nil
}

func runEnrich(ctx context.Context, st *store.Store, engine *enrich.Engine, sourceID string) error {
	sources, err := selectSources(ctx, st, sourceID)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := engine.EnrichSource(ctx, src.ID); err != nil {
			return fmt.Errorf("%s: %w", src.ID, err)
		}
	}
	return nil
}

func selectSources(ctx context.Context, st *store.Store, sourceID string) ([]catalog.Source, error) {
	if sourceID != "" {
		src, err := st.GetSource(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		return []catalog.Source{*src}, nil
	}
	return st.ListSources(ctx, true)
}

func printStatus(ctx context.Context, st *store.Store, engine *enrich.Engine) error {
	sources, err := st.ListSources(ctx, false)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tENABLED\tLIVE SYNCED\tCHANNELS\tVOD SYNCED\tMOVIES\tSERIES\tLAST ERROR")
	for _, src := range sources {
		meta, err := st.Meta(ctx, src.ID)
		if err != nil {
			return err
		}
		lastErr := meta.Error
		if lastErr == "" {
			lastErr = meta.VODError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%d\t%s\t%d\t%d\t%s\n",
			src.ID, src.Name, src.Type, src.Enabled,
			fmtTime(meta.LastSynced), meta.ChannelCount,
			fmtTime(meta.VODLastSynced), meta.VODMovieCount, meta.VODSeriesCount, lastErr)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	stats, err := st.MatchStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("matched: %d/%d movies, %d/%d series\n",
		stats.MoviesMatched, stats.MoviesTotal, stats.SeriesMatched, stats.SeriesTotal)
	return nil
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
