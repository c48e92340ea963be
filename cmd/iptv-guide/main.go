// Command iptv-guide: XMLTV schedule service for IPTV playback clients.
//
//	sync   One ingestion run: fetch the feed, upsert the schedule, prune, exit
//	serve  Run the guide API only (sync on demand via POST /internal/sync)
//	run    Sync at startup, then serve with periodic re-sync. For systemd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/iptvguide/internal/config"
	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/health"
	"github.com/snapetech/iptvguide/internal/httpclient"
	"github.com/snapetech/iptvguide/internal/ingest"
	"github.com/snapetech/iptvguide/internal/lineup"
	"github.com/snapetech/iptvguide/internal/safetext"
	"github.com/snapetech/iptvguide/internal/server"
	"github.com/snapetech/iptvguide/internal/store"
	"github.com/snapetech/iptvguide/internal/trigger"
)

// newSyncer wires one feed syncer from config.
func newSyncer(cfg *config.Config, st *store.Store) *ingest.Syncer {
	var limiter *rate.Limiter
	if cfg.MinFetchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinFetchInterval), 1)
	}
	return &ingest.Syncer{
		FeedURL:   cfg.FeedURL,
		Store:     st,
		Filter:    safetext.New(cfg.DenyWords),
		Client:    httpclient.WithTimeout(cfg.FetchTimeout),
		BatchSize: cfg.BatchSize,
		Retention: cfg.Retention,
		StatePath: cfg.StatePath,
		Limiter:   limiter,
	}
}

// loadLineup loads the channel lineup file, or returns an empty lineup when
// none is configured. A configured-but-unreadable path is fatal.
func loadLineup(cfg *config.Config) *lineup.Lineup {
	if cfg.LineupPath == "" {
		return lineup.New()
	}
	ln, err := lineup.Load(cfg.LineupPath)
	if err != nil {
		log.Printf("Load lineup %s: %v", cfg.LineupPath, err)
		os.Exit(1)
	}
	log.Printf("Loaded lineup: %d channels (%d EPG-linked) from %s",
		len(ln.All()), len(ln.EPGChannelIDs()), cfg.LineupPath)
	return ln
}

// archivePolicy resolves per-channel catch-up policy: the lineup entry wins,
// channels absent from the lineup fall back to the config defaults.
func archivePolicy(ln *lineup.Lineup, cfg *config.Config) guide.PolicyFunc {
	return func(id string) guide.ArchivePolicy {
		if _, ok := ln.ByEPGID(id); ok {
			enabled, days := ln.Archive(id)
			return guide.ArchivePolicy{Enabled: enabled, Days: days}
		}
		return guide.ArchivePolicy{Enabled: cfg.ArchiveEnabled, Days: cfg.ArchiveDays}
	}
}

// serveAPI blocks until ctx is cancelled, then shuts the listener down.
func serveAPI(ctx context.Context, addr string, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	log.Printf("Guide API listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[iptv-guide] ")

	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	syncFeed := syncCmd.String("feed", "", "XMLTV feed URL (default: IPTV_GUIDE_FEED_URL)")
	syncDB := syncCmd.String("db", "", "SQLite schedule database path (default: IPTV_GUIDE_DB)")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveAddr := serveCmd.String("addr", "", "Listen address (default: IPTV_GUIDE_ADDR)")
	serveDB := serveCmd.String("db", "", "SQLite schedule database path (default: IPTV_GUIDE_DB)")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runAddr := runCmd.String("addr", "", "Listen address (default: IPTV_GUIDE_ADDR)")
	runFeed := runCmd.String("feed", "", "XMLTV feed URL (default: IPTV_GUIDE_FEED_URL)")
	runDB := runCmd.String("db", "", "SQLite schedule database path (default: IPTV_GUIDE_DB)")
	runInterval := runCmd.Duration("interval", 0, "Re-sync interval (default: IPTV_GUIDE_SYNC_INTERVAL)")
	runSkipHealth := runCmd.Bool("skip-health", false, "Skip the feed reachability check at startup")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <sync|serve|run> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  sync   One ingestion run: fetch feed, upsert schedule, prune, exit\n")
		fmt.Fprintf(os.Stderr, "  serve  Guide API only (sync on demand via POST /internal/sync)\n")
		fmt.Fprintf(os.Stderr, "  run    Sync at startup, then serve with periodic re-sync (for systemd)\n")
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "sync":
		_ = syncCmd.Parse(os.Args[2:])
		if *syncFeed != "" {
			cfg.FeedURL = *syncFeed
		}
		if *syncDB != "" {
			cfg.DBPath = *syncDB
		}
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Printf("Open store: %v", err)
			os.Exit(1)
		}
		defer st.Close()
		res, err := newSyncer(cfg, st).Sync(context.Background())
		if err != nil {
			if errors.Is(err, ingest.ErrFeedUnavailable) {
				log.Printf("Sync failed (feed unavailable, safe to retry): %v", err)
			} else {
				log.Printf("Sync failed: %v", err)
			}
			os.Exit(1)
		}
		if res.NotModified {
			log.Printf("Feed not modified; schedule unchanged (%v)", res.Duration)
			return
		}
		log.Printf("Synced %d channels, %d programs (%d filtered, %d skipped, %d pruned) in %v",
			res.Channels, res.Programmes, res.Filtered, res.Skipped, res.Pruned, res.Duration)

	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		if *serveAddr != "" {
			cfg.ListenAddr = *serveAddr
		}
		if *serveDB != "" {
			cfg.DBPath = *serveDB
		}
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Printf("Open store: %v", err)
			os.Exit(1)
		}
		defer st.Close()
		ln := loadLineup(cfg)
		engine := &guide.Engine{Store: st, Policy: archivePolicy(ln, cfg)}
		tr := &trigger.Trigger{
			Sync:          newSyncer(cfg, st).Sync,
			Interval:      cfg.SyncInterval,
			RetryInterval: cfg.RetryInterval,
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		api := server.New(engine, st, ln, tr)
		if err := serveAPI(ctx, cfg.ListenAddr, api.Router()); err != nil {
			log.Printf("Serve failed: %v", err)
			os.Exit(1)
		}

	case "run":
		_ = runCmd.Parse(os.Args[2:])
		if *runAddr != "" {
			cfg.ListenAddr = *runAddr
		}
		if *runFeed != "" {
			cfg.FeedURL = *runFeed
		}
		if *runDB != "" {
			cfg.DBPath = *runDB
		}
		if *runInterval > 0 {
			cfg.SyncInterval = *runInterval
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !*runSkipHealth {
			log.Print("Checking feed ...")
			checkCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			err := health.CheckFeed(checkCtx, cfg.FeedURL)
			cancel()
			if err != nil {
				log.Printf("Feed check failed: %v", err)
				os.Exit(1)
			}
			log.Print("Feed OK")
		}

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Printf("Open store: %v", err)
			os.Exit(1)
		}
		defer st.Close()
		ln := loadLineup(cfg)
		engine := &guide.Engine{Store: st, Policy: archivePolicy(ln, cfg)}
		tr := &trigger.Trigger{
			Sync:          newSyncer(cfg, st).Sync,
			Interval:      cfg.SyncInterval,
			RetryInterval: cfg.RetryInterval,
		}
		go tr.Run(ctx)

		// Readiness probe once the listener is up.
		go func() {
			time.Sleep(2 * time.Second)
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := health.CheckEndpoints(checkCtx, cfg.BaseURL); err != nil {
				log.Printf("Endpoint check failed: %v", err)
				return
			}
			log.Printf("Service ready at %s (re-sync every %v)", cfg.BaseURL, cfg.SyncInterval)
		}()

		api := server.New(engine, st, ln, tr)
		if err := serveAPI(ctx, cfg.ListenAddr, api.Router()); err != nil {
			log.Printf("Serve failed: %v", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}
