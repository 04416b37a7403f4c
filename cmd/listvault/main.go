package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/JustinTDCT/ListVault/internal/api"
	"github.com/JustinTDCT/ListVault/internal/browser"
	"github.com/JustinTDCT/ListVault/internal/config"
	"github.com/JustinTDCT/ListVault/internal/extractor"
	"github.com/JustinTDCT/ListVault/internal/jobs"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/metadata"
	"github.com/JustinTDCT/ListVault/internal/scraper"
	"github.com/JustinTDCT/ListVault/internal/store"
	"github.com/JustinTDCT/ListVault/internal/version"
)

func main() {
	probeUser := flag.String("probe", "", "fetch one list page statically for the given user id, print the extraction, and exit")
	flag.Parse()

	cfg := config.Load()
	log.Configure(cfg.LogLevel, os.Stdout)
	logger := log.Base()

	ver := version.Load()
	logger.Info().Str("version", ver.Version).Msg("listvault starting")

	if *probeUser != "" {
		if err := runProbe(cfg, *probeUser); err != nil {
			logger.Fatal().Err(err).Msg("probe failed")
		}
		return
	}

	rdb, err := store.Connect(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rdb.Close()

	sessions, err := store.NewSessionStore(cfg.SessionDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.SessionDir).Msg("session dir unusable")
	}

	jobStore := store.NewJobStore(rdb)
	resultCache := store.NewResultCache(rdb, cfg.CacheTTL)
	metaCache := metadata.NewCache(rdb, cfg.MetadataCacheTTL)

	tmdb := metadata.NewClient(cfg.MetadataBaseURL, cfg.MetadataImageBase, cfg.MetadataAPIKey, cfg.MetadataRateLimit)
	enricher := metadata.NewService(tmdb, metaCache, metadata.LoadOverrides(cfg.KindOverridesPath))

	driver, err := browser.NewDriver(cfg.ChromePath, sessions)
	if err != nil {
		logger.Fatal().Err(err).Msg("browser launch failed")
	}
	defer driver.Close()

	fetcher := scraper.NewBrowserFetcher(driver, cfg.SourceBaseURL, "default")
	orchestrator := scraper.NewOrchestrator(fetcher, enricher, resultCache, cfg.MaxPages, cfg.MaxConcurrent)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis url unparseable for queue")
	}
	queue := jobs.NewQueue(redisOpt, cfg.MaxConcurrent)

	wsHub := api.NewWSHub()
	jobsSvc := jobs.NewService(jobStore, queue, cfg, wsHub)
	handler := jobs.NewScrapeHandler(jobStore, resultCache, orchestrator, cfg, wsHub)
	queue.RegisterHandler(jobs.TaskScrapeWatchlist, handler)

	maintenance := jobs.NewMaintenance(jobStore, queue, cfg)
	if err := maintenance.Start(); err != nil {
		logger.Fatal().Err(err).Msg("maintenance scheduler failed to start")
	}

	if err := queue.Start(); err != nil {
		logger.Fatal().Err(err).Msg("queue worker failed to start")
	}

	srv := api.NewServer(cfg, jobsSvc, resultCache, rdb, wsHub)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	maintenance.Stop()
	queue.Stop()
}

// runProbe does a single static-HTML extraction pass. It sees only
// server-rendered rows, so it is a connectivity and selector check, not a
// full scrape.
func runProbe(cfg *config.Config, userID string) error {
	fetcher := scraper.NewStaticFetcher(cfg.SourceBaseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := fetcher.FetchPage(ctx, userID, 1)
	if err != nil {
		return err
	}
	items, counters := extractor.BuildItems(result.Anchors)

	out := map[string]interface{}{
		"state":    result.State,
		"items":    items,
		"counters": counters.ToMap(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode probe output: %w", err)
	}
	return nil
}
