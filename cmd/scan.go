package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shift6/quotewatch/config"
	"github.com/shift6/quotewatch/internal/feedcache"
	"github.com/shift6/quotewatch/internal/match"
	"github.com/shift6/quotewatch/internal/scheduler"
	"github.com/shift6/quotewatch/internal/search"
	"github.com/shift6/quotewatch/internal/store"
	"github.com/shift6/quotewatch/news/newsapi"
	"github.com/shift6/quotewatch/provider"
	"github.com/shift6/quotewatch/repository/redis_repository"
	"github.com/shift6/quotewatch/tools/web_fetch"
	"github.com/shift6/quotewatch/tools/web_search"
)

// scanCMD runs a single batch of due quotes and exits. Useful for cron-style
// deployments and manual backfills.
func scanCMD() *cobra.Command {
	var limit int
	var cfgPath string
	var scan = &cobra.Command{
		Use:   "scan",
		Short: "Process one batch of due quotes and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return runScan(cfg, limit)
		},
	}
	scan.Flags().IntVar(&limit, "limit", 0, "max quotes to process (0 = scheduler default)")
	scan.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return scan
}

func runScan(cfg *config.Config, limit int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}
	defer st.DB.Close()

	llm, err := provider.NewProviderFromConfig(cfg.LLM)
	if err != nil {
		return err
	}

	rdb, err := redis_repository.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
		cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var fetcher feedcache.Fetcher
	if cfg.Search.NewsAPI.APIKey != "" {
		fetcher = newsapi.NewsAPI{APIKey: cfg.Search.NewsAPI.APIKey, Endpoint: cfg.Search.NewsAPI.Endpoint}
	}
	feed := feedcache.New(fetcher, redis_repository.NewRedisDocumentRepository(rdb),
		cfg.Search.Domains, cfg.Search.FeedCache.Schedule, cfg.Search.FeedCache.TTL,
		log.New(log.Writer(), "[FEED] ", log.LstdFlags))
	feed.Warm(ctx)

	var web web_search.WebSearcher
	switch {
	case cfg.Search.Exa.APIKey != "":
		web, err = web_search.NewWebSearcher(web_search.ExaProvider, cfg.Search.Exa.APIKey)
	case cfg.Search.Serper.APIKey != "":
		web, err = web_search.NewWebSearcher(web_search.SerperProvider, cfg.Search.Serper.APIKey)
	}
	if err != nil {
		return err
	}
	searcher := search.NewSearcher(web, feed, cfg.Search.Domains, log.New(log.Writer(), "[SEARCH] ", log.LstdFlags))

	fetcherType, err := web_fetch.ParseFetcherType(cfg.Search.Fetcher)
	if err != nil {
		return err
	}
	pageFetcher, err := web_fetch.NewWebFetcher(fetcherType, 0, 0)
	if err != nil {
		return err
	}
	engine := match.NewEngine(llm, pageFetcher, match.Config{}, log.New(log.Writer(), "[MATCH] ", log.LstdFlags))

	sched := scheduler.New(st, searcher, engine, llm, llm, nil, scheduler.Config{
		BatchLimit:   cfg.Scheduler.BatchLimit,
		MaxWorkers:   cfg.Scheduler.MaxWorkers,
		QuoteTimeout: cfg.Scheduler.QuoteTimeout,
		LeaseTTL:     cfg.Scheduler.LeaseTTL,
		DeferBackoff: cfg.Scheduler.DeferBackoff,
	}, log.New(log.Writer(), "[SCHED] ", log.LstdFlags), nil)

	processed, err := sched.RunNow(ctx, limit)
	if err != nil {
		return err
	}
	log.Printf("processed %d due quotes", processed)
	return nil
}
