package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/shift6/quotewatch/config"
	"github.com/shift6/quotewatch/internal/feedcache"
	"github.com/shift6/quotewatch/internal/match"
	"github.com/shift6/quotewatch/internal/notify"
	"github.com/shift6/quotewatch/internal/queue/streams"
	"github.com/shift6/quotewatch/internal/scheduler"
	"github.com/shift6/quotewatch/internal/search"
	srv "github.com/shift6/quotewatch/internal/server"
	"github.com/shift6/quotewatch/internal/store"
	"github.com/shift6/quotewatch/internal/telemetry"
	"github.com/shift6/quotewatch/news/newsapi"
	"github.com/shift6/quotewatch/provider"
	"github.com/shift6/quotewatch/repository/redis_repository"
	"github.com/shift6/quotewatch/tools/web_fetch"
	"github.com/shift6/quotewatch/tools/web_search"
)

const serviceVersion = "0.1.0"

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring loop and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return runServe(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

func runServe(cfg *config.Config, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil && !errors.Is(err, gomigrate.ErrNoChange) {
		return err
	}

	tele, meter, _, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
		ServiceName:    "quotewatch",
		ServiceVersion: serviceVersion,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tele.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

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

	// Feed cache: NewsAPI refresh loop backed by redis so restarts keep the
	// last window of articles.
	var fetcher feedcache.Fetcher
	if cfg.Search.NewsAPI.APIKey != "" {
		fetcher = newsapi.NewsAPI{APIKey: cfg.Search.NewsAPI.APIKey, Endpoint: cfg.Search.NewsAPI.Endpoint}
	}
	feedLogger := log.New(log.Writer(), "[FEED] ", log.LstdFlags)
	feed := feedcache.New(fetcher, redis_repository.NewRedisDocumentRepository(rdb),
		cfg.Search.Domains, cfg.Search.FeedCache.Schedule, cfg.Search.FeedCache.TTL, feedLogger)
	feed.Warm(ctx)
	go feed.Start(ctx)

	var web web_search.WebSearcher
	switch {
	case cfg.Search.Exa.APIKey != "":
		web, err = web_search.NewWebSearcher(web_search.ExaProvider, cfg.Search.Exa.APIKey)
	case cfg.Search.Serper.APIKey != "":
		web, err = web_search.NewWebSearcher(web_search.SerperProvider, cfg.Search.Serper.APIKey)
	default:
		log.Printf("no live search provider configured; all cycles use the feed cache")
	}
	if err != nil {
		return err
	}
	searchLogger := log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	searcher := search.NewSearcher(web, feed, cfg.Search.Domains, searchLogger)

	fetcherType, err := web_fetch.ParseFetcherType(cfg.Search.Fetcher)
	if err != nil {
		return err
	}
	pageFetcher, err := web_fetch.NewWebFetcher(fetcherType, 0, 0)
	if err != nil {
		return err
	}
	matchLogger := log.New(log.Writer(), "[MATCH] ", log.LstdFlags)
	engine := match.NewEngine(llm, pageFetcher, match.Config{}, matchLogger)

	notifyLogger := log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)
	notifier := notify.NewNotifier(streams.NewPublisher(rdb), notifyLogger)
	var lagReader srv.LagReader
	if cfg.Notify.WebhookURL != "" {
		if err := streams.EnsureGroup(ctx, rdb, notify.StreamHitCreated, notify.DispatchGroup); err != nil {
			return err
		}
		host, _ := os.Hostname()
		if host == "" {
			host = "quotewatch"
		}
		consumer := streams.NewConsumer(rdb, notify.DispatchGroup, host)
		lagReader = func(ctx context.Context) (streams.LagMetrics, error) {
			return consumer.Lag(ctx, notify.StreamHitCreated)
		}
		sender := notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
		dispatcher := notify.NewDispatcher(consumer, sender, cfg.Notify.Recipients, notifyLogger)
		go func() {
			if err := dispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				notifyLogger.Printf("dispatcher stopped: %v", err)
			}
		}()
	}

	schedLogger := log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	sched := scheduler.New(st, searcher, engine, llm, llm, notifier, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		BatchLimit:   cfg.Scheduler.BatchLimit,
		MaxWorkers:   cfg.Scheduler.MaxWorkers,
		QuoteTimeout: cfg.Scheduler.QuoteTimeout,
		LeaseTTL:     cfg.Scheduler.LeaseTTL,
		DeferBackoff: cfg.Scheduler.DeferBackoff,
	}, schedLogger, meter)
	go func() {
		if err := sched.Start(ctx); err != nil {
			schedLogger.Printf("scheduler stopped: %v", err)
		}
	}()

	e := srv.New(srv.Deps{
		Store:     st,
		Embedder:  llm,
		Scanner:   sched,
		NotifyLag: lagReader,
		Registry:  tele.Registry(),
		Logger:    log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
