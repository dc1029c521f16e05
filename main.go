package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"inmobiscrap/config"
	"inmobiscrap/extractor"
	"inmobiscrap/httputil"
	"inmobiscrap/lease"
	"inmobiscrap/logging"
	"inmobiscrap/metrics"
	"inmobiscrap/models"
	"inmobiscrap/normalize"
	"inmobiscrap/ops"
	"inmobiscrap/reduce"
	"inmobiscrap/scheduler"
	"inmobiscrap/scraper"
	"inmobiscrap/services"
	"inmobiscrap/storage"
	"inmobiscrap/workers"
)

var (
	scrapeNow = flag.Bool("scrape", false, "Dispatch due sources once and exit")
	sourceID  = flag.Int64("source", 0, "Run a single source by id and exit")
	showStats = flag.Bool("stats", false, "Print property stats and exit")
)

// propertyBackend is the domain store: Postgres when DATABASE_URL is set,
// the SQLite file otherwise.
type propertyBackend interface {
	services.PropertyStore
	Stats(ctx context.Context) ([]models.CategoryStats, error)
	TopCommunes(ctx context.Context, limit int) ([]models.CommuneCount, error)
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logFile, err := logging.Setup(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		logger.Warn("could not set up file logging", zap.Error(err))
	} else {
		defer logFile.Close()
	}
	defer logger.Sync()

	logger.Info("starting inmobiscrap", zap.Int("sites", len(cfg.Sites)))
	for _, site := range cfg.SortedSites() {
		logger.Info("site loaded", zap.String("id", site.ID), zap.String("name", site.Name), zap.String("fetcher", site.Fetcher))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open SQLite", zap.Error(err))
	}
	defer sqliteStore.Close()
	logger.Info("SQLite database", zap.String("path", cfg.DBPath))

	var properties propertyBackend = sqliteStore
	if cfg.Postgres.DBURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Postgres.DBURL)
		if err != nil {
			logger.Fatal("failed to connect to Postgres", zap.Error(err))
		}
		defer pgStore.Close()
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate Postgres", zap.Error(err))
		}
		properties = pgStore
		logger.Info("connected to Postgres", zap.String("url", maskConnectionString(cfg.Postgres.DBURL)))
	}

	if *showStats {
		if err := printStats(ctx, properties); err != nil {
			logger.Fatal("stats failed", zap.Error(err))
		}
		return
	}

	seedSources(cfg, sqliteStore, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var locker lease.Locker = lease.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		rdb, err := lease.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		locker = lease.NewRedisLocker(rdb, "", logger)
		logger.Info("source leases in Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var archive scraper.Archiver
	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			logger.Fatal("failed to configure S3", zap.Error(err))
		}
		archive = storage.NewSnapshotArchive(uploader, "snapshots")
		logger.Info("archiving snapshots", zap.String("bucket", cfg.S3.Bucket))
	}

	clients := httputil.NewClients(cfg.Proxy, cfg.Fetch.Timeout, cfg.LLM.Timeout)
	if cfg.Proxy.URL != "" {
		logger.Info("scraping through proxy", zap.String("proxy", maskConnectionString(cfg.Proxy.URL)))
	}

	httpFetcher := scraper.NewHTTPFetcher(clients.Scraping, m, logger)
	var browser scraper.Fetcher
	if needsBrowser(cfg) {
		bf := scraper.NewBrowserFetcher(cfg.Browser.ProfileDir, cfg.Browser.Headless, cfg.Fetch.Timeout, m, logger)
		defer bf.Close()
		browser = bf
	}

	if attempt := cfg.Fetch.Timeout + cfg.LLM.Timeout; cfg.Redis.LeaseTTL < attempt {
		logger.Warn("LEASE_TTL is shorter than one fetch plus LLM call, a slow attempt can outlive its lease",
			zap.Duration("lease_ttl", cfg.Redis.LeaseTTL), zap.Duration("attempt", attempt))
	}

	orchestrator := scraper.NewOrchestrator(scraper.Deps{
		Sources:    sqliteStore,
		Tracker:    services.NewRunTracker(sqliteStore, logger),
		Properties: services.NewPropertyService(properties, normalize.New(cfg.Extraction.UFRate), logger),
		Fetcher:    scraper.NewRouter(cfg, httpFetcher, browser),
		Reducer:    reduce.New(cfg.Extraction.CharBudget(), logger),
		Heuristic:  extractor.NewHeuristic(cfg.Extraction.UFRate, cfg.Extraction.MaxListings),
		LLM:        extractor.NewLLM(extractor.NewOllamaClient(clients.API), logger),
		Extraction: extractionConfig(cfg),
		Locker:     locker,
		LeaseTTL:   cfg.Redis.LeaseTTL,
		Retry:      scraper.RetryPolicy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay},
		Archive:    archive,
		Metrics:    m,
		Logger:     logger,
	})

	sched := scheduler.New(cfg.Scheduler, orchestrator, sqliteStore, logger)

	if *sourceID != 0 {
		summary, err := orchestrator.RunPipeline(ctx, *sourceID)
		if err != nil {
			logger.Fatal("run failed", zap.Int64("source_id", *sourceID), zap.Error(err))
		}
		logger.Info("run complete",
			zap.String("status", string(summary.Status)),
			zap.Int("found", summary.Found),
			zap.Int("created", summary.Created),
			zap.Int("updated", summary.Updated),
			zap.Int("failed", summary.Failed))
		return
	}

	if *scrapeNow {
		n, err := sched.DispatchDue(ctx)
		if err != nil {
			logger.Fatal("scrape failed", zap.Error(err))
		}
		logger.Info("scrape complete", zap.Int("sources", n))
		return
	}

	// Daemon mode
	maintenance := workers.NewMaintenanceWorker(sqliteStore,
		cfg.Maintenance.LogRetentionDays, cfg.Maintenance.FailureThreshold, cfg.Redis.LeaseTTL, logger)
	maintenance.SetLogger(func(level models.LogLevel, message string) {
		if err := sqliteStore.Log(nil, level, message, 0); err != nil {
			logger.Warn("persist maintenance log", zap.Error(err))
		}
	})
	go maintenance.Run(ctx, cfg.Maintenance.ReclaimInterval)
	sched.SetMaintenance(maintenance)

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           ops.NewServer(sqliteStore, sched, m.Handler(), logger).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("ops server listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server", zap.Error(err))
			}
		}()
	}

	logger.Info("daemon running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down")
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		done()
	}
	sched.Stop()
	logger.Info("goodbye")
}

func extractionConfig(cfg *config.Config) extractor.ExtractionConfig {
	ec := extractor.ExtractionConfig{
		Model:            cfg.LLM.Model,
		BaseURL:          cfg.LLM.BaseURL,
		Temperature:      cfg.LLM.Temperature,
		ContextWindow:    cfg.LLM.ContextWindow,
		JSONOutput:       cfg.LLM.JSONOutput,
		RepeatPenalty:    cfg.LLM.RepeatPenalty,
		PresencePenalty:  cfg.LLM.PresencePenalty,
		FrequencyPenalty: cfg.LLM.FrequencyPenalty,
		UFRate:           cfg.Extraction.UFRate,
	}
	for _, site := range cfg.SortedSites() {
		if site.Hint != "" {
			ec.Hints = append(ec.Hints, extractor.SiteHint{Match: site.Match, Hint: site.Hint})
		}
	}
	return ec
}

func needsBrowser(cfg *config.Config) bool {
	for _, site := range cfg.Sites {
		if site.Fetcher == "browser" {
			return true
		}
	}
	return false
}

// seedSources registers the source URLs listed in the site configs.
// Existing rows are left alone.
func seedSources(cfg *config.Config, store *storage.SQLiteStore, logger *zap.Logger) {
	for _, site := range cfg.SortedSites() {
		for _, seed := range site.Sources {
			src := &models.Source{
				URL:            seed.URL,
				SiteName:       site.Name,
				Description:    seed.Description,
				Priority:       models.Priority(seed.Priority),
				Active:         true,
				FrequencyHours: seed.FrequencyHours,
			}
			if src.Priority == "" {
				src.Priority = models.PriorityMedium
			}
			if src.FrequencyHours == 0 {
				src.FrequencyHours = 24
			}
			id, created, err := store.EnsureSource(src)
			if err != nil {
				logger.Error("seed source", zap.String("url", seed.URL), zap.Error(err))
				continue
			}
			if created {
				logger.Info("source added", zap.Int64("id", id), zap.String("url", seed.URL))
			}
		}
	}
}

func printStats(ctx context.Context, store propertyBackend) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%-22s %8s %8s %16s\n", "CATEGORY", "TOTAL", "ACTIVE", "AVG PRICE")
	for _, st := range stats {
		fmt.Printf("%-22s %8d %8d %16.0f\n", st.Category, st.Count, st.ActiveCount, st.AveragePrice)
	}

	communes, err := store.TopCommunes(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("TOP COMMUNES")
	for _, c := range communes {
		fmt.Printf("  %-24s %6d\n", c.Commune, c.Count)
	}
	return nil
}

// maskConnectionString hides the password of a URL-style connection string.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
