package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/cache"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/catalog"
	cfgPkg "github.com/JavierArriagada/pharmacy-data-extractor/pkg/config"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/index"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/llm"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/matcher"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/pipeline"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/processor"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/scraper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the vector index and match the internal catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.pipeline.Run(ctx)
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the vector index from the scraped listings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.pipeline.Ingest(ctx)
			if err != nil {
				return err
			}
			color.Green("✓ Indexed %d listings (%d skipped)", report.Indexed, report.Skipped)
			return nil
		})
	},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match the internal catalog against the existing index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.pipeline.Match(ctx, pipeline.NewRunID())
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		})
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [site...]",
	Short: "Scrape the configured sites (all of them when none is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		sites, err := selectSites(cfg.Scraper.Sites, args)
		if err != nil {
			return err
		}
		db, err := catalog.Open(cfg.Database, log)
		if err != nil {
			return err
		}
		defer catalog.Close(db)

		return scrapeSites(cmd.Context(), db, sites)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Scrape every site and run the pipeline on the configured cron schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var running atomic.Bool
		job := func() {
			if !running.CompareAndSwap(false, true) {
				log.Warn("Previous run still in progress, skipping")
				return
			}
			defer running.Store(false)

			if err := scheduledRun(ctx); err != nil {
				log.Error("Scheduled run failed", "error", err)
			}
		}

		c := cron.New(cron.WithSeconds())
		if _, err := c.AddFunc(cfg.Schedule.Cron, job); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", cfg.Schedule.Cron, err)
		}
		c.Start()
		log.Info("Scheduler started", "cron", cfg.Schedule.Cron)

		<-ctx.Done()
		<-c.Stop().Done()
		log.Info("Scheduler stopped")
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the vector index",
}

var indexDropCmd = &cobra.Command{
	Use:   "drop [collection]",
	Short: "Drop a collection (the configured one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := cfg.Index.Collection
		if len(args) > 0 {
			name = args[0]
		}

		ctx := cmd.Context()
		ix, err := index.Open(ctx, cfg.Index, cfg.Embedder.Dimension, log)
		if err != nil {
			return err
		}
		defer ix.Close()

		if err := ix.DropCollection(ctx, name); err != nil {
			return err
		}
		color.Green("✓ Dropped collection %s", name)
		return nil
	},
}

var fresh bool

func init() {
	for _, c := range []*cobra.Command{runCmd, ingestCmd, scheduleCmd} {
		c.Flags().BoolVar(&fresh, "fresh", false, "drop the existing collection before ingest")
	}
	indexCmd.AddCommand(indexDropCmd)
	rootCmd.AddCommand(runCmd, ingestCmd, matchCmd, scrapeCmd, scheduleCmd, indexCmd)
}

type app struct {
	db       *gorm.DB
	index    *index.Index
	cache    cache.Store
	pipeline *pipeline.Pipeline
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.index != nil {
		a.index.Close()
	}
	if a.db != nil {
		catalog.Close(a.db)
	}
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newApp(ctx context.Context, cfg *cfgPkg.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.db, err = catalog.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	a.cache, err = openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	opts := []llm.Option{llm.WithLogger(log)}
	if a.cache != nil {
		opts = append(opts, llm.WithCache(a.cache))
	}
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:    cfg.Embedder.Provider,
		Model:       cfg.Embedder.Model,
		BaseURL:     cfg.Embedder.BaseURL,
		Dimension:   cfg.Embedder.Dimension,
		BatchSize:   cfg.Embedder.BatchSize,
		Concurrency: cfg.Embedder.Concurrency,
	}, opts...)
	if err != nil {
		return nil, err
	}

	a.index, err = index.Open(ctx, cfg.Index, embedder.Dimension(), log)
	if err != nil {
		return nil, err
	}

	a.pipeline = pipeline.New(
		pipeline.Config{
			Collection: cfg.Index.Collection,
			Fresh:      fresh,
			Matcher: matcher.Config{
				ApprovedSources: cfg.Matcher.ApprovedSources,
				SiteIDs:         cfg.Matcher.SiteIDs,
				K:               cfg.Matcher.K,
			},
		},
		catalog.NewRepository(a.db, log),
		embedder,
		a.index,
		catalog.NewBatchTracker(a.db, log),
		catalog.NewResultWriter(a.db, log),
		log,
		pipeline.WithProgress(&barProgress{}),
	)

	ok = true
	return a, nil
}

func openCache(ctx context.Context, cfg cfgPkg.CacheConfig) (cache.Store, error) {
	switch cfg.Type {
	case "memory":
		return cache.NewMemoryCache(cfg.TTL), nil
	case "redis":
		store, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func selectSites(sites []cfgPkg.SiteConfig, names []string) ([]cfgPkg.SiteConfig, error) {
	if len(names) == 0 {
		return sites, nil
	}

	byName := make(map[string]cfgPkg.SiteConfig, len(sites))
	for _, s := range sites {
		byName[s.Name] = s
	}

	selected := make([]cfgPkg.SiteConfig, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown site: %s", name)
		}
		selected = append(selected, s)
	}
	return selected, nil
}

// scrapeSites runs the sites one after the other and stores what each
// returns. A failing site is reported and the rest still run.
func scrapeSites(ctx context.Context, db *gorm.DB, sites []cfgPkg.SiteConfig) error {
	repo := catalog.NewRepository(db, log)
	proc := processor.NewWithConfig(processor.ProcessorConfig{})
	failed := 0

	for _, site := range sites {
		start := time.Now()
		color.Blue("\nScraping %s", site.Name)

		spinner := getSpinner(fmt.Sprintf("📄 Scraping %s...", site.Name))
		s, err := scraper.NewWithConfig(scraper.ScraperConfig{
			Site:       site,
			RateLimit:  cfg.Scraper.RateLimit,
			Timeout:    cfg.Scraper.Timeout,
			MaxPages:   cfg.Scraper.MaxPages,
			UserAgent:  cfg.Scraper.UserAgent,
			OnProgress: func(url string) { _ = spinner.Add(1) },
		}, log)
		if err != nil {
			return err
		}

		items, err := s.Scrape(ctx)
		_ = spinner.Finish()
		fmt.Println()
		if err != nil {
			color.Red("✗ %s failed after %s: %v", site.Name, time.Since(start).Round(time.Second), err)
			failed++
			continue
		}

		products, stats := proc.Process(items)
		if err := repo.SaveExternalProducts(ctx, products); err != nil {
			return err
		}
		color.Green("✓ %s: %d listings (%d merged, %d dropped) in %s",
			site.Name, stats.Output, stats.Merged, stats.Dropped, time.Since(start).Round(time.Second))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sites failed", failed, len(sites))
	}
	return nil
}

func scheduledRun(ctx context.Context) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := scrapeSites(ctx, a.db, cfg.Scraper.Sites); err != nil {
		log.Warn("Scrape finished with errors", "error", err)
	}
	report, err := a.pipeline.Run(ctx)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func printReport(report pipeline.MatchReport) {
	color.Green("\n✓ Load batch %d (%s): %d rows, status %s",
		report.LoadID, report.RunID, report.Rows, report.Status)
}
