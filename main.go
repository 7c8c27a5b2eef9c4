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
	"time"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/httputil"
	"github.com/quicklywilliam/usedevpricetracker-sub000/logging"
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/scheduler"
	"github.com/quicklywilliam/usedevpricetracker-sub000/scraper"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
	"github.com/quicklywilliam/usedevpricetracker-sub000/storage"
)

var (
	scrapeNow    = flag.Bool("scrape", false, "Run scrape once and exit")
	reconcileNow = flag.Bool("reconcile", false, "Run status reconciliation once and exit")
	report       = flag.Bool("report", false, "Print diff and price report and exit")
	sourceFlag   = flag.String("source", "", "Restrict to one source id")
	modelsFlag   = flag.String("models", "", "Comma-separated model filter (substring match)")
	limitFlag    = flag.Int("limit", 0, "Override per-model target count")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting usedevpricetracker...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d source configs, %d queries", len(cfg.Sources), len(cfg.Queries))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (%s, enabled=%v)", src.Name, id, src.Enabled)
	}

	clients := httputil.NewClients(cfg.Proxy.URL)

	ctx := context.Background()

	snapStore, err := storage.NewSnapshotStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open snapshot store: %v", err)
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	orchestrator := scraper.NewOrchestrator(cfg, snapStore, sqliteStore, clients)

	reconciler := services.NewReconciler(snapStore, clients.Scraping,
		time.Duration(cfg.Scraper.RevisitDelayMS)*time.Millisecond)

	// Optional event archive
	if cfg.Postgres.DBURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Postgres.DBURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Postgres.DBURL))
		orchestrator.SetArchive(pgStore)
		reconciler.SetArchive(pgStore)
	}

	// Optional snapshot backup
	if cfg.Backup.Bucket != "" {
		backup, err := storage.NewS3Backup(ctx, storage.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to configure S3 backup: %v", err)
		}
		log.Printf("Snapshot backup bucket: %s", cfg.Backup.Bucket)
		orchestrator.SetBackup(backup)
	}

	filters := scraper.RunFilters{
		Source:        *sourceFlag,
		LimitOverride: *limitFlag,
	}
	if *modelsFlag != "" {
		filters.Models = strings.Split(*modelsFlag, ",")
	}

	switch {
	case *scrapeNow:
		log.Println("Running scrape...")
		summary := orchestrator.RunAll(ctx, filters)
		// Pair failures are already isolated and tallied; they are not a
		// process failure. Only config and store init exit non-zero.
		for _, pair := range summary.Failed {
			log.Printf("  failed %s: %s", summary.Key(pair.Source, pair.Query), pair.Error)
		}
		log.Printf("Scrape complete: %d pairs succeeded, %d failed",
			len(summary.Succeeded), len(summary.Failed))
		return
	case *reconcileNow:
		log.Println("Running reconciliation...")
		orchestrator.ReconcileAll(ctx, reconciler)
		log.Println("Reconciliation complete!")
		return
	case *report:
		printReport(cfg, snapStore, *sourceFlag)
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, reconciler)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// printReport prints the day-over-day diff, per-model stats, and sold
// listings for each source (or the one named).
func printReport(cfg *config.Config, store *storage.SnapshotStore, onlySource string) {
	for id, src := range cfg.Sources {
		if onlySource != "" && onlySource != id {
			continue
		}
		if !src.Enabled {
			continue
		}

		dates, err := store.Dates(id)
		if err != nil || len(dates) == 0 {
			fmt.Printf("%s: no snapshots\n", id)
			continue
		}
		latest := dates[len(dates)-1]

		current, err := store.LoadDay(id, latest)
		if err != nil || current == nil {
			fmt.Printf("%s: could not load %s\n", id, latest)
			continue
		}

		var previous *models.SourceSnapshot
		if prev, err := store.LatestBefore(id, latest); err == nil && prev != nil {
			previous = prev.Snapshot
		}

		diff := services.Diff(previous, current)
		fmt.Printf("== %s (%s) ==\n", id, latest)
		fmt.Printf("  new: %d, price changes: %d, missing: %d, sold: %d\n",
			len(diff.New), len(diff.PriceChanged), len(diff.Missing), len(diff.Sold))

		for _, st := range services.GroupStats(current) {
			count := fmt.Sprintf("%d", st.Count)
			if st.ExceededMax {
				count += "+"
			}
			fmt.Printf("  %s %s: %s listings, $%d-$%d, avg $%.0f, median $%.0f\n",
				st.Make, st.Model, count, st.MinPrice, st.MaxPrice, st.AvgPrice, st.MedianPrice)
		}

		history, err := store.LoadHistory(id, nil)
		if err != nil {
			fmt.Printf("  history unavailable: %v\n", err)
			continue
		}

		for _, sold := range services.SoldListings(history) {
			fmt.Printf("  sold: %s %d %s %s after %d days ($%d)\n",
				sold.Listing.ID, sold.Listing.Year, sold.Listing.Make,
				sold.Listing.Model, sold.DaysOnMarket, sold.Listing.Price)
		}

		hasData := make(map[string]bool, len(dates))
		for _, d := range dates {
			hasData[d] = true
		}
		buckets := services.AggregateDates(dates, services.DefaultAggregationThreshold, hasData)

		for _, q := range cfg.Queries {
			series := services.PriceSeries(history, q.MakeModel())
			if len(series) == 0 {
				continue
			}
			agg := services.AggregateSeries(series, buckets)
			count, avg := services.WeightedAverage(series)
			fmt.Printf("  %s: %d points (%d buckets), weighted avg $%.0f over %d listings\n",
				q.Label(), len(series), len(agg), avg, count)
		}
	}
}

// maskConnectionString masks the password in a connection string for logging.
func maskConnectionString(connStr string) string {
	schemeEnd := strings.Index(connStr, "://")
	if schemeEnd < 0 {
		return connStr
	}
	rest := connStr[schemeEnd+3:]

	atIdx := strings.Index(rest, "@")
	if atIdx < 0 {
		return connStr
	}
	colonIdx := strings.Index(rest[:atIdx], ":")
	if colonIdx < 0 {
		return connStr
	}
	return connStr[:schemeEnd+3] + rest[:colonIdx+1] + "****" + rest[atIdx:]
}
