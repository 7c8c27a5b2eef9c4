package scraper

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/httputil"
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
	"github.com/quicklywilliam/usedevpricetracker-sub000/storage"
)

// RunFilters restricts a run to a subset of sources and models, and can
// override the per-model target count.
type RunFilters struct {
	Source        string   // exact source id; empty means all
	Models        []string // substring-normalized model matches; empty means all
	LimitOverride int      // per-model target count; 0 keeps query/default limits
}

// Orchestrator drives the full ingestion run: for every (query, enabled
// source) pair it launches the source, scrapes, validates, and appends to
// the day's snapshot. One pair's failure never aborts the run.
type Orchestrator struct {
	cfg       *config.Config
	store     *storage.SnapshotStore
	ops       *storage.SQLiteStore
	registry  map[string]*SourceEntry
	validator *services.Validator

	archive *storage.PostgresStore
	backup  *storage.S3Backup
}

func NewOrchestrator(cfg *config.Config, store *storage.SnapshotStore, ops *storage.SQLiteStore, clients *httputil.Clients) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		ops:       ops,
		registry:  BuildRegistry(cfg, clients),
		validator: services.NewValidator(),
	}
}

// SetArchive enables mirroring of derived events into Postgres.
func (o *Orchestrator) SetArchive(archive *storage.PostgresStore) {
	o.archive = archive
}

// SetBackup enables S3 upload of each day's snapshot after a source run.
func (o *Orchestrator) SetBackup(backup *storage.S3Backup) {
	o.backup = backup
}

// Registry exposes the source table for reconciliation and manual audits.
func (o *Orchestrator) Registry() map[string]*SourceEntry {
	return o.registry
}

// RunAll iterates queries × enabled sources sequentially and returns the
// run summary. Filters narrow the iteration; they never cause an error.
func (o *Orchestrator) RunAll(ctx context.Context, filters RunFilters) *models.RunSummary {
	summary := &models.RunSummary{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}

	queries := filterQueries(o.cfg.Queries, filters.Models)
	if len(queries) == 0 {
		log.Println("No queries match the configured filters")
		return summary
	}

	for _, sourceID := range SortedIDs(o.registry) {
		entry := o.registry[sourceID]
		if !entry.Enabled {
			log.Printf("[%s] disabled, skipping", sourceID)
			continue
		}
		if filters.Source != "" && filters.Source != sourceID {
			continue
		}

		o.runSource(ctx, entry, queries, filters.LimitOverride, summary)
	}

	log.Printf("Run %s complete: %d succeeded, %d failed",
		summary.RunID, len(summary.Succeeded), len(summary.Failed))
	return summary
}

// runSource scrapes every query against one source within a single session.
func (o *Orchestrator) runSource(ctx context.Context, entry *SourceEntry, queries []models.Query, limitOverride int, summary *models.RunSummary) {
	sourceID := entry.Source.ID()

	run := &models.ScrapeRun{
		RunID:     summary.RunID,
		Source:    sourceID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if id, err := o.ops.CreateRun(run); err != nil {
		log.Printf("Warning: failed to create run record: %v", err)
	} else {
		run.ID = id
	}

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		if run.Status == models.RunStatusRunning {
			run.Status = models.RunStatusCompleted
		}
		if err := o.ops.UpdateRun(run); err != nil {
			log.Printf("Warning: failed to update run record: %v", err)
		}
	}()

	if err := entry.Source.Launch(ctx); err != nil {
		o.log(run, models.LogLevelError, fmt.Sprintf("launch failed: %v", err))
		run.Status = models.RunStatusFailed
		run.ErrorsCount++
		for _, q := range queries {
			summary.Failed = append(summary.Failed, models.PairResult{
				Source: sourceID, Query: q.Label(), Error: fmt.Sprintf("launch failed: %v", err),
			})
		}
		entry.Source.Close()
		return
	}
	defer entry.Source.Close()

	// Session-level limiter: one per source per run, spacing the query
	// scrapes on top of the source's own per-page pacing.
	limiter := NewRateLimiter(time.Duration(o.cfg.Scraper.DelayMS) * time.Millisecond)

	firstSeen := o.loadFirstSeen(sourceID)

	for _, q := range queries {
		query := q
		if limitOverride > 0 {
			query.Limit = limitOverride
		}

		listings, err := o.ScrapeQuery(ctx, entry.Source, limiter, query, firstSeen)
		if err != nil {
			o.log(run, models.LogLevelError, fmt.Sprintf("%s: %v", query.Label(), err))
			run.ErrorsCount++
			summary.Failed = append(summary.Failed, models.PairResult{
				Source: sourceID, Query: query.Label(), Error: err.Error(),
			})
			continue
		}

		run.ListingsFound += len(listings)
		run.ListingsValid += len(listings)
		summary.Succeeded = append(summary.Succeeded, models.PairResult{
			Source: sourceID, Query: query.Label(), Listings: len(listings),
		})
	}

	o.publishDiff(ctx, sourceID)
	o.backupSnapshot(ctx, sourceID)
}

// ScrapeQuery is the orchestration wrapper around one (source, model)
// scrape: wait on the limiter, scrape, normalize, validate, persist. Errors
// are returned to the caller for the run summary but the empty-set contract
// holds: nothing partial is appended on failure.
func (o *Orchestrator) ScrapeQuery(ctx context.Context, src Source, limiter *RateLimiter, query models.Query, firstSeen map[string]string) ([]models.Listing, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := src.ScrapeModel(ctx, query, ScrapeOptions{Limit: query.Limit})
	if err != nil {
		return nil, fmt.Errorf("scrape failed: %w", err)
	}
	res = NormalizeResult(res)

	// Carry the first-observation date across days.
	for i := range res.Listings {
		if date, ok := firstSeen[res.Listings[i].ID]; ok && date != "" {
			res.Listings[i].ListingDate = date
		}
	}

	vr := o.validator.ValidateListings(res.Listings, query)
	for _, invalid := range vr.Invalid {
		log.Printf("[%s] rejected %s: %s", src.ID(), invalid.Listing.ID, strings.Join(invalid.Reasons, "; "))
	}

	if services.ShouldFailSource(vr.Stats) {
		// Policy signal only: the valid subset is still persisted, but the
		// pair is reported failed so operators notice the degraded source.
		log.Printf("[%s] source health check failed for %s: %d/%d valid (%.1f%%)",
			src.ID(), query.Label(), vr.Stats.Valid, vr.Stats.Total, vr.Stats.SuccessRate)
		if len(vr.Valid) > 0 {
			if err := o.store.AppendListings(src.ID(), vr.Valid, res.ExceededMax, query.MakeModel()); err != nil {
				return nil, fmt.Errorf("append failed: %w", err)
			}
		}
		return nil, fmt.Errorf("validation below threshold: %d invalid, %.1f%% success",
			vr.Stats.Invalid, vr.Stats.SuccessRate)
	}

	if err := o.store.AppendListings(src.ID(), vr.Valid, res.ExceededMax, query.MakeModel()); err != nil {
		return nil, fmt.Errorf("append failed: %w", err)
	}

	log.Printf("[%s] %s: %d listings persisted (%d invalid, exceededMax=%v)",
		src.ID(), query.Label(), len(vr.Valid), vr.Stats.Invalid, res.ExceededMax)
	return vr.Valid, nil
}

// ReconcileAll runs status reconciliation for every enabled source using its
// own status detector.
func (o *Orchestrator) ReconcileAll(ctx context.Context, reconciler *services.Reconciler) {
	for _, sourceID := range SortedIDs(o.registry) {
		entry := o.registry[sourceID]
		if !entry.Enabled {
			continue
		}
		if _, err := reconciler.ReconcileSource(ctx, sourceID, entry.Source); err != nil {
			log.Printf("[%s] reconcile error: %v", sourceID, err)
		}
	}
}

// loadFirstSeen maps listing ids to their first-observation dates from the
// most recent prior snapshot.
func (o *Orchestrator) loadFirstSeen(sourceID string) map[string]string {
	firstSeen := make(map[string]string)

	prev, err := o.store.LatestBefore(sourceID, o.store.Today())
	if err != nil {
		log.Printf("Warning: could not load prior snapshot for %s: %v", sourceID, err)
		return firstSeen
	}
	if prev == nil {
		return firstSeen
	}

	for _, l := range prev.Snapshot.Listings {
		if _, ok := firstSeen[l.ID]; !ok {
			firstSeen[l.ID] = l.ListingDate
		}
	}
	return firstSeen
}

// publishDiff mirrors today's new and price-changed listings into the event
// archive.
func (o *Orchestrator) publishDiff(ctx context.Context, sourceID string) {
	if o.archive == nil {
		return
	}

	today := o.store.Today()
	current, err := o.store.LoadDay(sourceID, today)
	if err != nil || current == nil {
		return
	}
	var previous *models.SourceSnapshot
	if prev, err := o.store.LatestBefore(sourceID, today); err == nil && prev != nil {
		previous = prev.Snapshot
	}

	diff := services.Diff(previous, current)
	for _, l := range diff.New {
		price := l.Price
		event := &storage.ListingEvent{
			Source: sourceID, ListingID: l.ID,
			EventType: storage.EventTypeNew, EventDate: today, Price: &price,
		}
		if err := o.archive.InsertListingEvent(ctx, event); err != nil {
			log.Printf("Warning: failed to archive new event for %s: %v", l.ID, err)
		}
	}
	for _, pc := range diff.PriceChanged {
		price, prevPrice := pc.Current, pc.Previous
		event := &storage.ListingEvent{
			Source: sourceID, ListingID: pc.ID,
			EventType: storage.EventTypePriceChange, EventDate: today,
			Price: &price, PreviousPrice: &prevPrice,
		}
		if err := o.archive.InsertListingEvent(ctx, event); err != nil {
			log.Printf("Warning: failed to archive price event for %s: %v", pc.ID, err)
		}
	}
}

func (o *Orchestrator) backupSnapshot(ctx context.Context, sourceID string) {
	if o.backup == nil {
		return
	}

	path := o.store.SnapshotPath(sourceID, o.store.Today())
	if err := o.backup.UploadSnapshot(ctx, path); err != nil {
		log.Printf("Warning: snapshot backup failed for %s: %v", sourceID, err)
	}
}

func (o *Orchestrator) log(run *models.ScrapeRun, level models.LogLevel, message string) {
	log.Printf("[%s] %s: %s", level, run.Source, message)
	if run.ID != 0 {
		if err := o.ops.Log(&run.ID, level, message, run.Source); err != nil {
			log.Printf("Warning: failed to write scrape log: %v", err)
		}
	}
}

// filterQueries applies the comma-split model filter: whitespace-insensitive
// substring match against "make model" and "model".
func filterQueries(queries []models.Query, modelFilters []string) []models.Query {
	if len(modelFilters) == 0 {
		return queries
	}

	var out []models.Query
	for _, q := range queries {
		label := normalizeModelName(q.Label())
		model := normalizeModelName(q.Model)
		for _, f := range modelFilters {
			nf := normalizeModelName(f)
			if nf == "" {
				continue
			}
			if strings.Contains(label, nf) || strings.Contains(model, nf) {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

func normalizeModelName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}
