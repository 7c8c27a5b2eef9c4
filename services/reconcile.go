package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/storage"
)

const maxRevisitBody = 500 * 1024

// Reconciler resolves the fate of listings that were present in a source's
// previous snapshot but absent from today's: each one is revisited and
// classified as selling or sold. Classification happens once a new day's raw
// listing set is available.
type Reconciler struct {
	store   *storage.SnapshotStore
	client  *http.Client
	delay   time.Duration
	archive *storage.PostgresStore
	sleep   func(time.Duration)
}

func NewReconciler(store *storage.SnapshotStore, client *http.Client, delay time.Duration) *Reconciler {
	return &Reconciler{
		store:  store,
		client: client,
		delay:  delay,
		sleep:  time.Sleep,
	}
}

// SetArchive enables mirroring of status events into the Postgres archive.
func (r *Reconciler) SetArchive(archive *storage.PostgresStore) {
	r.archive = archive
}

// FindMissingListings returns the previous snapshot's listings whose ids are
// absent from the current one. Duplicate ids in either day are tolerated.
func FindMissingListings(previous, current *models.SourceSnapshot) []models.Listing {
	currentIDs := make(map[string]bool, len(current.Listings))
	for _, l := range current.Listings {
		currentIDs[l.ID] = true
	}

	seen := make(map[string]bool)
	var missing []models.Listing
	for _, l := range previous.Listings {
		if currentIDs[l.ID] || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		missing = append(missing, l)
	}
	return missing
}

// ReconcileResult summarizes one source's reconciliation pass.
type ReconcileResult struct {
	Source         string
	Missing        int
	Selling        int
	Sold           int
	StillAvailable int
	VisitFailures  int
}

// ReconcileSource diffs today's snapshot against the most recent prior one,
// revisits each missing listing sequentially with a fixed inter-request
// delay, and tags selling/sold outcomes on the listing's last-seen record.
// A failed revisit is classified sold: removal is assumed to mean sale, not
// a transient error.
func (r *Reconciler) ReconcileSource(ctx context.Context, source string, detector StatusDetector) (*ReconcileResult, error) {
	today := r.store.Today()
	current, err := r.store.LoadDay(source, today)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("no snapshot for %s on %s", source, today)
	}

	previous, err := r.store.LatestBefore(source, today)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		// First day of history for this source; nothing to reconcile.
		return &ReconcileResult{Source: source}, nil
	}

	missing := FindMissingListings(previous.Snapshot, current)
	result := &ReconcileResult{Source: source, Missing: len(missing)}
	if len(missing) == 0 {
		return result, nil
	}

	log.Printf("[%s] %d listings missing since %s, revisiting", source, len(missing), previous.Date)

	index := previous.Snapshot.ListingIndex()
	tagged := false

	for i, l := range missing {
		if i > 0 {
			r.sleep(r.delay)
		}

		status, visitFailed := r.classify(ctx, source, l, detector)
		if visitFailed {
			result.VisitFailures++
		}
		switch status {
		case models.StatusSelling:
			result.Selling++
		case models.StatusSold:
			result.Sold++
		default:
			// Should not have been missing if still available; leave the
			// historical record untagged.
			result.StillAvailable++
			continue
		}

		if rec, ok := index[l.ID]; ok {
			rec.PurchaseStatus = status
			tagged = true
		}
		r.archiveStatusEvent(ctx, source, l, status, today)
	}

	if tagged {
		if err := r.store.SaveDay(source, previous.Date, previous.Snapshot); err != nil {
			return result, fmt.Errorf("save tagged snapshot %s/%s: %w", source, previous.Date, err)
		}
	}

	log.Printf("[%s] reconciled: %d missing, %d selling, %d sold, %d still available",
		source, result.Missing, result.Selling, result.Sold, result.StillAvailable)
	return result, nil
}

func (r *Reconciler) classify(ctx context.Context, source string, l models.Listing, detector StatusDetector) (models.PurchaseStatus, bool) {
	pc, err := r.visit(ctx, l.URL)
	if err != nil {
		log.Printf("[%s] revisit failed for %s (%v), assuming sold", source, l.ID, err)
		return models.StatusSold, true
	}
	return detector.DetectStatus(pc), false
}

// visit fetches a listing URL without following redirects, so the detector
// sees the raw status code and Location target.
func (r *Reconciler) visit(ctx context.Context, listingURL string) (PageContext, error) {
	if listingURL == "" {
		return PageContext{}, fmt.Errorf("listing has no url")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", listingURL, nil)
	if err != nil {
		return PageContext{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return PageContext{}, err
	}
	defer resp.Body.Close()

	pc := PageContext{
		StatusCode: resp.StatusCode,
		FinalURL:   listingURL,
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		pc.WasRedirected = true
		if loc := resp.Header.Get("Location"); loc != "" {
			pc.FinalURL = loc
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRevisitBody))
	if err == nil {
		pc.HTML = string(body)
	}
	return pc, nil
}

func (r *Reconciler) archiveStatusEvent(ctx context.Context, source string, l models.Listing, status models.PurchaseStatus, date string) {
	if r.archive == nil {
		return
	}

	eventType := storage.EventTypeSold
	if status == models.StatusSelling {
		eventType = storage.EventTypeSelling
	}

	price := l.Price
	event := &storage.ListingEvent{
		Source:    source,
		ListingID: l.ID,
		EventType: eventType,
		EventDate: date,
		Price:     &price,
	}
	if err := r.archive.InsertListingEvent(ctx, event); err != nil {
		log.Printf("Warning: failed to archive %s event for %s: %v", eventType, l.ID, err)
	}
}
