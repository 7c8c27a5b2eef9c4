package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/storage"
)

type fixedDetector struct {
	status models.PurchaseStatus
}

func (d fixedDetector) DetectStatus(pc PageContext) models.PurchaseStatus {
	return d.status
}

func snapshotOf(source string, listings ...models.Listing) *models.SourceSnapshot {
	return &models.SourceSnapshot{Source: source, Listings: listings}
}

func listingWithURL(id, url string) models.Listing {
	return models.Listing{
		ID:          id,
		Make:        "Tesla",
		Model:       "Model 3",
		Year:        2021,
		Trim:        "Long Range",
		Price:       28500,
		Mileage:     32100,
		URL:         url,
		ListingDate: "2026-08-28",
	}
}

func newTestStore(t *testing.T, today string) *storage.SnapshotStore {
	t.Helper()
	store, err := storage.NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	day, err := time.Parse("2006-01-02", today)
	if err != nil {
		t.Fatalf("bad test date: %v", err)
	}
	store.SetClock(func() time.Time { return day })
	return store
}

func newTestReconciler(store *storage.SnapshotStore) *Reconciler {
	r := NewReconciler(store, &http.Client{Timeout: 5 * time.Second}, 0)
	r.sleep = func(time.Duration) {}
	return r
}

func TestFindMissingListings(t *testing.T) {
	prev := snapshotOf("evmarket",
		listingWithURL("A", ""), listingWithURL("B", ""), listingWithURL("C", ""))
	curr := snapshotOf("evmarket", listingWithURL("A", ""), listingWithURL("C", ""))

	missing := FindMissingListings(prev, curr)
	if len(missing) != 1 || missing[0].ID != "B" {
		t.Fatalf("expected [B], got %v", missing)
	}
}

func TestFindMissingListings_Duplicates(t *testing.T) {
	prev := snapshotOf("evmarket",
		listingWithURL("A", ""), listingWithURL("B", ""), listingWithURL("B", ""))
	curr := snapshotOf("evmarket", listingWithURL("A", ""))

	missing := FindMissingListings(prev, curr)
	if len(missing) != 1 || missing[0].ID != "B" {
		t.Fatalf("duplicate ids should report once, got %v", missing)
	}
}

func TestReconcileSource_TagsSelling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Sale pending</body></html>"))
	}))
	defer server.Close()

	store := newTestStore(t, "2026-08-30")
	if err := store.SaveDay("evmarket", "2026-08-29", snapshotOf("evmarket",
		listingWithURL("A", server.URL+"/a"), listingWithURL("B", server.URL+"/b"))); err != nil {
		t.Fatalf("save previous day: %v", err)
	}
	if err := store.SaveDay("evmarket", "2026-08-30",
		snapshotOf("evmarket", listingWithURL("A", server.URL+"/a"))); err != nil {
		t.Fatalf("save current day: %v", err)
	}

	r := newTestReconciler(store)
	result, err := r.ReconcileSource(context.Background(), "evmarket",
		fixedDetector{models.StatusSelling})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Missing != 1 || result.Selling != 1 || result.Sold != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	prev, err := store.LoadDay("evmarket", "2026-08-29")
	if err != nil {
		t.Fatalf("reload previous day: %v", err)
	}
	index := prev.ListingIndex()
	if index["B"].PurchaseStatus != models.StatusSelling {
		t.Fatalf("expected B tagged selling, got %q", index["B"].PurchaseStatus)
	}
	if index["A"].PurchaseStatus != models.StatusAvailable {
		t.Fatalf("A should stay untagged, got %q", index["A"].PurchaseStatus)
	}
}

func TestReconcileSource_VisitFailureMeansSold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL + "/gone"
	server.Close()

	store := newTestStore(t, "2026-08-30")
	if err := store.SaveDay("evmarket", "2026-08-29",
		snapshotOf("evmarket", listingWithURL("B", deadURL))); err != nil {
		t.Fatalf("save previous day: %v", err)
	}
	if err := store.SaveDay("evmarket", "2026-08-30", snapshotOf("evmarket")); err != nil {
		t.Fatalf("save current day: %v", err)
	}

	r := newTestReconciler(store)
	result, err := r.ReconcileSource(context.Background(), "evmarket",
		fixedDetector{models.StatusAvailable})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Sold != 1 || result.VisitFailures != 1 {
		t.Fatalf("unreachable listing should classify sold, got %+v", result)
	}

	prev, _ := store.LoadDay("evmarket", "2026-08-29")
	if prev.ListingIndex()["B"].PurchaseStatus != models.StatusSold {
		t.Fatal("expected B tagged sold after failed revisit")
	}
}

func TestReconcileSource_StillAvailableUntagged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Great deal!</body></html>"))
	}))
	defer server.Close()

	store := newTestStore(t, "2026-08-30")
	if err := store.SaveDay("evmarket", "2026-08-29",
		snapshotOf("evmarket", listingWithURL("B", server.URL+"/b"))); err != nil {
		t.Fatalf("save previous day: %v", err)
	}
	if err := store.SaveDay("evmarket", "2026-08-30", snapshotOf("evmarket")); err != nil {
		t.Fatalf("save current day: %v", err)
	}

	r := newTestReconciler(store)
	result, err := r.ReconcileSource(context.Background(), "evmarket",
		fixedDetector{models.StatusAvailable})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.StillAvailable != 1 || result.Selling != 0 || result.Sold != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	prev, _ := store.LoadDay("evmarket", "2026-08-29")
	if prev.ListingIndex()["B"].PurchaseStatus != models.StatusAvailable {
		t.Fatal("available listing should stay untagged")
	}
}

func TestReconcileSource_NoPriorHistory(t *testing.T) {
	store := newTestStore(t, "2026-08-30")
	if err := store.SaveDay("evmarket", "2026-08-30",
		snapshotOf("evmarket", listingWithURL("A", ""))); err != nil {
		t.Fatalf("save current day: %v", err)
	}

	r := newTestReconciler(store)
	result, err := r.ReconcileSource(context.Background(), "evmarket",
		fixedDetector{models.StatusAvailable})
	if err != nil {
		t.Fatalf("first day should reconcile cleanly: %v", err)
	}
	if result.Missing != 0 {
		t.Fatalf("expected nothing missing on first day, got %+v", result)
	}
}

func TestReconcileSource_NoCurrentSnapshot(t *testing.T) {
	store := newTestStore(t, "2026-08-30")
	r := newTestReconciler(store)
	if _, err := r.ReconcileSource(context.Background(), "evmarket",
		fixedDetector{models.StatusAvailable}); err == nil {
		t.Fatal("expected error when today's snapshot is missing")
	}
}
