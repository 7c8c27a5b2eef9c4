package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
)

func newStoreAt(t *testing.T, date string) *SnapshotStore {
	t.Helper()
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		t.Fatalf("bad test date: %v", err)
	}
	store.SetClock(func() time.Time { return day })
	return store
}

func testListing(id string) models.Listing {
	return models.Listing{
		ID:          id,
		Make:        "Tesla",
		Model:       "Model 3",
		Year:        2021,
		Price:       28500,
		Mileage:     32100,
		URL:         "https://www.evmarket.com/listings/" + id,
		ListingDate: "2026-08-30",
	}
}

var mm3 = models.MakeModel{Make: "Tesla", Model: "Model 3"}

func TestAppendListings_GrowsWithoutDedup(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")

	batch := []models.Listing{testListing("A"), testListing("B")}
	if err := store.AppendListings("evmarket", batch, false, mm3); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := store.AppendListings("evmarket", batch, false, mm3); err != nil {
		t.Fatalf("second append: %v", err)
	}

	snap, err := store.LoadDay("evmarket", "2026-08-30")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Listings) != 4 {
		t.Fatalf("append must not dedup, expected 4 listings, got %d", len(snap.Listings))
	}
	if snap.Source != "evmarket" {
		t.Fatalf("unexpected source %q", snap.Source)
	}
	if snap.ScrapedAt.IsZero() {
		t.Fatal("scraped_at not set")
	}
}

func TestAppendListings_ExceededMaxUnion(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")

	if err := store.AppendListings("evmarket", []models.Listing{testListing("A")}, true, mm3); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendListings("evmarket", []models.Listing{testListing("B")}, true, mm3); err != nil {
		t.Fatalf("append: %v", err)
	}
	leaf := models.MakeModel{Make: "Nissan", Model: "Leaf"}
	if err := store.AppendListings("evmarket", nil, true, leaf); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, err := store.LoadDay("evmarket", "2026-08-30")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.ModelsExceededMaxVehicles) != 2 {
		t.Fatalf("expected 2 exceeded entries, got %v", snap.ModelsExceededMaxVehicles)
	}
	if !snap.HasExceededMax(mm3) || !snap.HasExceededMax(leaf) {
		t.Fatal("expected both models flagged")
	}
}

func TestLoadDay_MissingIsNil(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")
	snap, err := store.LoadDay("evmarket", "2026-08-29")
	if err != nil {
		t.Fatalf("missing day should not error: %v", err)
	}
	if snap != nil {
		t.Fatal("expected nil for missing day")
	}
}

func TestLoadDay_ToleratesOldSchema(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")

	// A snapshot written before the exceeded-max field existed.
	old := `{"source":"evmarket","scraped_at":"2026-08-29T06:00:00Z","listings":[{"id":"A","make":"Tesla","model":"Model 3","year":2021,"price":28500,"mileage":32100,"location":"","url":"u","listing_date":"2026-08-29"}]}`
	if err := os.WriteFile(store.SnapshotPath("evmarket", "2026-08-29"), []byte(old), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	snap, err := store.LoadDay("evmarket", "2026-08-29")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Listings) != 1 || snap.HasExceededMax(mm3) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSaveDay_StatusTagSurvivesReload(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")

	if err := store.AppendListings("evmarket", []models.Listing{testListing("A")}, false, mm3); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, _ := store.LoadDay("evmarket", "2026-08-30")
	snap.Listings[0].PurchaseStatus = models.StatusSold
	if err := store.SaveDay("evmarket", "2026-08-30", snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, _ := store.LoadDay("evmarket", "2026-08-30")
	if reloaded.Listings[0].PurchaseStatus != models.StatusSold {
		t.Fatal("sold tag lost on reload")
	}
}

func TestDates_SortedAndFiltered(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")

	for _, date := range []string{"2026-08-30", "2026-08-28", "2026-08-29"} {
		snap := &models.SourceSnapshot{Source: "evmarket"}
		if err := store.SaveDay("evmarket", date, snap); err != nil {
			t.Fatalf("save %s: %v", date, err)
		}
	}
	// Other sources and junk files must not leak in.
	if err := store.SaveDay("autovia", "2026-08-30", &models.SourceSnapshot{Source: "autovia"}); err != nil {
		t.Fatalf("save autovia: %v", err)
	}
	junk := filepath.Join(filepath.Dir(store.SnapshotPath("evmarket", "2026-08-30")), "evmarket_notes.json")
	if err := os.WriteFile(junk, []byte("{}"), 0644); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	dates, err := store.Dates("evmarket")
	if err != nil {
		t.Fatalf("dates: %v", err)
	}
	want := []string{"2026-08-28", "2026-08-29", "2026-08-30"}
	if len(dates) != len(want) {
		t.Fatalf("expected %v, got %v", want, dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, dates)
		}
	}
}

func TestLatestBefore(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")

	for _, date := range []string{"2026-08-25", "2026-08-28"} {
		if err := store.SaveDay("evmarket", date, &models.SourceSnapshot{Source: "evmarket"}); err != nil {
			t.Fatalf("save %s: %v", date, err)
		}
	}

	prev, err := store.LatestBefore("evmarket", "2026-08-30")
	if err != nil {
		t.Fatalf("latest before: %v", err)
	}
	if prev == nil || prev.Date != "2026-08-28" {
		t.Fatalf("expected 2026-08-28, got %+v", prev)
	}

	none, err := store.LatestBefore("evmarket", "2026-08-25")
	if err != nil {
		t.Fatalf("latest before: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil before first date, got %+v", none)
	}
}

func TestLoadHistory_Allowlist(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")

	for _, date := range []string{"2026-08-27", "2026-08-28", "2026-08-29"} {
		if err := store.SaveDay("evmarket", date, &models.SourceSnapshot{Source: "evmarket"}); err != nil {
			t.Fatalf("save %s: %v", date, err)
		}
	}

	all, err := store.LoadHistory("evmarket", nil)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(all))
	}

	some, err := store.LoadHistory("evmarket", []string{"2026-08-27", "2026-08-29"})
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(some) != 2 || some[0].Date != "2026-08-27" || some[1].Date != "2026-08-29" {
		t.Fatalf("unexpected allowlisted history: %+v", some)
	}
}

func TestWrite_NoTempFileLeftBehind(t *testing.T) {
	store := newStoreAt(t, "2026-08-30")
	if err := store.AppendListings("evmarket", []models.Listing{testListing("A")}, false, mm3); err != nil {
		t.Fatalf("append: %v", err)
	}

	dir := filepath.Dir(store.SnapshotPath("evmarket", "2026-08-30"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
