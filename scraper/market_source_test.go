package scraper

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func testMarketSource() *MarketSource {
	return NewMarketSource(&config.SourceConfig{
		ID:      "evmarket",
		BaseURL: "https://www.evmarket.com",
	}, nil)
}

func TestParseSearchPage(t *testing.T) {
	src := testMarketSource()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, "evmarket_search.html")))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}

	query := models.Query{Make: "Tesla", Model: "Model 3"}
	listings, total, hasNext := src.parseSearchPage(doc, query, "2026-08-30")

	// The card without a listing id is skipped.
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(listings))
	}
	if total != 312 {
		t.Fatalf("expected total 312, got %d", total)
	}
	if !hasNext {
		t.Fatal("expected a next page")
	}

	l := listings[0]
	if l.ID != "evmarket-88101" {
		t.Fatalf("expected source-namespaced id, got %s", l.ID)
	}
	if l.Year != 2021 || l.Trim != "Long Range" {
		t.Fatalf("unexpected year/trim: %d %q", l.Year, l.Trim)
	}
	if l.Price != 28500 || l.Mileage != 32100 {
		t.Fatalf("unexpected price/mileage: %d / %d", l.Price, l.Mileage)
	}
	if l.Location != "Portland, OR" {
		t.Fatalf("unexpected location %q", l.Location)
	}
	if l.URL != "https://www.evmarket.com/listings/88101" {
		t.Fatalf("relative href should be absolutized, got %s", l.URL)
	}
	if l.VIN != "5YJ3E1EB5MF123456" {
		t.Fatalf("unexpected vin %s", l.VIN)
	}
	if l.ListingDate != "2026-08-30" {
		t.Fatalf("unexpected listing date %s", l.ListingDate)
	}

	if listings[1].URL != "https://www.evmarket.com/listings/88102" {
		t.Fatalf("absolute href should pass through, got %s", listings[1].URL)
	}
	if listings[2].Trim != "" {
		t.Fatalf("title without trim should parse empty, got %q", listings[2].Trim)
	}
}

func TestParseListingTitle(t *testing.T) {
	query := models.Query{Make: "Tesla", Model: "Model 3"}
	cases := []struct {
		title string
		year  int
		trim  string
	}{
		{"2021 Tesla Model 3 Long Range", 2021, "Long Range"},
		{"2019 Tesla Model 3 Standard Range Plus", 2019, "Standard Range Plus"},
		{"2022 Tesla Model 3", 2022, ""},
		{"Tesla Model 3 Performance", 0, "Performance"},
		{"", 0, ""},
	}
	for _, tc := range cases {
		year, trim := parseListingTitle(tc.title, query)
		if year != tc.year || trim != tc.trim {
			t.Fatalf("parseListingTitle(%q) = %d, %q; want %d, %q",
				tc.title, year, trim, tc.year, tc.trim)
		}
	}
}

func TestParseDigits(t *testing.T) {
	cases := map[string]int{
		"$28,500":        28500,
		"32,100 mi":      32100,
		"Showing 1":      1,
		"Call for price": 0,
		"287":            287,
		"":               0,
	}
	for in, want := range cases {
		if got := parseDigits(in); got != want {
			t.Fatalf("parseDigits(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMarketDetectStatus(t *testing.T) {
	src := testMarketSource()

	cases := []struct {
		name string
		pc   services.PageContext
		want models.PurchaseStatus
	}{
		{"not found", services.PageContext{StatusCode: 404}, models.StatusSold},
		{"gone", services.PageContext{StatusCode: 410}, models.StatusSold},
		{"redirect to search", services.PageContext{
			StatusCode: 301, WasRedirected: true,
			FinalURL: "https://www.evmarket.com/listings/search?make=Tesla",
		}, models.StatusSold},
		{"sale pending", services.PageContext{
			StatusCode: 200, HTML: "<div class='badge'>Sale Pending</div>",
		}, models.StatusSelling},
		{"sold banner", services.PageContext{
			StatusCode: 200, HTML: "<p>This vehicle has been sold.</p>",
		}, models.StatusSold},
		{"still live", services.PageContext{
			StatusCode: 200, HTML: "<h1>2021 Tesla Model 3</h1><span>$28,500</span>",
		}, models.StatusAvailable},
	}
	for _, tc := range cases {
		if got := src.DetectStatus(tc.pc); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestIsSearchRedirect(t *testing.T) {
	if !isSearchRedirect("https://www.evmarket.com/listings/search?make=Tesla") {
		t.Fatal("search url should count as removal redirect")
	}
	if isSearchRedirect("https://www.evmarket.com/listings/88101-tesla-model-3") {
		t.Fatal("detail url is not a removal redirect")
	}
}
