package scraper

import (
	"context"
	"testing"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
)

func testBrowserSource() *BrowserSource {
	return NewBrowserSource(&config.SourceConfig{
		ID:      "autovia",
		BaseURL: "https://www.autovia.com",
	})
}

func TestParseResultsHTML(t *testing.T) {
	src := testBrowserSource()
	html := string(loadFixture(t, "autovia_results.html"))

	query := models.Query{Make: "Tesla", Model: "Model 3"}
	listings, total := src.parseResultsHTML(html, query, "2026-08-30")

	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	if total != 287 {
		t.Fatalf("expected total 287, got %d", total)
	}

	l := listings[0]
	if l.ID != "autovia-v-5512" {
		t.Fatalf("expected source-namespaced id, got %s", l.ID)
	}
	if l.Year != 2020 || l.Trim != "Performance" {
		t.Fatalf("unexpected year/trim: %d %q", l.Year, l.Trim)
	}
	if l.Price != 33900 || l.Mileage != 27300 {
		t.Fatalf("unexpected price/mileage: %d / %d", l.Price, l.Mileage)
	}
	if l.URL != "https://www.autovia.com/cars-for-sale/v-5512" {
		t.Fatalf("relative href should be absolutized, got %s", l.URL)
	}
	if l.VIN != "5YJ3E1EA7LF612334" {
		t.Fatalf("unexpected vin %s", l.VIN)
	}

	if listings[1].VIN != "" {
		t.Fatalf("card without vin should parse empty, got %q", listings[1].VIN)
	}
}

func TestBrowserDetectStatus(t *testing.T) {
	src := testBrowserSource()

	cases := []struct {
		name string
		pc   services.PageContext
		want models.PurchaseStatus
	}{
		{"not found", services.PageContext{StatusCode: 404}, models.StatusSold},
		{"sale pending", services.PageContext{
			StatusCode: 200, HTML: "<span>Sale pending</span>",
		}, models.StatusSelling},
		{"sold banner", services.PageContext{
			StatusCode: 200, HTML: "<div class='vehicle-sold-banner'>Sold</div>",
		}, models.StatusSold},
		{"no longer available", services.PageContext{
			StatusCode: 200, HTML: "<p>This listing is no longer available.</p>",
		}, models.StatusSold},
		{"still live", services.PageContext{
			StatusCode: 200, HTML: "<h1>2020 Tesla Model 3 Performance</h1>",
		}, models.StatusAvailable},
	}
	for _, tc := range cases {
		if got := src.DetectStatus(tc.pc); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestScrapeModel_RequiresLaunch(t *testing.T) {
	src := testBrowserSource()
	if _, err := src.ScrapeModel(context.Background(), models.Query{Make: "Tesla", Model: "Model 3"}, ScrapeOptions{}); err == nil {
		t.Fatal("expected error before Launch")
	}
}
