package scraper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
)

const settleDelayMS = 2500 // after a load-more click, before reading the DOM

// BrowserSource scrapes a marketplace that renders results client-side and
// grows the result list through a "load more" control. A real browser is a
// correctness requirement here: the site blocks plain HTTP clients.
type BrowserSource struct {
	cfg *config.SourceConfig

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
}

func NewBrowserSource(cfg *config.SourceConfig) *BrowserSource {
	return &BrowserSource{cfg: cfg}
}

func (b *BrowserSource) ID() string {
	return b.cfg.ID
}

func (b *BrowserSource) Launch(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	var err error
	b.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	cwd, _ := os.Getwd()
	userDataDir := filepath.Join(cwd, "browser_data")
	b.context, err = b.pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(false),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		b.pw.Stop()
		b.pw = nil
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b.initialized = true
	return nil
}

func (b *BrowserSource) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.context != nil {
		b.context.Close()
		b.context = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
	b.initialized = false
}

func (b *BrowserSource) ScrapeModel(ctx context.Context, query models.Query, opts ScrapeOptions) (*ScrapeResult, error) {
	b.mu.Lock()
	browserCtx := b.context
	b.mu.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("%s: not launched", b.cfg.ID)
	}

	limit := opts.EffectiveLimit()
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = b.cfg.MaxPages
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	params := url.Values{}
	params.Set("make", query.Make)
	params.Set("model", query.Model)
	searchURL := b.cfg.BaseURL + b.cfg.SearchPath + "?" + params.Encode()
	log.Printf("[%s] navigating to: %s", b.cfg.ID, searchURL)

	_, err = page.Goto(searchURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}

	b.humanDelay(2000, 4000)
	b.handleConsent(page)

	result := &ScrapeResult{}
	seen := make(map[string]bool)
	today := time.Now().UTC().Format("2006-01-02")

	// Each "load more" click grows the same card list, so every pass
	// re-parses the full DOM and dedups against earlier passes.
	for clicks := 0; clicks < maxPages; clicks++ {
		content, err := page.Content()
		if err != nil {
			log.Printf("[%s] could not read page content: %v", b.cfg.ID, err)
			break
		}

		listings, total := b.parseResultsHTML(content, query, today)
		added := 0
		for _, l := range listings {
			if seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			result.Listings = append(result.Listings, l)
			added++
		}

		log.Printf("[%s] %s: %d new cards (total: %d)", b.cfg.ID, query.Label(), added, len(result.Listings))

		if total > limit {
			result.ExceededMax = true
		}
		if len(result.Listings) >= limit {
			break
		}

		if !b.clickLoadMore(page) {
			break
		}
		page.WaitForTimeout(settleDelayMS)
	}

	if len(result.Listings) > limit {
		result.Listings = result.Listings[:limit]
	}
	return result, nil
}

// clickLoadMore reports whether a further page of results was requested.
func (b *BrowserSource) clickLoadMore(page playwright.Page) bool {
	btn := page.Locator("button.load-more").First()
	visible, _ := btn.IsVisible()
	if !visible {
		return false
	}
	if disabled, _ := btn.GetAttribute("disabled"); disabled != "" {
		return false
	}
	if err := btn.Click(); err != nil {
		log.Printf("[%s] load-more click failed: %v", b.cfg.ID, err)
		return false
	}
	return true
}

func (b *BrowserSource) handleConsent(page playwright.Page) {
	consentSelectors := []string{
		"button:has-text('Accept')",
		"button:has-text('Accept All')",
		"button:has-text('Agree')",
		"button[id*='accept']",
		"#didomi-notice-agree-button",
	}

	for _, selector := range consentSelectors {
		btn := page.Locator(selector).First()
		if visible, _ := btn.IsVisible(); visible {
			log.Printf("[%s] clicking consent button: %s", b.cfg.ID, selector)
			btn.Click()
			page.WaitForTimeout(2000)
			break
		}
	}
}

func (b *BrowserSource) humanDelay(minMs, maxMs int) {
	delay := minMs + rand.Intn(maxMs-minMs)
	time.Sleep(time.Duration(delay) * time.Millisecond)
}

// parseResultsHTML extracts vehicle cards and the reported result total from
// a rendered results page.
func (b *BrowserSource) parseResultsHTML(html string, query models.Query, date string) ([]models.Listing, int) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Printf("[%s] failed to parse results page: %v", b.cfg.ID, err)
		return nil, 0
	}

	var listings []models.Listing
	doc.Find("div.vehicle-card").Each(func(_ int, card *goquery.Selection) {
		id, ok := card.Attr("data-vehicle-id")
		if !ok || id == "" {
			return
		}

		title := strings.TrimSpace(card.Find(".vehicle-title").Text())
		year, trim := parseListingTitle(title, query)

		href, _ := card.Find("a.vehicle-detail-link").Attr("href")
		if href != "" && !strings.HasPrefix(href, "http") {
			href = b.cfg.BaseURL + href
		}

		vin, _ := card.Attr("data-vin")

		listings = append(listings, models.Listing{
			ID:          b.cfg.ID + "-" + id,
			Make:        query.Make,
			Model:       query.Model,
			Year:        year,
			Trim:        trim,
			Price:       parseDigits(card.Find(".vehicle-price").Text()),
			Mileage:     parseDigits(card.Find(".vehicle-mileage").Text()),
			Location:    strings.TrimSpace(card.Find(".vehicle-location").Text()),
			URL:         href,
			ListingDate: date,
			VIN:         vin,
		})
	})

	total := parseDigits(doc.Find(".search-results-total").First().Text())
	return listings, total
}

// DetectStatus classifies a revisited listing page for this marketplace.
func (b *BrowserSource) DetectStatus(pc services.PageContext) models.PurchaseStatus {
	if pc.StatusCode == 404 || pc.StatusCode == 410 {
		return models.StatusSold
	}
	if pc.WasRedirected && isSearchRedirect(pc.FinalURL) {
		return models.StatusSold
	}

	html := strings.ToLower(pc.HTML)
	if strings.Contains(html, "sale pending") || strings.Contains(html, "pending sale") {
		return models.StatusSelling
	}
	for _, ind := range []string{"vehicle-sold-banner", "this vehicle is sold", "no longer available"} {
		if strings.Contains(html, ind) {
			return models.StatusSold
		}
	}
	return models.StatusAvailable
}
