package scraper

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/httputil"
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
)

// MarketSource scrapes a marketplace that serves server-rendered search
// pages. Pagination is plain query-string pages parsed with goquery.
type MarketSource struct {
	cfg     *config.SourceConfig
	clients *httputil.Clients

	client  *http.Client
	limiter *RateLimiter
}

func NewMarketSource(cfg *config.SourceConfig, clients *httputil.Clients) *MarketSource {
	return &MarketSource{cfg: cfg, clients: clients}
}

func (m *MarketSource) ID() string {
	return m.cfg.ID
}

func (m *MarketSource) Launch(ctx context.Context) error {
	if m.clients == nil {
		return fmt.Errorf("%s: no http clients configured", m.cfg.ID)
	}
	m.client = m.clients.Scraping
	m.limiter = NewRateLimiter(time.Duration(m.cfg.RateLimitMS) * time.Millisecond)
	return nil
}

func (m *MarketSource) Close() {
	m.client = nil
	m.limiter = nil
}

func (m *MarketSource) ScrapeModel(ctx context.Context, query models.Query, opts ScrapeOptions) (*ScrapeResult, error) {
	if m.client == nil {
		return nil, fmt.Errorf("%s: not launched", m.cfg.ID)
	}

	limit := opts.EffectiveLimit()
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = m.cfg.MaxPages
	}

	result := &ScrapeResult{}
	seen := make(map[string]bool)
	today := time.Now().UTC().Format("2006-01-02")

	for page := 1; page <= maxPages; page++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		doc, err := m.fetchSearchPage(ctx, query, page)
		if err != nil {
			// A single bad page ends pagination but keeps what we have.
			log.Printf("[%s] page %d fetch failed: %v", m.cfg.ID, page, err)
			break
		}

		listings, total, hasNext := m.parseSearchPage(doc, query, today)
		if len(listings) == 0 {
			break
		}

		for _, l := range listings {
			if seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			result.Listings = append(result.Listings, l)
		}

		log.Printf("[%s] %s page %d: %d listings (total: %d)",
			m.cfg.ID, query.Label(), page, len(listings), len(result.Listings))

		if total > limit {
			result.ExceededMax = true
		}
		if len(result.Listings) >= limit || !hasNext {
			break
		}
	}

	if len(result.Listings) > limit {
		result.Listings = result.Listings[:limit]
	}
	return result, nil
}

func (m *MarketSource) fetchSearchPage(ctx context.Context, query models.Query, page int) (*goquery.Document, error) {
	params := url.Values{}
	params.Set("make", query.Make)
	params.Set("model", query.Model)
	params.Set("page", fmt.Sprintf("%d", page))
	searchURL := m.cfg.BaseURL + m.cfg.SearchPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("status %d for %s", resp.StatusCode, searchURL)
	}

	return goquery.NewDocumentFromReader(resp.Body)
}

// parseSearchPage extracts listings, the source-reported total, and whether a
// next page exists.
func (m *MarketSource) parseSearchPage(doc *goquery.Document, query models.Query, date string) ([]models.Listing, int, bool) {
	var listings []models.Listing

	doc.Find("li.listing-card").Each(func(_ int, card *goquery.Selection) {
		id, ok := card.Attr("data-listing-id")
		if !ok || id == "" {
			log.Printf("[%s] skipping card without listing id", m.cfg.ID)
			return
		}

		title := strings.TrimSpace(card.Find(".listing-title").Text())
		year, trim := parseListingTitle(title, query)

		href, _ := card.Find("a.listing-link").Attr("href")
		if href != "" && !strings.HasPrefix(href, "http") {
			href = m.cfg.BaseURL + href
		}

		vin, _ := card.Attr("data-vin")

		listings = append(listings, models.Listing{
			ID:          m.cfg.ID + "-" + id,
			Make:        query.Make,
			Model:       query.Model,
			Year:        year,
			Trim:        trim,
			Price:       parseDigits(card.Find(".listing-price").Text()),
			Mileage:     parseDigits(card.Find(".listing-mileage").Text()),
			Location:    strings.TrimSpace(card.Find(".listing-location").Text()),
			URL:         href,
			ListingDate: date,
			VIN:         vin,
		})
	})

	total := parseDigits(doc.Find(".results-count").First().Text())
	hasNext := doc.Find("a.next-page").Length() > 0

	return listings, total, hasNext
}

// DetectStatus classifies a revisited listing page for this marketplace.
func (m *MarketSource) DetectStatus(pc services.PageContext) models.PurchaseStatus {
	if pc.StatusCode == 404 || pc.StatusCode == 410 {
		return models.StatusSold
	}
	if pc.WasRedirected && isSearchRedirect(pc.FinalURL) {
		return models.StatusSold
	}

	html := strings.ToLower(pc.HTML)
	sellingIndicators := []string{"sale pending", "deal pending", "reserved"}
	for _, ind := range sellingIndicators {
		if strings.Contains(html, ind) {
			return models.StatusSelling
		}
	}
	soldIndicators := []string{"this vehicle has been sold", "listing is no longer available", "no longer for sale"}
	for _, ind := range soldIndicators {
		if strings.Contains(html, ind) {
			return models.StatusSold
		}
	}
	return models.StatusAvailable
}

func isSearchRedirect(location string) bool {
	loc := strings.ToLower(location)
	for _, pattern := range []string{"/search", "/listings?", "notfound", "error"} {
		if strings.Contains(loc, pattern) {
			return true
		}
	}
	return false
}

// parseListingTitle splits "2021 Tesla Model 3 Long Range" into year and
// trim, given the query's make and model.
func parseListingTitle(title string, query models.Query) (int, string) {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return 0, ""
	}

	year := parseDigits(fields[0])
	if year < 1900 || year > 2100 {
		year = 0
	} else {
		fields = fields[1:]
	}

	rest := strings.Join(fields, " ")
	for _, prefix := range []string{query.Make + " " + query.Model, query.Make, query.Model} {
		if strings.HasPrefix(strings.ToLower(rest), strings.ToLower(prefix)) {
			rest = strings.TrimSpace(rest[len(prefix):])
			break
		}
	}
	return year, rest
}

// parseDigits extracts the integer value from formatted text like "$28,500"
// or "32,100 mi". Stops at the first digit group's end.
func parseDigits(s string) int {
	var result int
	started := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			result = result*10 + int(c-'0')
			started = true
		case c == ',' && started:
			// grouped thousands
		default:
			if started {
				return result
			}
		}
	}
	return result
}
