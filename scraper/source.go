package scraper

import (
	"context"
	"sort"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/httputil"
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
)

// DefaultMaxVehicles is the per-model target count when a query carries no
// explicit limit.
const DefaultMaxVehicles = 250

// ScrapeOptions bounds one ScrapeModel call.
type ScrapeOptions struct {
	Limit    int // target listing count; 0 means DefaultMaxVehicles
	MaxPages int // page ceiling; 0 means the source config value
}

func (o ScrapeOptions) EffectiveLimit() int {
	if o.Limit > 0 {
		return o.Limit
	}
	return DefaultMaxVehicles
}

// ScrapeResult is the normalized return shape for one (source, model) scrape.
// ExceededMax is true iff the source reported more results than the
// pagination cap allowed collecting, so the listing set is a lower bound.
type ScrapeResult struct {
	Listings    []models.Listing
	ExceededMax bool
}

// Source is the contract every marketplace implementation satisfies.
// Lifecycle: Launch → ScrapeModel (0..N) → Close; Close must run on all exit
// paths, including after a failed Launch or ScrapeModel.
type Source interface {
	ID() string
	Launch(ctx context.Context) error
	ScrapeModel(ctx context.Context, query models.Query, opts ScrapeOptions) (*ScrapeResult, error)
	Close()
	services.StatusDetector
}

// ModelScraper is the older source contract that returned a bare listing
// slice with no exceeded-max signal.
type ModelScraper interface {
	ID() string
	Launch(ctx context.Context) error
	ScrapeListings(ctx context.Context, query models.Query, opts ScrapeOptions) ([]models.Listing, error)
	Close()
	services.StatusDetector
}

// WrapLegacy adapts a bare-slice source to the tagged result contract;
// exceeded-max is reported false.
func WrapLegacy(m ModelScraper) Source {
	return &legacySource{m}
}

type legacySource struct {
	ModelScraper
}

func (l *legacySource) ScrapeModel(ctx context.Context, query models.Query, opts ScrapeOptions) (*ScrapeResult, error) {
	listings, err := l.ScrapeListings(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return &ScrapeResult{Listings: listings}, nil
}

// NormalizeResult maps a source's raw return into the tagged shape. A nil
// result with no error becomes an empty listing set.
func NormalizeResult(res *ScrapeResult) *ScrapeResult {
	if res == nil {
		return &ScrapeResult{}
	}
	return res
}

// SourceEntry pairs a constructed source with its config.
type SourceEntry struct {
	Source  Source
	Config  *config.SourceConfig
	Enabled bool
}

// NewSource builds the implementation named by the source config.
func NewSource(srcCfg *config.SourceConfig, clients *httputil.Clients) Source {
	switch srcCfg.Handler {
	case "browser":
		return NewBrowserSource(srcCfg)
	case "http":
		return NewMarketSource(srcCfg, clients)
	default:
		return NewMarketSource(srcCfg, clients)
	}
}

// BuildRegistry constructs the explicit registration table: source id to
// implementation, with the per-source enabled flag from config. No dynamic
// discovery.
func BuildRegistry(cfg *config.Config, clients *httputil.Clients) map[string]*SourceEntry {
	registry := make(map[string]*SourceEntry)
	for id, srcCfg := range cfg.Sources {
		registry[id] = &SourceEntry{
			Source:  NewSource(srcCfg, clients),
			Config:  srcCfg,
			Enabled: srcCfg.Enabled,
		}
	}
	return registry
}

// SortedIDs returns registry keys in deterministic order.
func SortedIDs(registry map[string]*SourceEntry) []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
