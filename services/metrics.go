package services

import (
	"sort"
	"time"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
	"github.com/quicklywilliam/usedevpricetracker-sub000/storage"
)

// DefaultAggregationThreshold is the history length above which daily dates
// collapse into week buckets for presentation.
const DefaultAggregationThreshold = 90

const dateLayout = "2006-01-02"

// PriceChange describes one listing whose price moved between two snapshots.
type PriceChange struct {
	ID       string `json:"id"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
	Delta    int    `json:"delta"`
}

// DailyDiff is the differential view between two consecutive snapshots of
// one source. Sold is the subset of Missing whose historical record carries
// a sold tag from reconciliation.
type DailyDiff struct {
	New          []models.Listing `json:"new"`
	PriceChanged []PriceChange    `json:"price_changed"`
	Missing      []models.Listing `json:"missing"`
	Sold         []models.Listing `json:"sold"`
}

// Diff computes the differential view of current against previous. A nil
// previous marks every current listing as new.
func Diff(previous, current *models.SourceSnapshot) DailyDiff {
	var diff DailyDiff

	if previous == nil {
		diff.New = append(diff.New, current.Listings...)
		return diff
	}

	prevIndex := previous.ListingIndex()
	seen := make(map[string]bool)

	for _, l := range current.Listings {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true

		prev, ok := prevIndex[l.ID]
		if !ok {
			diff.New = append(diff.New, l)
			continue
		}
		if prev.Price != l.Price {
			diff.PriceChanged = append(diff.PriceChanged, PriceChange{
				ID:       l.ID,
				Previous: prev.Price,
				Current:  l.Price,
				Delta:    l.Price - prev.Price,
			})
		}
	}

	for _, l := range FindMissingListings(previous, current) {
		diff.Missing = append(diff.Missing, l)
		if l.PurchaseStatus == models.StatusSold {
			diff.Sold = append(diff.Sold, l)
		}
	}

	return diff
}

// SoldListing is a listing whose lifecycle ended in a sold tag, with its
// observed market span.
type SoldListing struct {
	Listing      models.Listing `json:"listing"`
	FirstSeen    string         `json:"first_seen"`
	LastSeen     string         `json:"last_seen"`
	DaysOnMarket int            `json:"days_on_market"`
}

// SoldListings walks a source's history and returns every listing whose
// latest record is tagged sold. Days on market runs from first observation
// to the last day the listing was confirmed present.
func SoldListings(history []storage.DatedSnapshot) []SoldListing {
	type span struct {
		first, last string
		latest      models.Listing
	}
	spans := make(map[string]*span)
	var order []string

	for _, day := range history {
		for _, l := range day.Snapshot.Listings {
			sp, ok := spans[l.ID]
			if !ok {
				spans[l.ID] = &span{first: day.Date, last: day.Date, latest: l}
				order = append(order, l.ID)
				continue
			}
			sp.last = day.Date
			sp.latest = l
		}
	}

	var sold []SoldListing
	for _, id := range order {
		sp := spans[id]
		if sp.latest.PurchaseStatus != models.StatusSold {
			continue
		}
		sold = append(sold, SoldListing{
			Listing:      sp.latest,
			FirstSeen:    sp.first,
			LastSeen:     sp.last,
			DaysOnMarket: DaysBetween(sp.first, sp.last),
		})
	}
	return sold
}

// DaysBetween returns whole days from one date label to another.
func DaysBetween(from, to string) int {
	start, err1 := time.Parse(dateLayout, from)
	end, err2 := time.Parse(dateLayout, to)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(end.Sub(start).Hours() / 24)
}

// DaysOnMarketAsOf is the span for a listing still available: first
// observation to the given current date.
func DaysOnMarketAsOf(firstSeen string, now time.Time) int {
	return DaysBetween(firstSeen, now.UTC().Format(dateLayout))
}

// ModelStats aggregates one {make, model} group within a single snapshot.
// ExceededMax marks the count as a lower bound on true inventory.
type ModelStats struct {
	models.MakeModel
	Count       int     `json:"count"`
	MinPrice    int     `json:"min_price"`
	MaxPrice    int     `json:"max_price"`
	AvgPrice    float64 `json:"avg_price"`
	MedianPrice float64 `json:"median_price"`
	ExceededMax bool    `json:"exceeded_max"`
}

// GroupStats computes per-model price and inventory statistics for one
// day's snapshot. Duplicate ids count once; zero prices are excluded from
// price statistics but still count as inventory.
func GroupStats(snap *models.SourceSnapshot) []ModelStats {
	groups := make(map[models.MakeModel][]int)
	counts := make(map[models.MakeModel]int)
	seen := make(map[string]bool)

	for _, l := range snap.Listings {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true

		mm := models.MakeModel{Make: l.Make, Model: l.Model}
		counts[mm]++
		if l.Price > 0 {
			groups[mm] = append(groups[mm], l.Price)
		}
	}

	var stats []ModelStats
	for mm, count := range counts {
		st := ModelStats{
			MakeModel:   mm,
			Count:       count,
			ExceededMax: snap.HasExceededMax(mm),
		}

		prices := groups[mm]
		if len(prices) > 0 {
			sort.Ints(prices)
			st.MinPrice = prices[0]
			st.MaxPrice = prices[len(prices)-1]

			sum := 0
			for _, p := range prices {
				sum += p
			}
			st.AvgPrice = float64(sum) / float64(len(prices))

			mid := len(prices) / 2
			if len(prices)%2 == 1 {
				st.MedianPrice = float64(prices[mid])
			} else {
				st.MedianPrice = float64(prices[mid-1]+prices[mid]) / 2
			}
		}

		stats = append(stats, st)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Make != stats[j].Make {
			return stats[i].Make < stats[j].Make
		}
		return stats[i].Model < stats[j].Model
	})
	return stats
}

// DateBucket groups consecutive dates for long-range presentation.
type DateBucket struct {
	Label          string   `json:"label"`          // bucket's week start (or the single date)
	Dates          []string `json:"dates"`          // every member, ascending
	Representative string   `json:"representative"` // preferred display date
}

// AggregateDates collapses a long date range into ISO week buckets (weeks
// start Monday). At or below the threshold, every date is its own bucket.
// Each input date lands in exactly one bucket; the representative prefers
// dates known to have data.
func AggregateDates(dates []string, threshold int, hasData map[string]bool) []DateBucket {
	sorted := append([]string(nil), dates...)
	sort.Strings(sorted)

	if threshold <= 0 {
		threshold = DefaultAggregationThreshold
	}

	if len(sorted) <= threshold {
		buckets := make([]DateBucket, 0, len(sorted))
		for _, d := range sorted {
			buckets = append(buckets, DateBucket{Label: d, Dates: []string{d}, Representative: d})
		}
		return buckets
	}

	var buckets []DateBucket
	byLabel := make(map[string]int)

	for _, d := range sorted {
		label := weekStart(d)
		idx, ok := byLabel[label]
		if !ok {
			byLabel[label] = len(buckets)
			buckets = append(buckets, DateBucket{Label: label})
			idx = len(buckets) - 1
		}
		b := &buckets[idx]
		b.Dates = append(b.Dates, d)
		if b.Representative == "" && (hasData == nil || hasData[d]) {
			b.Representative = d
		}
	}

	for i := range buckets {
		if buckets[i].Representative == "" {
			buckets[i].Representative = buckets[i].Dates[0]
		}
	}
	return buckets
}

// weekStart maps a date label to its ISO week's Monday.
func weekStart(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format(dateLayout)
}

// PricePoint is one day's (or one bucket's) price observation for a group.
type PricePoint struct {
	Date     string  `json:"date"`
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avg_price"`
}

// PriceSeries produces the daily average-price series for one {make, model}
// across a source's history.
func PriceSeries(history []storage.DatedSnapshot, mm models.MakeModel) []PricePoint {
	var series []PricePoint
	for _, day := range history {
		for _, st := range GroupStats(day.Snapshot) {
			if st.MakeModel == mm && st.Count > 0 {
				series = append(series, PricePoint{
					Date:     day.Date,
					Count:    st.Count,
					AvgPrice: st.AvgPrice,
				})
				break
			}
		}
	}
	return series
}

// AggregateSeries folds daily points into the given buckets. Averages are
// count-weighted: two days with counts 10 and 5 weigh 2:1, never the
// unweighted mean of the two daily averages.
func AggregateSeries(points []PricePoint, buckets []DateBucket) []PricePoint {
	byDate := make(map[string]PricePoint, len(points))
	for _, p := range points {
		byDate[p.Date] = p
	}

	var out []PricePoint
	for _, b := range buckets {
		count := 0
		weighted := 0.0
		for _, d := range b.Dates {
			p, ok := byDate[d]
			if !ok {
				continue
			}
			count += p.Count
			weighted += float64(p.Count) * p.AvgPrice
		}
		if count == 0 {
			continue
		}
		out = append(out, PricePoint{
			Date:     b.Representative,
			Count:    count,
			AvgPrice: weighted / float64(count),
		})
	}
	return out
}

// WeightedAverage collapses a series into one count-weighted average price.
func WeightedAverage(points []PricePoint) (int, float64) {
	count := 0
	weighted := 0.0
	for _, p := range points {
		count += p.Count
		weighted += float64(p.Count) * p.AvgPrice
	}
	if count == 0 {
		return 0, 0
	}
	return count, weighted / float64(count)
}
