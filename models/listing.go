package models

// PurchaseStatus is the post-availability lifecycle tag for a listing that
// disappeared from a snapshot. An empty value means currently available.
type PurchaseStatus string

const (
	StatusAvailable PurchaseStatus = ""
	StatusSelling   PurchaseStatus = "selling"
	StatusSold      PurchaseStatus = "sold"
)

// Listing is one observed vehicle offer at one source on one day. ID is
// source-namespaced and stable across days for the same physical offer; it is
// the join key across snapshots.
type Listing struct {
	ID             string         `json:"id"`
	Make           string         `json:"make"`
	Model          string         `json:"model"`
	Year           int            `json:"year"`
	Trim           string         `json:"trim,omitempty"`
	NormalizedTrim string         `json:"normalized_trim,omitempty"`
	Price          int            `json:"price"`
	Mileage        int            `json:"mileage"`
	Location       string         `json:"location"`
	URL            string         `json:"url"`
	ListingDate    string         `json:"listing_date"` // YYYY-MM-DD, first observation
	VIN            string         `json:"vin,omitempty"`
	PurchaseStatus PurchaseStatus `json:"purchase_status,omitempty"`
}

// MakeModel identifies a vehicle model within a source's snapshot.
type MakeModel struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

// Query is a (make, model) pair to scrape. Limit caps the number of listings
// collected per source; zero means the default target count.
type Query struct {
	Make  string `yaml:"make" json:"make"`
	Model string `yaml:"model" json:"model"`
	Limit int    `yaml:"limit,omitempty" json:"limit,omitempty"`
}

func (q Query) MakeModel() MakeModel {
	return MakeModel{Make: q.Make, Model: q.Model}
}

// Label is the human-readable "Make Model" form used in run summaries.
func (q Query) Label() string {
	return q.Make + " " + q.Model
}
