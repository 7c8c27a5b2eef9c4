package services

import (
	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
)

// PageContext carries everything a source needs to classify a revisited
// listing page.
type PageContext struct {
	HTML          string
	StatusCode    int
	FinalURL      string
	WasRedirected bool
}

// StatusDetector classifies a revisited listing page. An empty status
// (models.StatusAvailable) means the listing is still live.
type StatusDetector interface {
	DetectStatus(pc PageContext) models.PurchaseStatus
}
