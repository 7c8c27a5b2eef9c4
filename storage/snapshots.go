package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
)

const dateLayout = "2006-01-02"

// SnapshotStore persists one JSON document per (source, UTC day). Historical
// days are never rewritten except for in-place status tagging; the current
// day grows by append only.
type SnapshotStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewSnapshotStore(dataDir string) (*SnapshotStore, error) {
	dir := filepath.Join(dataDir, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStore{dir: dir, now: time.Now}, nil
}

// SetClock overrides the store's clock. Test hook.
func (s *SnapshotStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SnapshotStore) Today() string {
	return s.now().UTC().Format(dateLayout)
}

func (s *SnapshotStore) path(source, date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", source, date))
}

// SnapshotPath resolves the on-disk path for a (source, date) snapshot file.
func (s *SnapshotStore) SnapshotPath(source, date string) string {
	return s.path(source, date)
}

// AppendListings merges newly scraped listings into today's snapshot for the
// source. No dedup by id happens here: within-day dedup is the scraper's
// responsibility before calling append. Repeated calls are associative and
// commutative with respect to final listing content.
func (s *SnapshotStore) AppendListings(source string, listings []models.Listing, exceededMax bool, query models.MakeModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.Today()
	snap, err := s.loadLocked(source, date)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &models.SourceSnapshot{Source: source}
	}

	snap.Listings = append(snap.Listings, listings...)
	snap.ScrapedAt = s.now().UTC()
	if exceededMax {
		snap.AddExceededMax(query)
	}

	return s.writeLocked(source, date, snap)
}

// LoadDay returns the snapshot for (source, date), or nil if none exists.
func (s *SnapshotStore) LoadDay(source, date string) (*models.SourceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(source, date)
}

// SaveDay rewrites an existing day's snapshot in place. Used by status
// reconciliation to tag listings; callers must not remove or reorder entries.
func (s *SnapshotStore) SaveDay(source, date string, snap *models.SourceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(source, date, snap)
}

// Dates returns all snapshot dates for a source, ascending.
func (s *SnapshotStore) Dates(source string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	prefix := source + "_"
	var dates []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		if _, err := time.Parse(dateLayout, date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// LoadHistory returns all snapshots for a source ascending by date. A
// non-nil allowlist restricts the result to the given date labels.
func (s *SnapshotStore) LoadHistory(source string, allowlist []string) ([]DatedSnapshot, error) {
	dates, err := s.Dates(source)
	if err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if allowlist != nil {
		allowed = make(map[string]bool, len(allowlist))
		for _, d := range allowlist {
			allowed[d] = true
		}
	}

	var history []DatedSnapshot
	for _, date := range dates {
		if allowed != nil && !allowed[date] {
			continue
		}
		snap, err := s.LoadDay(source, date)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			history = append(history, DatedSnapshot{Date: date, Snapshot: snap})
		}
	}
	return history, nil
}

// LatestBefore returns the most recent snapshot strictly before the given
// date, or nil when the source has no earlier history.
func (s *SnapshotStore) LatestBefore(source, date string) (*DatedSnapshot, error) {
	dates, err := s.Dates(source)
	if err != nil {
		return nil, err
	}

	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i] < date {
			snap, err := s.LoadDay(source, dates[i])
			if err != nil {
				return nil, err
			}
			if snap != nil {
				return &DatedSnapshot{Date: dates[i], Snapshot: snap}, nil
			}
		}
	}
	return nil, nil
}

// DatedSnapshot pairs a snapshot with its date label.
type DatedSnapshot struct {
	Date     string
	Snapshot *models.SourceSnapshot
}

func (s *SnapshotStore) loadLocked(source, date string) (*models.SourceSnapshot, error) {
	data, err := os.ReadFile(s.path(source, date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot %s/%s: %w", source, date, err)
	}

	var snap models.SourceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s/%s: %w", source, date, err)
	}
	return &snap, nil
}

// writeLocked replaces the day's file atomically: a concurrent reader sees
// either the old or the new document, never a partial write.
func (s *SnapshotStore) writeLocked(source, date string, snap *models.SourceSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	final := s.path(source, date)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
