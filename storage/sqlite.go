package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
)

// SQLiteStore holds operational data: scrape run records and their logs.
// Snapshot content lives in the JSON files, not here.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		source TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER,
		listings_valid INTEGER,
		errors_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO scrape_runs (run_id, source, started_at, status, listings_found, listings_valid, errors_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID.String(), run.Source, run.StartedAt, run.Status,
		run.ListingsFound, run.ListingsValid, run.ErrorsCount)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs
		SET finished_at = ?, status = ?, listings_found = ?, listings_valid = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFound, run.ListingsValid, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, source string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, source)
	return err
}

// RecentRuns returns the latest run records, newest first.
func (s *SQLiteStore) RecentRuns(limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, started_at, finished_at, status, listings_found, listings_valid, errors_count
		FROM scrape_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.StartedAt, &finished, &run.Status,
			&run.ListingsFound, &run.ListingsValid, &run.ErrorsCount); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
