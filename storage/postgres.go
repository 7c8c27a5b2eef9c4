package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ListingEvent is a derived lifecycle event mirrored into Postgres for the
// presentation layer: new listing, price change, selling, sold.
type ListingEvent struct {
	ID            int64     `json:"id" db:"id"`
	Source        string    `json:"source" db:"source"`
	ListingID     string    `json:"listing_id" db:"listing_id"`
	EventType     string    `json:"event_type" db:"event_type"`
	EventDate     string    `json:"event_date" db:"event_date"` // YYYY-MM-DD
	Price         *int      `json:"price" db:"price"`
	PreviousPrice *int      `json:"previous_price" db:"previous_price"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

const (
	EventTypeNew         = "new"
	EventTypePriceChange = "price_change"
	EventTypeSelling     = "selling"
	EventTypeSold        = "sold"
)

// PostgresStore is the optional event archive. The pipeline is fully
// functional without it; when DATABASE_URL is set, derived events are
// mirrored here so downstream dashboards can query them without replaying
// the snapshot files.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listing_events (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		listing_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_date DATE NOT NULL,
		price INTEGER,
		previous_price INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source, listing_id, event_type, event_date)
	);
	CREATE INDEX IF NOT EXISTS idx_listing_events_date ON listing_events(event_date, source);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// InsertListingEvent records a derived event. Re-running a day's diff is a
// no-op thanks to the uniqueness constraint.
func (s *PostgresStore) InsertListingEvent(ctx context.Context, e *ListingEvent) error {
	query := `
		INSERT INTO listing_events (source, listing_id, event_type, event_date, price, previous_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, listing_id, event_type, event_date) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		e.Source, e.ListingID, e.EventType, e.EventDate, e.Price, e.PreviousPrice)
	if err != nil {
		return fmt.Errorf("insert listing event: %w", err)
	}
	return nil
}
