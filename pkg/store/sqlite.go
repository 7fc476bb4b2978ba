package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS trips (
		trip_id TEXT PRIMARY KEY,
		map_name TEXT NOT NULL,
		map_version REAL NOT NULL,
		policy TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);

	-- Entries keep insertion order through the implicit rowid
	CREATE TABLE IF NOT EXISTS trip_entries (
		trip_id TEXT NOT NULL REFERENCES trips(trip_id) ON DELETE CASCADE,
		elapsed REAL NOT NULL,
		location INTEGER NOT NULL,
		orientation REAL NOT NULL,
		node_change INTEGER NOT NULL,
		ts DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trip_entries_trip ON trip_entries(trip_id);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create trip tables: %w", err)
	}

	return nil
}

// CreateTrip registers a new trip.
func (s *Store) CreateTrip(ctx context.Context, trip Trip) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trips (trip_id, map_name, map_version, policy, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(trip.ID), trip.Map, trip.MapVersion, trip.Policy, trip.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

// AppendEntry adds a row to a trip. The trip must exist.
func (s *Store) AppendEntry(ctx context.Context, e Entry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trip_entries (trip_id, elapsed, location, orientation, node_change, ts)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM trips WHERE trip_id = ?)
	`, string(e.TripID), e.Elapsed, e.Location, e.Orientation, e.NodeChange, e.At.UTC(), string(e.TripID))
	if err != nil {
		return fmt.Errorf("failed to insert trip entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTripNotFound, e.TripID)
	}
	return nil
}

// ReadEntries returns a trip's rows in insertion order.
func (s *Store) ReadEntries(ctx context.Context, id TripID) ([]Entry, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM trips WHERE trip_id = ?`, string(id)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up trip: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTripNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT elapsed, location, orientation, node_change, ts
		FROM trip_entries
		WHERE trip_id = ?
		ORDER BY rowid ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query trip entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e := Entry{TripID: id}
		var ts time.Time
		if err := rows.Scan(&e.Elapsed, &e.Location, &e.Orientation, &e.NodeChange, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan trip entry: %w", err)
		}
		e.At = ts.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListTrips returns all trips, oldest first.
func (s *Store) ListTrips(ctx context.Context) ([]Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trip_id, map_name, map_version, policy, started_at
		FROM trips
		ORDER BY started_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	trips := []Trip{}
	for rows.Next() {
		var t Trip
		var id string
		if err := rows.Scan(&id, &t.Map, &t.MapVersion, &t.Policy, &t.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		t.ID = TripID(id)
		t.StartedAt = t.StartedAt.UTC()
		trips = append(trips, t)
	}
	return trips, rows.Err()
}
