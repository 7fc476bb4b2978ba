package store

import (
	"context"
	"errors"
	"time"
)

// ErrTripNotFound is returned when reading entries of an unknown trip.
var ErrTripNotFound = errors.New("store: trip not found")

// TripID is a unique identifier for a recorded trip.
type TripID string

// Trip is one walk through a map, from session start to session end.
type Trip struct {
	ID         TripID    `json:"id"`
	Map        string    `json:"map"`
	MapVersion float64   `json:"map_version"`
	Policy     string    `json:"policy"`
	StartedAt  time.Time `json:"started_at"`
}

// Entry is one row of a trip log. Elapsed is measured from the trip start;
// NodeChange marks rows written because the current location changed rather
// than by the periodic orientation sampler.
type Entry struct {
	TripID      TripID    `json:"trip_id"`
	Elapsed     float64   `json:"elapsed"`
	Location    int       `json:"location"`
	Orientation float64   `json:"orientation"`
	NodeChange  bool      `json:"node_change"`
	At          time.Time `json:"at"`
}

// EntryStore persists trips and their entries. Entries are returned in the
// order they were appended.
type EntryStore interface {
	CreateTrip(ctx context.Context, trip Trip) error
	AppendEntry(ctx context.Context, entry Entry) error
	ReadEntries(ctx context.Context, id TripID) ([]Entry, error)
	ListTrips(ctx context.Context) ([]Trip, error)
	Close() error
}
