package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ElishaAz/VR-Navigation/pkg/store"
	"github.com/ElishaAz/VR-Navigation/pkg/store/storetest"
)

func setupTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vrnav.db")
	s, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func TestNewStore(t *testing.T) {
	_, dbPath := setupTestStore(t)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vrnav.db")
	s, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	if err := s.CreateTrip(ctx, store.Trip{ID: "keep", Map: "m"}); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	s.Close()

	// migrations are idempotent and data survives
	s, err = store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	trips, err := s.ListTrips(ctx)
	if err != nil {
		t.Fatalf("ListTrips failed: %v", err)
	}
	if len(trips) != 1 || trips[0].ID != "keep" {
		t.Errorf("expected the trip to survive a reopen, got %+v", trips)
	}
}

func TestSQLiteEntryStore(t *testing.T) {
	s, _ := setupTestStore(t)
	storetest.RunEntryStoreTests(t, s)
}

func TestAppendEntry_UnknownTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	err := s.AppendEntry(context.Background(), store.Entry{TripID: "ghost"})
	if !errors.Is(err, store.ErrTripNotFound) {
		t.Errorf("expected ErrTripNotFound, got %v", err)
	}
}
