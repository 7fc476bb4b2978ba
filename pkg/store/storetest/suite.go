// Package storetest holds the behavioural suite shared by EntryStore
// implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElishaAz/VR-Navigation/pkg/store"
)

// RunEntryStoreTests exercises an empty EntryStore.
func RunEntryStoreTests(t *testing.T, s store.EntryStore) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("create and list trips", func(t *testing.T) {
		require.NoError(t, s.CreateTrip(ctx, store.Trip{ID: "t1", Map: "campus", MapVersion: 1, Policy: "no-cache", StartedAt: start}))
		require.NoError(t, s.CreateTrip(ctx, store.Trip{ID: "t2", Map: "museum", MapVersion: 2.5, Policy: "eager-all", StartedAt: start.Add(time.Minute)}))

		trips, err := s.ListTrips(ctx)
		require.NoError(t, err)
		require.Len(t, trips, 2)
		assert.Equal(t, store.TripID("t1"), trips[0].ID)
		assert.Equal(t, "museum", trips[1].Map)
		assert.Equal(t, 2.5, trips[1].MapVersion)
		assert.True(t, trips[1].StartedAt.Equal(start.Add(time.Minute)))
	})

	t.Run("entries keep append order", func(t *testing.T) {
		rows := []store.Entry{
			{TripID: "t1", Elapsed: 0, Location: 0, Orientation: 0, NodeChange: true, At: start},
			{TripID: "t1", Elapsed: 0.5, Location: 0, Orientation: -90, At: start.Add(500 * time.Millisecond)},
			{TripID: "t1", Elapsed: 0.7, Location: 3, Orientation: 180, NodeChange: true, At: start.Add(700 * time.Millisecond)},
		}
		for _, e := range rows {
			require.NoError(t, s.AppendEntry(ctx, e))
		}
		require.NoError(t, s.AppendEntry(ctx, store.Entry{TripID: "t2", Location: 9, At: start}))

		got, err := s.ReadEntries(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range rows {
			assert.Equal(t, rows[i].Elapsed, got[i].Elapsed)
			assert.Equal(t, rows[i].Location, got[i].Location)
			assert.Equal(t, rows[i].Orientation, got[i].Orientation)
			assert.Equal(t, rows[i].NodeChange, got[i].NodeChange)
			assert.True(t, rows[i].At.Equal(got[i].At), "row %d time", i)
		}
	})

	t.Run("trip without entries", func(t *testing.T) {
		require.NoError(t, s.CreateTrip(ctx, store.Trip{ID: "t3", Map: "empty", StartedAt: start.Add(time.Hour)}))
		got, err := s.ReadEntries(ctx, "t3")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unknown trip", func(t *testing.T) {
		_, err := s.ReadEntries(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrTripNotFound)
	})
}
