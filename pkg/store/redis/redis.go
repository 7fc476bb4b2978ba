package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/ElishaAz/VR-Navigation/pkg/store"
)

const tripsSet = "vrnav:trips"

// EntryStore keeps trips in Redis: one JSON string per trip and one list of
// JSON entries per trip, with the trip keys tracked in a set.
type EntryStore struct {
	client *redis.Client
}

func NewEntryStore(client *redis.Client) *EntryStore {
	return &EntryStore{client: client}
}

func (s *EntryStore) tripKey(id store.TripID) string {
	return fmt.Sprintf("vrnav:trip:%s", id)
}

func (s *EntryStore) entriesKey(id store.TripID) string {
	return fmt.Sprintf("vrnav:trip:%s:entries", id)
}

func (s *EntryStore) CreateTrip(ctx context.Context, trip store.Trip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("failed to marshal trip: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.tripKey(trip.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to SET trip %s: %w", trip.ID, err)
	}
	if !ok {
		return fmt.Errorf("trip %s already exists", trip.ID)
	}
	if err := s.client.SAdd(ctx, tripsSet, string(trip.ID)).Err(); err != nil {
		return fmt.Errorf("failed to SADD trip %s: %w", trip.ID, err)
	}
	return nil
}

func (s *EntryStore) AppendEntry(ctx context.Context, e store.Entry) error {
	exists, err := s.client.Exists(ctx, s.tripKey(e.TripID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check trip %s: %w", e.TripID, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", store.ErrTripNotFound, e.TripID)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.entriesKey(e.TripID), data).Err(); err != nil {
		return fmt.Errorf("failed to RPUSH entry: %w", err)
	}
	return nil
}

func (s *EntryStore) ReadEntries(ctx context.Context, id store.TripID) ([]store.Entry, error) {
	exists, err := s.client.Exists(ctx, s.tripKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check trip %s: %w", id, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrTripNotFound, id)
	}

	values, err := s.client.LRange(ctx, s.entriesKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to LRANGE entries: %w", err)
	}

	entries := make([]store.Entry, 0, len(values))
	for _, v := range values {
		var e store.Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry of trip %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *EntryStore) ListTrips(ctx context.Context) ([]store.Trip, error) {
	ids, err := s.client.SMembers(ctx, tripsSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to SMEMBERS %s: %w", tripsSet, err)
	}
	if len(ids) == 0 {
		return []store.Trip{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.tripKey(store.TripID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET trips: %w", err)
	}

	trips := make([]store.Trip, 0, len(values))
	for i, val := range values {
		str, ok := val.(string)
		if !ok {
			// removed between SMEMBERS and MGET
			continue
		}
		var t store.Trip
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trip %s: %w", keys[i], err)
		}
		trips = append(trips, t)
	}

	sort.Slice(trips, func(i, j int) bool {
		if !trips[i].StartedAt.Equal(trips[j].StartedAt) {
			return trips[i].StartedAt.Before(trips[j].StartedAt)
		}
		return trips[i].ID < trips[j].ID
	})
	return trips, nil
}

// Close closes the underlying client.
func (s *EntryStore) Close() error {
	return s.client.Close()
}
