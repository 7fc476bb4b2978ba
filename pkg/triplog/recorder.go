// Package triplog records a viewer's walk through a map: one row whenever
// the current location changes and one row per orientation sample.
package triplog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ElishaAz/VR-Navigation/pkg/store"
	"github.com/ElishaAz/VR-Navigation/pkg/tour"
)

// DefaultInterval is the spacing of periodic orientation rows.
const DefaultInterval = 500 * time.Millisecond

// appendTimeout bounds writes made from controller notifications, which
// carry no context of their own.
const appendTimeout = 5 * time.Second

// Writer is the part of a store.EntryStore the recorder needs.
type Writer interface {
	CreateTrip(ctx context.Context, trip store.Trip) error
	AppendEntry(ctx context.Context, entry store.Entry) error
}

// OrientationSource reports the viewer's current heading in degrees.
type OrientationSource interface {
	Orientation() float64
}

// OrientationFunc adapts a function to OrientationSource.
type OrientationFunc func() float64

func (f OrientationFunc) Orientation() float64 { return f() }

type Options struct {
	Logger *slog.Logger
	Clock  func() time.Time
}

// Recorder appends trip entries for one tour session.
type Recorder struct {
	w      Writer
	trip   store.Trip
	logger *slog.Logger
	clock  func() time.Time

	mu          sync.Mutex
	location    position
	orientation float64
}

type position struct {
	id    int
	known bool
}

// Start registers trip with w and returns a recorder for it. A zero
// StartedAt is filled from the clock.
func Start(ctx context.Context, w Writer, trip store.Trip, opts Options) (*Recorder, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if trip.StartedAt.IsZero() {
		trip.StartedAt = opts.Clock().UTC()
	}
	if err := w.CreateTrip(ctx, trip); err != nil {
		return nil, fmt.Errorf("failed to create trip %s: %w", trip.ID, err)
	}
	return &Recorder{
		w:      w,
		trip:   trip,
		logger: opts.Logger.With("component", "triplog", "trip_id", string(trip.ID)),
		clock:  opts.Clock,
	}, nil
}

func (r *Recorder) Trip() store.Trip {
	return r.trip
}

// Attach subscribes the recorder to c's location changes.
func (r *Recorder) Attach(c *tour.Controller) {
	c.OnLocationChange(r.OnLocationChange)
}

// OnLocationChange writes a node-change row for ev.
func (r *Recorder) OnLocationChange(ev tour.Event) {
	r.mu.Lock()
	r.location = position{id: int(ev.To.ID), known: true}
	orientation := r.orientation
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	at := ev.At
	if at.IsZero() {
		at = r.clock()
	}
	if err := r.append(ctx, at, int(ev.To.ID), orientation, true); err != nil {
		r.logger.Error("trip_entry_failed", "location_id", int(ev.To.ID), "error", err)
	}
}

// SetOrientation records the latest heading without writing a row.
func (r *Recorder) SetOrientation(degrees float64) {
	r.mu.Lock()
	r.orientation = Normalize(degrees)
	r.mu.Unlock()
}

// Orientation returns the last heading given to SetOrientation or Sample.
func (r *Recorder) Orientation() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orientation
}

// Sample writes a periodic row at the current location. Samples taken before
// the first location change are skipped.
func (r *Recorder) Sample(ctx context.Context, degrees float64) error {
	r.mu.Lock()
	r.orientation = Normalize(degrees)
	loc, orientation := r.location, r.orientation
	r.mu.Unlock()

	if !loc.known {
		return nil
	}
	return r.append(ctx, r.clock(), loc.id, orientation, false)
}

// Run samples src every interval until ctx is done.
func (r *Recorder) Run(ctx context.Context, interval time.Duration, src OrientationSource) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Debug("trip_sampler_started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("trip_sampler_stopped")
			return
		case <-ticker.C:
			if err := r.Sample(ctx, src.Orientation()); err != nil && ctx.Err() == nil {
				r.logger.Error("trip_sample_failed", "error", err)
			}
		}
	}
}

func (r *Recorder) append(ctx context.Context, at time.Time, location int, orientation float64, nodeChange bool) error {
	elapsed := at.Sub(r.trip.StartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return r.w.AppendEntry(ctx, store.Entry{
		TripID:      r.trip.ID,
		Elapsed:     elapsed,
		Location:    location,
		Orientation: orientation,
		NodeChange:  nodeChange,
		At:          at.UTC(),
	})
}

// Normalize maps a heading in degrees onto (-180, 180].
func Normalize(degrees float64) float64 {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return 0
	}
	d := math.Mod(degrees, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}
