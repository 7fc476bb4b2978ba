package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// TripHeader is the column layout of a trip log.
var TripHeader = []string{"time", "node", "orientation", "nodeChange"}

// TripCSV renders one trip's entries in recording order.
type TripCSV struct {
	store ReportStore
}

func NewTripCSV(s ReportStore) *TripCSV {
	return &TripCSV{store: s}
}

func (r *TripCSV) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	if params.TripID == "" {
		return nil, fmt.Errorf("trip report requires a trip id")
	}

	entries, err := r.store.ReadEntries(ctx, params.TripID)
	if err != nil {
		return nil, fmt.Errorf("failed to read trip entries: %w", err)
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if err := writer.Write(TripHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			strconv.FormatFloat(e.Elapsed, 'f', 3, 64),
			strconv.Itoa(e.Location),
			strconv.FormatFloat(e.Orientation, 'f', 2, 64),
			strconv.FormatBool(e.NodeChange),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("csv writer error: %w", err)
	}

	return buf, nil
}

// TripsCSV lists every recorded trip.
type TripsCSV struct {
	store ReportStore
}

func NewTripsCSV(s ReportStore) *TripsCSV {
	return &TripsCSV{store: s}
}

func (r *TripsCSV) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	trips, err := r.store.ListTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"trip_id", "map", "version", "policy", "started_at"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range trips {
		row := []string{
			string(t.ID),
			t.Map,
			strconv.FormatFloat(t.MapVersion, 'f', -1, 64),
			t.Policy,
			t.StartedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("csv writer error: %w", err)
	}

	return buf, nil
}
