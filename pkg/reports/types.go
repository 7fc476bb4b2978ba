package reports

import (
	"context"
	"io"

	"github.com/ElishaAz/VR-Navigation/pkg/store"
)

type ReportType string

const (
	ReportTypeTrip  ReportType = "trip"
	ReportTypeTrips ReportType = "trips"
)

type ReportParams struct {
	// TripID selects the trip for ReportTypeTrip. Ignored by ReportTypeTrips.
	TripID store.TripID
}

// ReportStore defines the interface for data access required by reports.
type ReportStore interface {
	ReadEntries(ctx context.Context, id store.TripID) ([]store.Entry, error)
	ListTrips(ctx context.Context) ([]store.Trip, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
