package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
func NewReportGenerator(reportType ReportType, s ReportStore) (Generator, error) {
	switch reportType {
	case ReportTypeTrip:
		return NewTripCSV(s), nil
	case ReportTypeTrips:
		return NewTripsCSV(s), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
