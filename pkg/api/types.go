package api

import (
	"time"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
	"github.com/ElishaAz/VR-Navigation/pkg/pkgstore"
	"github.com/ElishaAz/VR-Navigation/pkg/tour"
)

// CreateSessionRequest matches the POST /v1/sessions body schema
type CreateSessionRequest struct {
	Name    string  `json:"name"`
	Version float64 `json:"version"`
	Policy  string  `json:"policy,omitempty"` // defaults to the server policy
}

// LocationRequest matches the goto, hover and unhover body schema
type LocationRequest struct {
	LocationID graph.LocationID `json:"location_id"`
}

// OrientationRequest matches the POST /v1/sessions/{id}/orientation body schema
type OrientationRequest struct {
	Degrees float64 `json:"degrees"`
}

// SessionResponse describes a running tour.
type SessionResponse struct {
	SessionID   string            `json:"session_id"`
	TripID      string            `json:"trip_id,omitempty"`
	Map         pkgstore.MapInfo  `json:"map"`
	CreatedAt   time.Time         `json:"created_at"`
	State       tour.State        `json:"state"`
	ActiveTexts []graph.TimedText `json:"active_texts"`
}

// ImportResponse matches the response for POST /v1/maps
type ImportResponse struct {
	Map  pkgstore.MapInfo `json:"map"`
	Path string           `json:"path"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
