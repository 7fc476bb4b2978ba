package client

import (
	"fmt"
	"time"
)

// MapInfo identifies a stored map.
type MapInfo struct {
	Name    string  `json:"name"`
	Version float64 `json:"version"`
}

// MapEntry is a map located in the daemon's store.
type MapEntry struct {
	MapInfo
	Path string `json:"path"`
}

// TimedText is a caption shown between Start and End seconds after a
// location is entered.
type TimedText struct {
	Text  string  `json:"text"`
	Start float64 `json:"startTime"`
	End   float64 `json:"endTime"`
}

// Location is one photo sphere of a map.
type Location struct {
	ID    int         `json:"id"`
	Path  string      `json:"path"`
	Texts []TimedText `json:"texts,omitempty"`
}

// Transition is a hotspot leaving the current location.
type Transition struct {
	To       int     `json:"to"`
	Path     string  `json:"path"`
	Azimuth  float64 `json:"azimuth"`
	Terminal bool    `json:"terminal"`
	Loaded   bool    `json:"loaded"`
}

// CacheEntry is a resident image and its reference count.
type CacheEntry struct {
	Key struct {
		ID   int    `json:"id"`
		Path string `json:"path"`
	} `json:"key"`
	Refs int `json:"refs"`
}

// State is the traversal state of a session.
type State struct {
	Map         string       `json:"map"`
	Policy      string       `json:"policy"`
	Current     Location     `json:"current"`
	Terminal    bool         `json:"terminal"`
	EnteredAt   time.Time    `json:"entered_at"`
	Transitions []Transition `json:"transitions"`
	Cache       []CacheEntry `json:"cache"`
}

// Session is a running tour.
type Session struct {
	SessionID   string      `json:"session_id"`
	TripID      string      `json:"trip_id,omitempty"`
	Map         MapInfo     `json:"map"`
	CreatedAt   time.Time   `json:"created_at"`
	State       State       `json:"state"`
	ActiveTexts []TimedText `json:"active_texts"`
}

// StartOptions selects the map and cache policy of a new session.
type StartOptions struct {
	Name    string  `json:"name"`
	Version float64 `json:"version"`
	Policy  string  `json:"policy,omitempty"`
}

// Status represents the health check response.
type Status struct {
	Status string `json:"status"`
}

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("vrnav: %d %s: %s", e.StatusCode, e.Code, e.Details)
	}
	return fmt.Sprintf("vrnav: %d %s", e.StatusCode, e.Code)
}
