package graph

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformedGraph is returned when a graph violates referential integrity
	// (a transition or the start point names a location that does not exist).
	ErrMalformedGraph = errors.New("graph: malformed graph")

	// ErrUnknownLocation is returned when a lookup names a location outside the graph.
	ErrUnknownLocation = errors.New("graph: unknown location")
)

// LocationID identifies a location within one graph.
type LocationID int

// TimedText is a text shown while a location is current, between Start and End
// seconds after the location was loaded.
type TimedText struct {
	Text  string  `json:"text"`
	Start float64 `json:"startTime"`
	End   float64 `json:"endTime"`
}

// Location is a panoramic viewpoint (a node of the tour).
type Location struct {
	ID    LocationID  `json:"id"`
	Path  string      `json:"path"` // relative to the map's resource root
	Texts []TimedText `json:"texts,omitempty"`
}

// Key returns the cache identity of the location.
func (l Location) Key() Key {
	return Key{ID: l.ID, Path: l.Path}
}

func (l Location) String() string {
	return fmt.Sprintf("location %d (%s)", l.ID, l.Path)
}

// Key identifies a location's resources. Equality covers both the id and the
// image path.
type Key struct {
	ID   LocationID `json:"id"`
	Path string     `json:"path"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.ID, k.Path)
}

// Transition is a directed, azimuth-tagged path between two locations.
type Transition struct {
	From    LocationID `json:"from"`
	To      LocationID `json:"to"`
	Azimuth float64    `json:"azimuth"` // degrees
}

// Graph is an immutable tour graph. Locations live in a single arena and are
// addressed by id through an index; nothing inside a Location points back at
// the graph.
type Graph struct {
	name      string
	locations []Location
	index     map[LocationID]int
	edges     map[LocationID][]Transition
	start     LocationID
	terminals map[LocationID]struct{}
}

// New builds a graph and validates it. Every transition endpoint, every
// terminal and the start id must name an existing location. Cycles are valid.
// On failure no graph is returned.
func New(name string, locations []Location, transitions []Transition, start LocationID, terminals []LocationID) (*Graph, error) {
	g := &Graph{
		name:      name,
		locations: make([]Location, 0, len(locations)),
		index:     make(map[LocationID]int, len(locations)),
		edges:     make(map[LocationID][]Transition),
		start:     start,
		terminals: make(map[LocationID]struct{}, len(terminals)),
	}

	for _, loc := range locations {
		if _, dup := g.index[loc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate location id %d", ErrMalformedGraph, loc.ID)
		}
		loc.Texts = append([]TimedText(nil), loc.Texts...)
		g.index[loc.ID] = len(g.locations)
		g.locations = append(g.locations, loc)
	}

	if _, ok := g.index[start]; !ok {
		return nil, fmt.Errorf("%w: start location %d does not exist", ErrMalformedGraph, start)
	}

	for _, t := range transitions {
		if _, ok := g.index[t.From]; !ok {
			return nil, fmt.Errorf("%w: transition source %d does not exist", ErrMalformedGraph, t.From)
		}
		if _, ok := g.index[t.To]; !ok {
			return nil, fmt.Errorf("%w: transition %d -> %d points to a missing location", ErrMalformedGraph, t.From, t.To)
		}
		if math.IsNaN(t.Azimuth) || math.IsInf(t.Azimuth, 0) {
			return nil, fmt.Errorf("%w: transition %d -> %d has a non-finite azimuth", ErrMalformedGraph, t.From, t.To)
		}
		g.edges[t.From] = append(g.edges[t.From], t)
	}

	for _, id := range terminals {
		if _, ok := g.index[id]; !ok {
			return nil, fmt.Errorf("%w: end location %d does not exist", ErrMalformedGraph, id)
		}
		g.terminals[id] = struct{}{}
	}

	return g, nil
}

// Name returns the tour name.
func (g *Graph) Name() string {
	return g.name
}

// Len returns the number of locations.
func (g *Graph) Len() int {
	return len(g.locations)
}

// Location looks a location up by id.
func (g *Graph) Location(id LocationID) (Location, bool) {
	i, ok := g.index[id]
	if !ok {
		return Location{}, false
	}
	return g.locations[i], true
}

// TransitionsFrom returns the outgoing transitions of id in manifest order.
// A location without transitions (or an unknown id) yields an empty slice.
func (g *Graph) TransitionsFrom(id LocationID) []Transition {
	edges := g.edges[id]
	out := make([]Transition, len(edges))
	copy(out, edges)
	return out
}

// Destination resolves the location a transition leads to.
func (g *Graph) Destination(t Transition) (Location, error) {
	loc, ok := g.Location(t.To)
	if !ok {
		return Location{}, fmt.Errorf("%w: %d", ErrUnknownLocation, t.To)
	}
	return loc, nil
}

// Start returns the start location.
func (g *Graph) Start() Location {
	return g.locations[g.index[g.start]]
}

// IsTerminal reports whether id is one of the tour's end points.
func (g *Graph) IsTerminal(id LocationID) bool {
	_, ok := g.terminals[id]
	return ok
}

// Terminals returns the end point ids in location order.
func (g *Graph) Terminals() []LocationID {
	out := make([]LocationID, 0, len(g.terminals))
	for _, loc := range g.locations {
		if _, ok := g.terminals[loc.ID]; ok {
			out = append(out, loc.ID)
		}
	}
	return out
}

// AllLocations returns every location in insertion order.
func (g *Graph) AllLocations() []Location {
	out := make([]Location, len(g.locations))
	copy(out, g.locations)
	return out
}

// ActiveTexts returns the texts of loc visible elapsed seconds after it was loaded.
func ActiveTexts(loc Location, elapsed float64) []TimedText {
	var out []TimedText
	for _, t := range loc.Texts {
		if elapsed >= t.Start && elapsed < t.End {
			out = append(out, t)
		}
	}
	return out
}
