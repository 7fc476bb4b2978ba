package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NodeSpec is a location as written in map.config. Ids are carried by the
// enclosing map key, not by the node.
type NodeSpec struct {
	Path  string      `json:"path"`
	Texts []TimedText `json:"texts"`
}

// EdgeSpec is a transition as written in map.config, keyed by its source.
type EdgeSpec struct {
	Node    int     `json:"node"`
	Azimuth float64 `json:"azimuth"`
}

// Manifest is the wire form of a graph (the map.config file). Node and edge
// maps keep document order so that locations come back in insertion order.
type Manifest struct {
	Name       string                                    `json:"name"`
	Nodes      *orderedmap.OrderedMap[string, NodeSpec]   `json:"nodes"`
	Edges      *orderedmap.OrderedMap[string, []EdgeSpec] `json:"edges"`
	StartPoint int                                       `json:"startPoint"`
	EndPoints  []int                                     `json:"endPoints"`
}

// Build converts the manifest into a validated graph.
func (m *Manifest) Build() (*Graph, error) {
	if m.Nodes == nil {
		return nil, fmt.Errorf("%w: manifest has no nodes", ErrMalformedGraph)
	}

	locations := make([]Location, 0, m.Nodes.Len())
	for pair := m.Nodes.Oldest(); pair != nil; pair = pair.Next() {
		id, err := parseID(pair.Key)
		if err != nil {
			return nil, err
		}
		locations = append(locations, Location{ID: id, Path: pair.Value.Path, Texts: pair.Value.Texts})
	}

	var transitions []Transition
	if m.Edges != nil {
		for pair := m.Edges.Oldest(); pair != nil; pair = pair.Next() {
			from, err := parseID(pair.Key)
			if err != nil {
				return nil, err
			}
			for _, e := range pair.Value {
				transitions = append(transitions, Transition{From: from, To: LocationID(e.Node), Azimuth: e.Azimuth})
			}
		}
	}

	terminals := make([]LocationID, 0, len(m.EndPoints))
	for _, id := range m.EndPoints {
		terminals = append(terminals, LocationID(id))
	}

	return New(m.Name, locations, transitions, LocationID(m.StartPoint), terminals)
}

// Manifest returns the wire form of g.
func (g *Graph) Manifest() *Manifest {
	m := &Manifest{
		Name:       g.name,
		Nodes:      orderedmap.New[string, NodeSpec](),
		Edges:      orderedmap.New[string, []EdgeSpec](),
		StartPoint: int(g.start),
		EndPoints:  make([]int, 0, len(g.terminals)),
	}
	for _, loc := range g.locations {
		key := strconv.Itoa(int(loc.ID))
		texts := loc.Texts
		if texts == nil {
			texts = []TimedText{}
		}
		m.Nodes.Set(key, NodeSpec{Path: loc.Path, Texts: texts})

		edges := g.edges[loc.ID]
		if len(edges) == 0 {
			continue
		}
		specs := make([]EdgeSpec, 0, len(edges))
		for _, t := range edges {
			specs = append(specs, EdgeSpec{Node: int(t.To), Azimuth: t.Azimuth})
		}
		m.Edges.Set(key, specs)
	}
	for _, id := range g.Terminals() {
		m.EndPoints = append(m.EndPoints, int(id))
	}
	return m
}

// Decode reads a map.config document and builds the graph.
func Decode(r io.Reader) (*Graph, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
	}
	return m.Build()
}

// Encode writes g as a map.config document.
func Encode(w io.Writer, g *Graph) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Manifest())
}

func parseID(key string) (LocationID, error) {
	id, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("%w: location key %q is not an integer", ErrMalformedGraph, key)
	}
	return LocationID(id), nil
}
