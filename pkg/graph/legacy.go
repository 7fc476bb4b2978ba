package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// LegacyProject is the single-file project format produced by the old map
// editor. Point ids, neighbours and texts are carried inline.
type LegacyProject struct {
	ProjectName string        `json:"Projectname"`
	StartPoint  float64       `json:"StartPoint"`
	EndPoints   []float64     `json:"EndPoints"`
	Points      []LegacyPoint `json:"points"`
}

type LegacyPoint struct {
	ID           int              `json:"id"`
	Picture      string           `json:"Picture"`
	Neighbors    []LegacyNeighbor `json:"Neighbors"`
	OptionalText []LegacyText     `json:"OptionalText"`
}

type LegacyNeighbor struct {
	PointID int     `json:"PointID"`
	Azimuth float64 `json:"Azimut"`
}

type LegacyText struct {
	Text     string  `json:"text"`
	At       float64 `json:"whenToDisplay"`
	Duration float64 `json:"DurationInSeconds"`
}

// DecodeLegacy reads a legacy project and converts it to a graph.
func DecodeLegacy(r io.Reader) (*Graph, error) {
	var p LegacyProject
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: legacy project: %v", ErrMalformedGraph, err)
	}
	return p.Convert()
}

// Convert maps points to locations, neighbours to transitions and optional
// texts to timed texts. Texts are ordered by display time; each ends
// DurationInSeconds after it starts.
func (p *LegacyProject) Convert() (*Graph, error) {
	locations := make([]Location, 0, len(p.Points))
	var transitions []Transition

	for _, pt := range p.Points {
		texts := make([]TimedText, 0, len(pt.OptionalText))
		for _, t := range pt.OptionalText {
			texts = append(texts, TimedText{Text: t.Text, Start: t.At, End: t.At + t.Duration})
		}
		sort.SliceStable(texts, func(i, j int) bool { return texts[i].Start < texts[j].Start })

		locations = append(locations, Location{ID: LocationID(pt.ID), Path: pt.Picture, Texts: texts})
		for _, n := range pt.Neighbors {
			transitions = append(transitions, Transition{
				From:    LocationID(pt.ID),
				To:      LocationID(n.PointID),
				Azimuth: n.Azimuth,
			})
		}
	}

	terminals := make([]LocationID, 0, len(p.EndPoints))
	for _, e := range p.EndPoints {
		terminals = append(terminals, LocationID(int(e)))
	}

	return New(p.ProjectName, locations, transitions, LocationID(int(p.StartPoint)), terminals)
}
