package graph

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeRooms(t *testing.T) *Graph {
	t.Helper()
	g, err := New("museum",
		[]Location{
			{ID: 1, Path: "hall.jpg"},
			{ID: 2, Path: "gallery.jpg", Texts: []TimedText{{Text: "welcome", Start: 0, End: 3}}},
			{ID: 3, Path: "exit.jpg"},
		},
		[]Transition{
			{From: 1, To: 2, Azimuth: 90},
			{From: 2, To: 1, Azimuth: 270},
			{From: 2, To: 3, Azimuth: 0},
		},
		1, []LocationID{3})
	require.NoError(t, err)
	return g
}

func TestNew_Queries(t *testing.T) {
	g := threeRooms(t)

	assert.Equal(t, "museum", g.Name())
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, LocationID(1), g.Start().ID)
	assert.True(t, g.IsTerminal(3))
	assert.False(t, g.IsTerminal(1))
	assert.Equal(t, []LocationID{3}, g.Terminals())

	out := g.TransitionsFrom(2)
	require.Len(t, out, 2)
	assert.Equal(t, LocationID(1), out[0].To)
	assert.Equal(t, 270.0, out[0].Azimuth)
	assert.Equal(t, LocationID(3), out[1].To)

	assert.Empty(t, g.TransitionsFrom(3))
	assert.Empty(t, g.TransitionsFrom(42))

	dest, err := g.Destination(out[1])
	require.NoError(t, err)
	assert.Equal(t, "exit.jpg", dest.Path)

	_, err = g.Destination(Transition{From: 1, To: 99})
	assert.ErrorIs(t, err, ErrUnknownLocation)
}

func TestNew_CyclesAllowed(t *testing.T) {
	_, err := New("loop",
		[]Location{{ID: 1, Path: "a"}, {ID: 2, Path: "b"}},
		[]Transition{{From: 1, To: 2}, {From: 2, To: 1}, {From: 1, To: 1}},
		1, nil)
	assert.NoError(t, err)
}

func TestNew_Malformed(t *testing.T) {
	locs := []Location{{ID: 1, Path: "a"}, {ID: 2, Path: "b"}}

	tests := []struct {
		name        string
		locations   []Location
		transitions []Transition
		start       LocationID
		terminals   []LocationID
	}{
		{"missing destination", locs, []Transition{{From: 1, To: 7}}, 1, nil},
		{"missing source", locs, []Transition{{From: 9, To: 1}}, 1, nil},
		{"missing start", locs, nil, 5, nil},
		{"missing terminal", locs, nil, 1, []LocationID{8}},
		{"duplicate id", append(locs, Location{ID: 2, Path: "c"}), nil, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New("bad", tt.locations, tt.transitions, tt.start, tt.terminals)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, ErrMalformedGraph), "got %v", err)
		})
	}
}

func TestAllLocations_InsertionOrder(t *testing.T) {
	g, err := New("order",
		[]Location{{ID: 30, Path: "c"}, {ID: 10, Path: "a"}, {ID: 20, Path: "b"}},
		nil, 10, nil)
	require.NoError(t, err)

	var ids []LocationID
	for _, loc := range g.AllLocations() {
		ids = append(ids, loc.ID)
	}
	assert.Equal(t, []LocationID{30, 10, 20}, ids)
}

func TestKey_DistinguishesPath(t *testing.T) {
	a := Location{ID: 1, Path: "a.jpg"}.Key()
	b := Location{ID: 1, Path: "b.jpg"}.Key()
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Location{ID: 1, Path: "a.jpg"}.Key())
}

func TestActiveTexts(t *testing.T) {
	loc := Location{ID: 1, Texts: []TimedText{
		{Text: "first", Start: 0, End: 2},
		{Text: "second", Start: 1, End: 5},
	}}

	assert.Len(t, ActiveTexts(loc, 0.5), 1)
	assert.Len(t, ActiveTexts(loc, 1.5), 2)
	got := ActiveTexts(loc, 2)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Text)
	assert.Empty(t, ActiveTexts(loc, 10))
}

const sampleConfig = `{
  "name": "campus",
  "nodes": {
    "5": {"path": "gate.jpg", "texts": [{"text": "hi", "startTime": 1, "endTime": 4}]},
    "2": {"path": "library.jpg", "texts": []},
    "9": {"path": "lab.jpg", "texts": []}
  },
  "edges": {
    "5": [{"node": 2, "azimuth": 45.5}, {"node": 9, "azimuth": 180}],
    "2": [{"node": 5, "azimuth": 225.5}]
  },
  "startPoint": 5,
  "endPoints": [9]
}`

func TestDecode(t *testing.T) {
	g, err := Decode(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "campus", g.Name())
	assert.Equal(t, LocationID(5), g.Start().ID)
	assert.True(t, g.IsTerminal(9))

	var ids []LocationID
	for _, loc := range g.AllLocations() {
		ids = append(ids, loc.ID)
	}
	assert.Equal(t, []LocationID{5, 2, 9}, ids)

	out := g.TransitionsFrom(5)
	require.Len(t, out, 2)
	assert.Equal(t, Transition{From: 5, To: 2, Azimuth: 45.5}, out[0])
	assert.Equal(t, Transition{From: 5, To: 9, Azimuth: 180}, out[1])

	gate, _ := g.Location(5)
	assert.Equal(t, []TimedText{{Text: "hi", Start: 1, End: 4}}, gate.Texts)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"name":`,
		"no nodes":         `{"name":"x","startPoint":1}`,
		"bad key":          `{"name":"x","nodes":{"one":{"path":"a"}},"startPoint":1}`,
		"dangling edge":    `{"name":"x","nodes":{"1":{"path":"a"}},"edges":{"1":[{"node":2,"azimuth":0}]},"startPoint":1}`,
		"start not a node": `{"name":"x","nodes":{"1":{"path":"a"}},"startPoint":3}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrMalformedGraph)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	g, err := Decode(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))

	again, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, g.AllLocations(), again.AllLocations())
	for _, loc := range g.AllLocations() {
		assert.Equal(t, g.TransitionsFrom(loc.ID), again.TransitionsFrom(loc.ID))
	}
	assert.Equal(t, g.Terminals(), again.Terminals())
	assert.Equal(t, g.Start(), again.Start())
}

const sampleLegacy = `{
  "Projectname": "old tour",
  "StartPoint": 1.0,
  "EndPoints": [3.0],
  "points": [
    {"id": 1, "Picture": "p1.jpg",
     "Neighbors": [{"PointID": 2, "Azimut": 12.5}, {"PointID": 3, "Azimut": 300}],
     "OptionalText": [
       {"text": "later", "whenToDisplay": 5, "DurationInSeconds": 2},
       {"text": "sooner", "whenToDisplay": 1, "DurationInSeconds": 3}
     ]},
    {"id": 2, "Picture": "p2.jpg", "Neighbors": [{"PointID": 1, "Azimut": 192.5}], "OptionalText": []},
    {"id": 3, "Picture": "p3.jpg", "Neighbors": [], "OptionalText": []}
  ]
}`

func TestDecodeLegacy(t *testing.T) {
	g, err := DecodeLegacy(strings.NewReader(sampleLegacy))
	require.NoError(t, err)

	assert.Equal(t, "old tour", g.Name())
	assert.Equal(t, LocationID(1), g.Start().ID)
	assert.True(t, g.IsTerminal(3))

	out := g.TransitionsFrom(1)
	require.Len(t, out, 2)
	assert.Equal(t, LocationID(2), out[0].To)
	assert.Equal(t, 12.5, out[0].Azimuth)
	assert.Equal(t, LocationID(3), out[1].To)
	assert.Equal(t, 300.0, out[1].Azimuth)

	p1, ok := g.Location(1)
	require.True(t, ok)
	assert.Equal(t, "p1.jpg", p1.Path)
	assert.Equal(t, []TimedText{
		{Text: "sooner", Start: 1, End: 4},
		{Text: "later", Start: 5, End: 7},
	}, p1.Texts)

	// converted graphs survive a trip through the manifest format
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))
	again, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, g.TransitionsFrom(1), again.TransitionsFrom(1))
	p1again, _ := again.Location(1)
	assert.Equal(t, p1.Texts, p1again.Texts)
}

func TestDecodeLegacy_DanglingNeighbor(t *testing.T) {
	doc := `{"Projectname":"x","StartPoint":1,"EndPoints":[],"points":[
		{"id":1,"Picture":"a","Neighbors":[{"PointID":4,"Azimut":0}],"OptionalText":[]}]}`
	_, err := DecodeLegacy(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrMalformedGraph)
}
