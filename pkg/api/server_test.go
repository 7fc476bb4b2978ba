package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElishaAz/VR-Navigation/pkg/blob"
	"github.com/ElishaAz/VR-Navigation/pkg/graph"
	"github.com/ElishaAz/VR-Navigation/pkg/pkgstore"
	"github.com/ElishaAz/VR-Navigation/pkg/reports"
	"github.com/ElishaAz/VR-Navigation/pkg/store"
	"github.com/ElishaAz/VR-Navigation/pkg/tour"
)

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	catalog *pkgstore.Store
}

func newTestEnv(t *testing.T, withTrips bool) *testEnv {
	t.Helper()
	base := t.TempDir()
	catalog := pkgstore.NewStore(pkgstore.Config{
		Root:    filepath.Join(base, "maps"),
		Scratch: filepath.Join(base, "tmp"),
	})

	cfg := Config{
		Catalog:          catalog,
		Policy:           tour.NoCache,
		ActionsPerSecond: 100,
	}
	if withTrips {
		st, err := store.NewStore(filepath.Join(base, "trips.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		cfg.Trips = st
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &testEnv{srv: srv, http: ts, catalog: catalog}
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// packageBytes builds a zip package of a three-node line map:
// 0 -> 1 -> 2, with 2 terminal and 2's image missing when broken is set.
func packageBytes(t *testing.T, name string, version float64, broken bool) []byte {
	t.Helper()
	dir := t.TempDir()
	g, err := graph.New(name,
		[]graph.Location{
			{ID: 0, Path: "img/0.png", Texts: []graph.TimedText{{Text: "welcome", Start: 0, End: 3600}}},
			{ID: 1, Path: "img/1.png"},
			{ID: 2, Path: "img/2.png"},
		},
		[]graph.Transition{
			{From: 0, To: 1, Azimuth: 90},
			{From: 1, To: 0, Azimuth: 270},
			{From: 1, To: 2, Azimuth: 0},
		},
		0, []graph.LocationID{2})
	require.NoError(t, err)
	require.NoError(t, pkgstore.WriteMap(dir, pkgstore.MapInfo{Name: name, Version: version}, g))
	writePNG(t, filepath.Join(dir, "img", "0.png"), color.White)
	writePNG(t, filepath.Join(dir, "img", "1.png"), color.Black)
	if !broken {
		writePNG(t, filepath.Join(dir, "img", "2.png"), color.White)
	}

	var buf bytes.Buffer
	require.NoError(t, pkgstore.Pack(dir, &buf, pkgstore.FormatZip))
	return buf.Bytes()
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) importMap(t *testing.T, name string, broken bool) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/maps", packageBytes(t, name, 1, broken))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (e *testEnv) openSession(t *testing.T, name string) SessionResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Name: name, Version: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[SessionResponse](t, resp)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "vrnav_sessions_active")
}

func TestTraceIDPropagation(t *testing.T) {
	env := newTestEnv(t, false)
	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/v1/health", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-123", resp.Header.Get("X-Trace-ID"))
}

func TestMaps_ImportListInspectRemove(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodPost, "/v1/maps", packageBytes(t, "campus", 1.5, false))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	imported := decode[ImportResponse](t, resp)
	assert.Equal(t, pkgstore.MapInfo{Name: "campus", Version: 1.5}, imported.Map)

	resp = env.do(t, http.MethodPost, "/v1/maps", packageBytes(t, "campus", 1.5, false))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_exists", decode[ErrorResponse](t, resp).Error)

	resp = env.do(t, http.MethodPost, "/v1/maps", []byte("not an archive"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/maps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	maps := decode[[]pkgstore.Entry](t, resp)
	require.Len(t, maps, 1)
	assert.Equal(t, "campus", maps[0].Name)

	resp = env.do(t, http.MethodGet, "/v1/maps/campus/1.5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[map[string]any](t, resp)
	assert.Len(t, detail["locations"], 3)

	resp = env.do(t, http.MethodDelete, "/v1/maps/campus/1.5", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/v1/maps/campus/1.5", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessions_Walk(t *testing.T) {
	env := newTestEnv(t, true)
	env.importMap(t, "line", false)

	sess := env.openSession(t, "line")
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, sess.SessionID, sess.TripID)
	assert.Equal(t, graph.LocationID(0), sess.State.Current.ID)
	assert.Equal(t, tour.NoCache, sess.State.Policy)
	require.Len(t, sess.ActiveTexts, 1)
	assert.Equal(t, "welcome", sess.ActiveTexts[0].Text)
	require.Len(t, sess.State.Transitions, 1)
	assert.Equal(t, graph.LocationID(1), sess.State.Transitions[0].To)

	resp := env.do(t, http.MethodGet, "/v1/sessions/"+sess.SessionID+"/image", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	_, err := png.Decode(resp.Body)
	assert.NoError(t, err)

	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/orientation", OrientationRequest{Degrees: 270})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/goto", LocationRequest{LocationID: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decode[SessionResponse](t, resp)
	assert.Equal(t, graph.LocationID(1), moved.State.Current.ID)
	assert.Empty(t, moved.ActiveTexts)

	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/goto", LocationRequest{LocationID: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[SessionResponse](t, resp).State.Terminal)

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sess.SessionID+"/trip.csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(records), 4)
	assert.Equal(t, reports.TripHeader, records[0])

	var nodes []string
	for _, rec := range records[1:] {
		if rec[3] == "true" {
			nodes = append(nodes, rec[1])
		}
	}
	assert.Equal(t, []string{"0", "1", "2"}, nodes)

	resp = env.do(t, http.MethodGet, "/v1/reports?type=trips", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), sess.SessionID)

	resp = env.do(t, http.MethodDelete, "/v1/sessions/"+sess.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sess.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessions_ExportOnClose(t *testing.T) {
	env := newTestEnv(t, true)
	exports := blob.NewLocalBlobStore(t.TempDir())
	env.srv.cfg.Exports = exports
	env.importMap(t, "line", false)

	sess := env.openSession(t, "line")
	resp := env.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/goto", LocationRequest{LocationID: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/v1/sessions/"+sess.SessionID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	ctx := context.Background()
	keys, err := exports.List(ctx, "trips/linev1")
	require.NoError(t, err)
	require.Equal(t, []string{"trips/linev1/" + sess.TripID + ".csv"}, keys)

	rc, err := exports.Get(ctx, keys[0])
	require.NoError(t, err)
	defer rc.Close()
	rows, err := csv.NewReader(rc).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, reports.TripHeader, rows[0])

	var visited []string
	for _, row := range rows[1:] {
		if row[3] == "true" {
			visited = append(visited, row[1])
		}
	}
	assert.Equal(t, []string{"0", "1"}, visited)
}

func TestSessions_Hover(t *testing.T) {
	env := newTestEnv(t, false)
	env.importMap(t, "line", false)

	resp := env.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Name: "line", Version: 1, Policy: "load-on-hover"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[SessionResponse](t, resp)
	assert.Equal(t, tour.LoadOnHover, sess.State.Policy)

	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/hover", LocationRequest{LocationID: 1})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/unhover", LocationRequest{LocationID: 1})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/hover", LocationRequest{LocationID: 2})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_hotspot", decode[ErrorResponse](t, resp).Error)
}

func TestSessions_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	env.importMap(t, "broken", true)

	resp := env.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Name: "ghost", Version: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "map_not_found", decode[ErrorResponse](t, resp).Error)

	resp = env.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Name: "broken", Version: 1, Policy: "sometimes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/sessions", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	sess := env.openSession(t, "broken")
	id := sess.SessionID

	resp = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/goto", LocationRequest{LocationID: 9})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_location", decode[ErrorResponse](t, resp).Error)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/sessions/"+id+"/goto", LocationRequest{LocationID: 1}).StatusCode)

	// 2's image is missing from the package
	resp = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/goto", LocationRequest{LocationID: 2})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, graph.LocationID(1), decode[SessionResponse](t, resp).State.Current.ID, "a failed move leaves the session in place")

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+id+"/trip.csv", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/v1/sessions/"+id+"/goto", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+id+"/nothing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSecureHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	withSecureHeaders(handler).ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecovery(t *testing.T) {
	srv := &Server{logger: discardLogger()}
	handler := srv.withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "internal_server_error"))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{pkgstore.ErrMalformedPackage, http.StatusUnprocessableEntity},
		{graph.ErrMalformedGraph, http.StatusUnprocessableEntity},
		{pkgstore.ErrAlreadyExists, http.StatusConflict},
		{pkgstore.ErrNotFound, http.StatusNotFound},
		{store.ErrTripNotFound, http.StatusNotFound},
		{tour.ErrUnknownHotspot, http.StatusNotFound},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
	}
}
