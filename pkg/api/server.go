package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ElishaAz/VR-Navigation/pkg/blob"
	"github.com/ElishaAz/VR-Navigation/pkg/graph"
	"github.com/ElishaAz/VR-Navigation/pkg/pkgstore"
	"github.com/ElishaAz/VR-Navigation/pkg/reports"
	"github.com/ElishaAz/VR-Navigation/pkg/resource"
	"github.com/ElishaAz/VR-Navigation/pkg/store"
	"github.com/ElishaAz/VR-Navigation/pkg/throttle"
	"github.com/ElishaAz/VR-Navigation/pkg/tour"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// DefaultMaxUploadBytes caps the size of an imported package.
const DefaultMaxUploadBytes = 1 << 30

var errBadRequest = errors.New("api: bad request")

// Interfaces for dependencies to enable mocking

type Catalog interface {
	Import(ctx context.Context, archive []byte) (pkgstore.MapInfo, string, error)
	List() ([]pkgstore.Entry, error)
	Open(info pkgstore.MapInfo) (string, *graph.Graph, error)
	Remove(info pkgstore.MapInfo) error
}

// Config wires the server to its dependencies.
type Config struct {
	Addr    string
	Catalog Catalog

	// Trips receives the trip log of every session. Nil disables trip logging.
	Trips store.EntryStore

	// Exports receives the CSV of every trip when its session ends. Nil
	// keeps trips in the log only.
	Exports blob.BlobStore

	Policy           tour.Policy
	ActionsPerSecond float64
	MaxDecodes       int64
	Decoder          resource.Decoder
	SampleInterval   time.Duration
	MaxUploadBytes   int64

	Logger *slog.Logger
}

// Server encapsulates the HTTP API server
type Server struct {
	cfg      Config
	server   *http.Server
	logger   *slog.Logger
	throttle *throttle.Throttle

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewServer creates a new API server instance. Its action throttle starts
// immediately and is shared by every session.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("api: catalog is required")
	}
	if cfg.Policy == "" {
		cfg.Policy = tour.PreloadCurrent
	}
	if _, err := tour.ParsePolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if cfg.ActionsPerSecond <= 0 {
		cfg.ActionsPerSecond = tour.DefaultActionsPerSecond
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	// Use default port if addr is empty
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8095"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "api"),
		throttle: throttle.New(cfg.ActionsPerSecond, cfg.Logger),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
	go s.throttle.Run(ctx)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/maps", s.handleMaps)
	mux.HandleFunc("/v1/maps/", s.handleMap)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/", s.handleSession)
	mux.HandleFunc("/v1/reports", s.handleReports)

	// Middleware: Logging, Panic Recovery, Security Headers
	return s.withLogging(s.withRecovery(withSecureHeaders(mux)))
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	s.logger.Info("server_starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server, then closes every session.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server_stopping")
	err := s.server.Shutdown(ctx)
	s.closeAll()
	s.cancel()
	return err
}

// Close releases sessions and background work without touching the
// listener. Used when the handler is mounted elsewhere.
func (s *Server) Close() {
	s.closeAll()
	s.cancel()
}

// handleMaps lists stored maps (GET) or imports a package (POST).
func (s *Server) handleMaps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		maps, err := s.cfg.Catalog.List()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, maps)

	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeJSON(w, r, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "package_too_large"})
				return
			}
			s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_body"})
			return
		}
		if len(body) == 0 {
			s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "empty_body"})
			return
		}

		info, path, err := s.cfg.Catalog.Import(r.Context(), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.Info("map_imported", "trace_id", getTraceID(r.Context()), "map", info.Name, "version", info.Version)
		s.writeJSON(w, r, http.StatusCreated, ImportResponse{Map: info, Path: path})

	default:
		s.methodNotAllowed(w, r)
	}
}

// handleMap serves /v1/maps/{name}/{version}.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/maps/"))
	if len(parts) != 2 {
		s.writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}
	version, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_version"})
		return
	}
	info := pkgstore.MapInfo{Name: parts[0], Version: version}

	switch r.Method {
	case http.MethodGet:
		slot, g, err := s.cfg.Catalog.Open(info)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, map[string]any{
			"map":       info,
			"path":      slot,
			"locations": g.AllLocations(),
			"start":     g.Start().ID,
			"terminals": g.Terminals(),
		})

	case http.MethodDelete:
		if err := s.cfg.Catalog.Remove(info); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.methodNotAllowed(w, r)
	}
}

// handleSessions opens a tour session.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.mu.RLock()
		out := make([]SessionResponse, 0, len(s.sessions))
		for _, sess := range s.sessions {
			if resp, err := sess.response(); err == nil {
				out = append(out, resp)
			}
		}
		s.mu.RUnlock()
		s.writeJSON(w, r, http.StatusOK, out)
		return
	}
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_json_body"})
		return
	}
	if req.Name == "" {
		s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "missing_required_fields"})
		return
	}

	sess, err := s.openSession(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := sess.response()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, resp)
}

// handleSession dispatches /v1/sessions/{id}[/action].
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"))
	if len(parts) == 0 || len(parts) > 2 {
		s.writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			sess, err := s.session(id)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			resp, err := sess.response()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			s.writeJSON(w, r, http.StatusOK, resp)
		case http.MethodDelete:
			if err := s.closeSession(id); err != nil {
				s.writeError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			s.methodNotAllowed(w, r)
		}
		return
	}

	sess, err := s.session(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch action := parts[1]; action {
	case "goto", "hover", "unhover":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r)
			return
		}
		var req LocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_json_body"})
			return
		}
		s.handleMove(w, r, sess, action, req.LocationID)

	case "orientation":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r)
			return
		}
		var req OrientationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_json_body"})
			return
		}
		if sess.recorder != nil {
			sess.recorder.SetOrientation(req.Degrees)
		}
		w.WriteHeader(http.StatusNoContent)

	case "image":
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, r)
			return
		}
		s.handleImage(w, r, sess)

	case "trip.csv":
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w, r)
			return
		}
		if sess.recorder == nil {
			s.writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "trip_log_disabled"})
			return
		}
		s.writeReport(w, r, reports.ReportTypeTrip, reports.ReportParams{TripID: sess.recorder.Trip().ID})

	default:
		s.writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "not_found"})
	}
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, sess *session, action string, id graph.LocationID) {
	var err error
	status := http.StatusOK
	switch action {
	case "goto":
		err = sess.controller.GoTo(r.Context(), id)
	case "hover":
		// loads triggered by a hover complete in the background
		err = sess.controller.Hover(id)
		status = http.StatusAccepted
	case "unhover":
		err = sess.controller.Unhover(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := sess.response()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, status, resp)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, sess *session) {
	payload, err := sess.controller.CurrentImage()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if payload == nil || len(payload.Data) == 0 {
		s.writeError(w, r, resource.ErrResourceUnavailable)
		return
	}

	contentType := "application/octet-stream"
	if payload.Format != "" {
		contentType = "image/" + payload.Format
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, bytes.NewReader(payload.Data)); err != nil {
		s.logger.Error("failed_to_stream_image", "trace_id", getTraceID(r.Context()), "error", err)
	}
}

// handleReports renders a report from the trip log.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Trips == nil {
		s.writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "trip_log_disabled"})
		return
	}

	// Parse parameters
	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "missing_type"})
		return
	}
	s.writeReport(w, r, reportType, reports.ReportParams{TripID: store.TripID(q.Get("trip_id"))})
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, reportType reports.ReportType, params reports.ReportParams) {
	gen, err := reports.NewReportGenerator(reportType, s.cfg.Trips)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_report_type", Details: err.Error()})
		return
	}

	reader, err := gen.Generate(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Set headers
	w.Header().Set("Content-Type", "text/csv")
	filename := fmt.Sprintf("report_%s_%d.csv", reportType, time.Now().Unix())
	if params.TripID != "" {
		filename = fmt.Sprintf("trip_%s.csv", params.TripID)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	// Stream response
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("failed_to_stream_report", "trace_id", getTraceID(r.Context()), "error", err)
	}
}

// handleHealth returns simple status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, pkgstore.ErrMalformedPackage):
		return http.StatusUnprocessableEntity, "malformed_package"
	case errors.Is(err, graph.ErrMalformedGraph):
		return http.StatusUnprocessableEntity, "malformed_graph"
	case errors.Is(err, pkgstore.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, pkgstore.ErrNotFound):
		return http.StatusNotFound, "map_not_found"
	case errors.Is(err, errSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, graph.ErrUnknownLocation):
		return http.StatusNotFound, "unknown_location"
	case errors.Is(err, tour.ErrUnknownHotspot):
		return http.StatusNotFound, "unknown_hotspot"
	case errors.Is(err, store.ErrTripNotFound):
		return http.StatusNotFound, "trip_not_found"
	case errors.Is(err, resource.ErrResourceUnavailable):
		return http.StatusServiceUnavailable, "resource_unavailable"
	case errors.Is(err, tour.ErrNotInitialized), errors.Is(err, resource.ErrClosed):
		return http.StatusConflict, "session_closed"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", "trace_id", getTraceID(r.Context()), "path", r.URL.Path, "error", err)
		s.writeJSON(w, r, status, ErrorResponse{Error: code})
		return
	}
	s.writeJSON(w, r, status, ErrorResponse{Error: code, Details: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed_to_encode_response", "trace_id", getTraceID(r.Context()), "error", err)
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed"})
}

func splitPath(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Middleware: Panic Recovery
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic_recovered", "error", fmt.Sprint(err), "path", r.URL.Path)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 1. Extract or Generate Trace ID
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		// 2. Inject into Context
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		// Wrap writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		// 3. Set response header
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		s.logger.Info("http_request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:;")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
