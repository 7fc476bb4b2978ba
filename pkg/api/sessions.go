package api

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
	"github.com/ElishaAz/VR-Navigation/pkg/pkgstore"
	"github.com/ElishaAz/VR-Navigation/pkg/reports"
	"github.com/ElishaAz/VR-Navigation/pkg/resource"
	"github.com/ElishaAz/VR-Navigation/pkg/store"
	"github.com/ElishaAz/VR-Navigation/pkg/tour"
	"github.com/ElishaAz/VR-Navigation/pkg/triplog"
)

var errSessionNotFound = errors.New("api: session not found")

var sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "vrnav_sessions_active",
	Help: "Number of open tour sessions",
})

func init() {
	prometheus.MustRegister(sessionsActive)
}

// session is one viewer walking one map.
type session struct {
	id         string
	info       pkgstore.MapInfo
	createdAt  time.Time
	controller *tour.Controller
	recorder   *triplog.Recorder

	cancel context.CancelFunc
	done   chan struct{}
}

func (sess *session) tripID() string {
	if sess.recorder == nil {
		return ""
	}
	return string(sess.recorder.Trip().ID)
}

func (sess *session) response() (SessionResponse, error) {
	state, err := sess.controller.State()
	if err != nil {
		return SessionResponse{}, err
	}
	texts := sess.controller.ActiveTexts()
	if texts == nil {
		texts = []graph.TimedText{}
	}
	return SessionResponse{
		SessionID:   sess.id,
		TripID:      sess.tripID(),
		Map:         sess.info,
		CreatedAt:   sess.createdAt,
		State:       state,
		ActiveTexts: texts,
	}, nil
}

func (sess *session) close() {
	sess.cancel()
	<-sess.done
	sess.controller.Close()
}

// openSession opens a stored map and starts walking it from its start point.
func (s *Server) openSession(ctx context.Context, req CreateSessionRequest) (*session, error) {
	policy := s.cfg.Policy
	if req.Policy != "" {
		p, err := tour.ParsePolicy(req.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		policy = p
	}

	info := pkgstore.MapInfo{Name: req.Name, Version: req.Version}
	slot, g, err := s.cfg.Catalog.Open(info)
	if err != nil {
		return nil, err
	}

	c, err := tour.New(tour.Options{
		Policy:   policy,
		Throttle: s.throttle,
		Cache: resource.Options{
			Decoder:    s.cfg.Decoder,
			MaxDecodes: s.cfg.MaxDecodes,
		},
		Logger: s.logger,
	})
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sess := &session{
		id:         id,
		info:       info,
		createdAt:  time.Now().UTC(),
		controller: c,
		done:       make(chan struct{}),
	}

	if s.cfg.Trips != nil {
		rec, err := triplog.Start(ctx, s.cfg.Trips, store.Trip{
			ID:         store.TripID(id),
			Map:        info.Name,
			MapVersion: info.Version,
			Policy:     string(policy),
			StartedAt:  sess.createdAt,
		}, triplog.Options{Logger: s.logger})
		if err != nil {
			c.Close()
			return nil, err
		}
		rec.Attach(c)
		sess.recorder = rec
	}

	if err := c.Init(ctx, g, slot); err != nil {
		c.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	sess.cancel = cancel
	go func() {
		defer close(sess.done)
		if sess.recorder != nil {
			sess.recorder.Run(runCtx, s.cfg.SampleInterval, sess.recorder)
		}
	}()

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	sessionsActive.Inc()

	s.logger.Info("session_opened", "session_id", id, "map", info.Name, "version", info.Version, "policy", string(policy))
	return sess, nil
}

func (s *Server) session(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	return sess, nil
}

func (s *Server) closeSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errSessionNotFound, id)
	}

	sess.close()
	sessionsActive.Dec()
	s.logger.Info("session_closed", "session_id", id)

	if s.cfg.Exports != nil && sess.recorder != nil {
		if err := s.exportTrip(sess); err != nil {
			s.logger.Error("trip_export_failed", "session_id", id, "error", err)
		}
	}
	return nil
}

// exportKey is where a finished trip's CSV is stored.
func exportKey(sess *session) string {
	return path.Join("trips", sess.info.SlotName(), sess.tripID()+".csv")
}

func (s *Server) exportTrip(sess *session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	csv, err := reports.NewTripCSV(s.cfg.Trips).Generate(ctx, reports.ReportParams{TripID: store.TripID(sess.tripID())})
	if err != nil {
		return err
	}
	key := exportKey(sess)
	if err := s.cfg.Exports.Put(ctx, key, csv); err != nil {
		return err
	}
	s.logger.Info("trip_exported", "session_id", sess.id, "key", key)
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		_ = s.closeSession(id)
	}
}
