package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/beststories/go-beststories/apierror"
	"github.com/beststories/go-beststories/model"
	"github.com/beststories/go-beststories/scache"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("server")

const (
	healthPath    = "/health"
	snapshotsPath = "/snapshots"
	metricsPath   = "/metrics"
)

// Reader is the part of the story cache that the server reads from.
type Reader interface {
	TopItems(context.Context) ([]model.Item, error)
	Snapshots() []model.Snapshot
	Stats() scache.Stats
	IsValid(model.Snapshot) bool
}

// SnapshotSummary describes one retained snapshot.
type SnapshotSummary struct {
	Created time.Time `json:"created"`
	Items   int       `json:"items"`
	Valid   bool      `json:"valid"`
}

type server struct {
	cache Reader
}

// New creates an http.Handler that serves top stories from cache.
func New(cache Reader, options ...Option) (http.Handler, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	s := &server{
		cache: cache,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if opts.logRequests {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	r.Get(opts.route, s.handleTopItems)
	r.Get(healthPath, handleHealth)
	r.Get(snapshotsPath, s.handleSnapshots)
	r.Get(metricsPath, s.handleMetrics)

	log.Debugw("Story routes configured", "route", opts.route)
	return r, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleTopItems(w http.ResponseWriter, r *http.Request) {
	rw := newStoryResponseWriter(w)
	if err := rw.Accept(r); err != nil {
		writeError(w, r, err)
		return
	}

	items, err := s.cache.TopItems(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err = rw.WriteItems(items); err != nil {
		log.Debugw("Cannot write stories", "err", err, "request", middleware.GetReqID(r.Context()))
	}
}

func (s *server) handleSnapshots(w http.ResponseWriter, _ *http.Request) {
	snaps := s.cache.Snapshots()

	out := make([]SnapshotSummary, len(snaps))
	for i, snap := range snaps {
		out[i] = SnapshotSummary{
			Created: snap.Created,
			Items:   len(snap.Items),
			Valid:   s.cache.IsValid(snap),
		}
	}

	w.Header().Set("Content-Type", mediaTypeJson)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Debugw("Cannot write snapshots", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierror.StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorw("Cannot serve stories", "err", err, "request", middleware.GetReqID(r.Context()))
	} else {
		log.Debugw("Story request failed", "err", err, "status", status)
	}

	w.Header().Set("Content-Type", mediaTypeJson)
	w.WriteHeader(status)
	_, _ = w.Write(apierror.EncodeError(err))
}
