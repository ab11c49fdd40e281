// Package api is the Control API (spec.md §4.9/§6): a loopback-only,
// token-authenticated HTTP surface over the Engine and Store, plus a
// Server-Sent Events stream and a supplemental WebSocket stream fed by the
// Progress Bus.
//
// Grounded in tinoosan-torrus's internal/router + api/v1 (gorilla/mux
// routing, the rwLogger-wrapped logging middleware, the handler/context-key
// shape) and internal/auth.Middleware for the bearer-token check. The
// streaming endpoints and Prometheus /metrics are supplemental additions
// the teacher didn't need since torrus delegates to aria2's own RPC/event
// model.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/z-dmr/zdmr/internal/model"
	"github.com/z-dmr/zdmr/internal/progress"
)

// Engine is the subset of *engine.Engine the API drives.
type Engine interface {
	Add(urls []string, destDir, batchID, forcedProxyURL string) ([]string, error)
	Pause(id string) error
	Resume(id string) error
	Retry(id string) error
	Delete(id string) error
	AddHostToProxyAndRetry(id, proxyURL string) error
	PauseAll() (int, error)
	ResumeAll() (int, error)
}

// Store is the subset of *store.Store the API reads/writes directly for
// the UI-shell-surface endpoints (spec.md §6).
type Store interface {
	ListDownloads() ([]*model.Download, error)
	GetDownload(id string) (*model.Download, error)
	ListRules() ([]*model.Rule, error)
	UpsertRule(r *model.Rule) (int64, error)
	DeleteRule(id int64) error
	GetSettings() (*model.Settings, error)
	SetSettings(s *model.Settings) error
	ClearCompleted() (int64, error)
	InsertBatch(b *model.Batch) error
	GetBatch(id string) (*model.Batch, error)
}

// Server is the loopback HTTP listener.
type Server struct {
	engine Engine
	store  Store
	bus    *progress.Bus
	log    zerolog.Logger
	srv    *http.Server
}

func New(engine Engine, st Store, bus *progress.Bus, tokenFn func() string, log zerolog.Logger) *Server {
	s := &Server{engine: engine, store: st, bus: bus, log: log}
	r := mux.NewRouter()
	r.Use(s.logMiddleware)

	authed := r.NewRoute().Subrouter()
	authed.Use(authMiddleware(tokenFn))

	authed.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	authed.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	authed.HandleFunc("/downloads", s.handleListDownloads).Methods(http.MethodGet)
	authed.HandleFunc("/downloads", s.handleCreateDownloads).Methods(http.MethodPost)
	authed.HandleFunc("/downloads/{id}", s.handleGetDownload).Methods(http.MethodGet)
	authed.HandleFunc("/downloads/{id}", s.handleDeleteDownload).Methods(http.MethodDelete)
	authed.HandleFunc("/downloads/{id}/pause", s.handlePause).Methods(http.MethodPost)
	authed.HandleFunc("/downloads/{id}/resume", s.handleResume).Methods(http.MethodPost)
	authed.HandleFunc("/downloads/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	authed.HandleFunc("/downloads/{id}/add-proxy-retry", s.handleAddProxyRetry).Methods(http.MethodPost)
	authed.HandleFunc("/downloads/clear-completed", s.handleClearCompleted).Methods(http.MethodPost)
	authed.HandleFunc("/downloads/pause-all", s.handlePauseAll).Methods(http.MethodPost)
	authed.HandleFunc("/downloads/resume-all", s.handleResumeAll).Methods(http.MethodPost)

	authed.HandleFunc("/batches", s.handleCreateBatch).Methods(http.MethodPost)

	authed.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	authed.HandleFunc("/rules", s.handleUpsertRule).Methods(http.MethodPost)
	authed.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)

	authed.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	authed.HandleFunc("/settings", s.handleSetSettings).Methods(http.MethodPost)

	authed.HandleFunc("/events", s.handleEventsSSE).Methods(http.MethodGet)
	authed.HandleFunc("/events/ws", s.handleEventsWS).Methods(http.MethodGet)

	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve binds to 127.0.0.1:port and blocks until ctx is cancelled, per
// spec.md §4.9's loopback-only requirement.
func (s *Server) Serve(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()
	err = s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type loggingWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(lw, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
