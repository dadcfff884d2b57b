// Package webapi serves the batch editor over HTTP.
package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"image-magic/internal/export"
	"image-magic/internal/session"
)

type Options struct {
	Sessions *session.Store
	Logger   zerolog.Logger
	// RunTimeout bounds a detached run or retry.
	RunTimeout     time.Duration
	MaxUploadBytes int64
	ArchiveMethod  export.Method
	// BaseContext parents detached runs; cancelling it aborts them.
	BaseContext context.Context
}

type Server struct {
	sessions       *session.Store
	logger         zerolog.Logger
	runTimeout     time.Duration
	maxUploadBytes int64
	archiveMethod  export.Method
	baseCtx        context.Context
	now            func() time.Time

	inflight sync.WaitGroup
}

func New(opts Options) *Server {
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 180 * time.Second
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{})
	}

	return &Server{
		sessions:       sessions,
		logger:         opts.Logger,
		runTimeout:     runTimeout,
		maxUploadBytes: maxUpload,
		archiveMethod:  opts.ArchiveMethod,
		baseCtx:        baseCtx,
		now:            time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(s.logger),
		middleware.Recoverer,
	)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/options", s.handleOptions)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sid}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleResetSession)
			r.Put("/settings", s.handleConfigure)
			r.Post("/items", s.handleUpload)
			r.Post("/run", s.handleRun)
			r.Get("/archive", s.handleArchive)
			r.Route("/items/{iid}", func(r chi.Router) {
				r.Delete("/", s.handleRemove)
				r.Post("/duplicate", s.handleDuplicate)
				r.Post("/retry", s.handleRetry)
				r.Get("/preview", s.handlePreview)
				r.Get("/results/{n}", s.handleResult)
			})
		})
	})

	return r
}

// Wait blocks until every detached run has finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// detach runs fn outside the request with its own deadline.
func (s *Server) detach(name, sid string, fn func(ctx context.Context) error) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.runTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn().Err(err).Str("session", sid).Msg(name + " failed")
		}
	}()
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}
