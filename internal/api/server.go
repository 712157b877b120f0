package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/metrics"
	"github.com/JakeFAU/pnrr-announcements/internal/progress/sinks"
	"github.com/JakeFAU/pnrr-announcements/internal/service"
	"github.com/JakeFAU/pnrr-announcements/internal/store"
)

// AnnouncementService is the subset of service.Service used by the handlers.
type AnnouncementService interface {
	GetAll(ctx context.Context) ([]announcement.Announcement, error)
	GetByID(ctx context.Context, id int64) (announcement.Announcement, bool, error)
	GetBySchool(ctx context.Context, schoolID string) ([]announcement.Announcement, error)
	GetLastUpdated(ctx context.Context) (*time.Time, error)
	Sources() []announcement.Source
	TriggerFetch(ctx context.Context) (service.FetchResult, error)
	GetFetchProgress() sinks.Snapshot
	GetLastFetchStats(ctx context.Context) (service.FetchStats, bool, error)
	Subscribe(ctx context.Context, email string, schoolIDs []string) (announcement.Subscriber, error)
	Unsubscribe(ctx context.Context, email string) (bool, error)
}

// Options configures a Server.
type Options struct {
	// AuthEnabled guards POST /api/fetch with APIKey.
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// Ready reports downstream readiness; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the announcement service.
type Server struct {
	router chi.Router
	svc    AnnouncementService
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil,
// in which case the run history routes answer 503.
func NewServer(svc AnnouncementService, runs store.RunRepository, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{svc: svc, opts: opts, logger: logger}
	runHandler := NewRunHandler(runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// A run can outlast the request timeout.
	r.Group(func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/api/fetch", s.triggerFetch)
	})

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))

		r.Get("/unsubscribe", s.unsubscribePage)
		r.Route("/api", func(r chi.Router) {
			r.Get("/announcements", s.listAnnouncements)
			r.Get("/announcements/{id}", s.getAnnouncement)
			r.Get("/sources", s.listSources)

			r.Get("/fetch/status", s.fetchStatus)
			r.Get("/fetch/stats", s.fetchStats)

			r.Post("/subscribe", s.subscribe)
			r.Post("/unsubscribe", s.unsubscribe)

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", runHandler.ListRuns)
				r.Get("/{run_id}", runHandler.GetRun)
				r.Get("/{run_id}/sources", runHandler.ListRunSources)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server. Requests are traced
// with the global OpenTelemetry provider.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "pnrr.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if expected == "" || key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
