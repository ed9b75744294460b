package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/dispatcher"
	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
)

// Submitter queues work orders.
type Submitter interface {
	Submit(ctx context.Context, order crawler.WorkOrder) (crawler.WorkOrder, error)
}

// SourceReader loads stored data sources.
type SourceReader interface {
	Get(ctx context.Context, id int64) (crawler.DataSource, bool, error)
}

// ReadyFunc reports whether downstream dependencies answer.
type ReadyFunc func(ctx context.Context) error

// Config controls the HTTP surface.
type Config struct {
	// APIKey guards /v1 routes when non-empty.
	APIKey         string
	RequestTimeout time.Duration
	Ready          ReadyFunc
}

// Server wires HTTP handlers to the dispatcher and the data-source store.
type Server struct {
	router    chi.Router
	submitter Submitter
	sources   SourceReader
	ready     ReadyFunc
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. sources may be nil.
func NewServer(submitter Submitter, sources SourceReader, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		submitter: submitter,
		sources:   sources,
		ready:     cfg.Ready,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/work-orders", s.submitWorkOrder)
		r.Get("/data-sources/{id}", s.getDataSource)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitResponse struct {
	WorkOrderID string            `json:"work_order_id"`
	Type        crawler.OrderType `json:"type"`
	DataSource  int64             `json:"data_source_id"`
}

func (s *Server) submitWorkOrder(w http.ResponseWriter, r *http.Request) {
	var order crawler.WorkOrder
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	queued, err := s.submitter.Submit(r.Context(), order)
	switch {
	case errors.Is(err, dispatcher.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
		return
	case err != nil:
		s.logger.Error("submit work order failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "work order queue unavailable")
		return
	}
	s.logger.Info("work order queued",
		zap.String("work_order_id", queued.ID),
		zap.String("type", string(queued.Type)),
		zap.Int64("data_source_id", queued.Source.ID),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{
		WorkOrderID: queued.ID,
		Type:        queued.Type,
		DataSource:  queued.Source.ID,
	})
}

func (s *Server) getDataSource(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeError(w, http.StatusNotImplemented, "data source lookup is not configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid data source id")
		return
	}
	ds, ok, err := s.sources.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("load data source failed", zap.Int64("data_source_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load data source")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "data source not found")
		return
	}
	writeJSON(w, http.StatusOK, ds)
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
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
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
