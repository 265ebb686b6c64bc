// Package server exposes the answer pipeline over HTTP and optionally
// re-ingests the corpus when the document directory changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sevigo/policyrag/ingestion"
	"github.com/sevigo/policyrag/schema"
)

const (
	defaultRequestTimeout = 2 * time.Minute
	shutdownTimeout       = 10 * time.Second
	maxRequestBytes       = 1 << 20
)

// Answerer is the conversational answer pipeline.
type Answerer interface {
	Call(ctx context.Context, question string) (string, error)
	Reset()
}

// Ingester reloads the corpus.
type Ingester interface {
	Run(ctx context.Context) (ingestion.Result, error)
}

type readiness interface {
	Ready() bool
}

type AnswerRequest struct {
	Question string `json:"question"`
}

type AnswerResponse struct {
	Answer string `json:"answer"`
}

type IngestResponse struct {
	Documents  int   `json:"documents"`
	Chunks     int   `json:"chunks"`
	Embedded   int   `json:"embedded"`
	DurationMs int64 `json:"duration_ms"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves a single conversation. Answers are serialized so turns are
// recorded in request order.
type Server struct {
	answerer       Answerer
	ingester       Ingester
	ready          readiness
	requestTimeout time.Duration
	logger         *slog.Logger

	answerMu sync.Mutex
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReadiness reports r.Ready() from the health endpoint.
func WithReadiness(r readiness) Option {
	return func(s *Server) {
		s.ready = r
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// New returns a server. A nil ingester disables POST /v1/ingest.
func New(answerer Answerer, ingester Ingester, opts ...Option) (*Server, error) {
	if answerer == nil {
		return nil, fmt.Errorf("%w: server needs an answer pipeline", schema.ErrConfig)
	}
	s := &Server{
		answerer:       answerer,
		ingester:       ingester,
		requestTimeout: defaultRequestTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http_server")
	return s, nil
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/answer", s.handleAnswer)
		r.Delete("/conversation", s.handleReset)
		r.Post("/ingest", s.handleIngest)
	})

	return otelhttp.NewHandler(r, "policybot")
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "Server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.InfoContext(ctx, "Shutting down server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := true
	if s.ready != nil {
		ready = s.ready.Ready()
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Ready: ready})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	s.answerMu.Lock()
	answer, err := s.answerer.Call(ctx, question)
	s.answerMu.Unlock()

	if err != nil && ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Answer abandoned", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, AnswerResponse{Answer: answer})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.answerMu.Lock()
	s.answerer.Reset()
	s.answerMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "ingestion is not available"})
		return
	}

	result, err := s.ingester.Run(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Ingestion failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ingestion failed"})
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{
		Documents:  result.Documents,
		Chunks:     result.Chunks,
		Embedded:   result.Embedded,
		DurationMs: result.Duration.Milliseconds(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
