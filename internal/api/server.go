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
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	"github.com/JakeFAU/channel-transcript-crawler/internal/metrics"
	"github.com/JakeFAU/channel-transcript-crawler/internal/shutdown"
)

// PhaseReporter is implemented by shutdown.Coordinator.
type PhaseReporter interface {
	Phase() shutdown.Phase
}

// CurrentJob is implemented by crawlstate.Cell.
type CurrentJob interface {
	Snapshot() (crawler.VideoTask, bool)
}

// Summarizer is implemented by crawl.Loop.
type Summarizer interface {
	Summary() crawler.Summary
}

// State is the /v1/state payload.
type State struct {
	Phase      string                  `json:"phase"`
	VideoID    string                  `json:"video_id"`
	Channel    string                  `json:"channel"`
	RunID      string                  `json:"run_id,omitempty"`
	Discovered int                     `json:"discovered"`
	Processed  int                     `json:"processed"`
	Outcomes   map[crawler.Outcome]int `json:"outcomes,omitempty"`
}

// Server serves read-only crawl status.
type Server struct {
	router  chi.Router
	phase   PhaseReporter
	current CurrentJob
	summary Summarizer
	channel string
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. summary may be
// nil.
func NewServer(channel string, phase PhaseReporter, current CurrentJob, summary Summarizer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		phase:   phase,
		current: current,
		summary: summary,
		channel: channel,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(10 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", s.metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.state)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	st := State{Phase: shutdown.Running.String(), Channel: s.channel}
	if s.phase != nil {
		st.Phase = s.phase.Phase().String()
	}
	if s.current != nil {
		if task, ok := s.current.Snapshot(); ok {
			st.VideoID = task.VideoID
			st.Channel = task.ChannelHandle
		}
	}
	if s.summary != nil {
		sum := s.summary.Summary()
		st.RunID = sum.RunID
		st.Discovered = sum.Discovered
		st.Processed = sum.Processed
		st.Outcomes = sum.Outcomes
	}
	writeJSON(w, http.StatusOK, st)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
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
