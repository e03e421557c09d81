package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/szaher/augur/internal/auth"
	"github.com/szaher/augur/internal/orchestrator"
	"github.com/szaher/augur/internal/telemetry"
)

const (
	// CorrelationHeader carries the caller's correlation ID, echoed back on
	// every response.
	CorrelationHeader = "X-Correlation-ID"

	maxBodyBytes = 1 << 20
)

// Invoker answers one turn. *orchestrator.Orchestrator satisfies it.
type Invoker interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// Server is the invocation HTTP server.
type Server struct {
	invoker     Invoker
	verifier    auth.Verifier
	limiter     *auth.RateLimiter
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	corsOrigins []string
	trustProxy  bool

	mu     sync.Mutex
	server *http.Server
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithVerifier enables bearer authentication. Without it every request is
// accepted.
func WithVerifier(v auth.Verifier) ServerOption {
	return func(s *Server) { s.verifier = v }
}

// WithRateLimiter limits request rate per client and blocks clients after
// repeated authentication failures.
func WithRateLimiter(rl *auth.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithMetrics counts authentication failures.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithCORSOrigins allows browser calls from the given origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithTrustedProxy takes the client address from X-Forwarded-For and
// X-Real-IP. Enable it only behind a proxy that overwrites those headers.
func WithTrustedProxy(trust bool) ServerOption {
	return func(s *Server) { s.trustProxy = trust }
}

// NewServer creates the HTTP server.
func NewServer(inv Invoker, opts ...ServerOption) *Server {
	s := &Server{
		invoker: inv,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.recoverer)
	r.Use(correlate)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", auth.HeaderName, CorrelationHeader},
			ExposedHeaders: []string{CorrelationHeader},
			MaxAge:         300,
		}))
	}
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(auth.ClientIPKeyFunc, "/ping"))
	}
	if s.verifier != nil {
		r.Use(auth.Middleware(s.verifier, auth.Options{
			SkipPaths: []string{"/ping"},
			Limiter:   s.limiter,
			OnFailure: s.authFailed,
			Logger:    s.logger,
		}))
	}

	r.Get("/ping", handlePing)
	r.Post("/invocations", s.handleInvocation)
	return r
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string, cfg ServerConfig) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	s.logger.Info("server starting", "addr", addr, "auth", s.verifier != nil)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "augur",
	})
}

func (s *Server) handleInvocation(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	resp, err := s.invoker.Handle(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	default:
		// The cause stays in the logs; callers only learn that the turn failed.
		s.logger.ErrorContext(r.Context(), "invocation failed",
			"correlation_id", telemetry.CorrelationID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process invocation")
		return
	}

	if resp.CardList == nil {
		resp.CardList = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authFailed(status int) {
	if s.metrics != nil {
		s.metrics.AuthFailures.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

// recoverer turns a handler panic into the generic 500 body.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "handler panic", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal_error", "failed to process invocation")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// correlate propagates the caller's correlation ID, minting one if absent.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.WithCorrelationID(r.Context(), r.Header.Get(CorrelationHeader))
		w.Header().Set(CorrelationHeader, telemetry.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
