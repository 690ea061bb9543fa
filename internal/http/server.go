// Package http serves the conversation API.
package http

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"aiquery/internal/log"
	"aiquery/internal/metrics"
	"aiquery/internal/middleware/ratelimit"
	"aiquery/internal/middleware/security"
	"aiquery/internal/middleware/trace"
	"aiquery/internal/services"
)

// maxBodyBytes bounds a conversation request, transactions included.
const maxBodyBytes = 10 << 20

// Conversations answers conversation requests.
type Conversations interface {
	Converse(ctx context.Context, body io.Reader) (*services.Reply, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server settings.
type Config struct {
	Addr               string
	RequestTimeout     time.Duration
	RateLimitPerMinute int
}

// Server is the HTTP front of the service.
type Server struct {
	http.Server
	conversations Conversations
	ready         Pinger
	limiter       *ratelimit.Limiter
	logger        *log.Logger
	metrics       *metrics.Metrics
	shutdownOnce  sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// ready and m may be nil.
func NewServer(cfg Config, conversations Conversations, ready Pinger, logger *log.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		conversations: conversations,
		ready:         ready,
		limiter:       ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		logger:        logger.WithComponent(log.ComponentHTTP),
		metrics:       m,
	}

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(cfg Config) http.Handler {
	detector := security.NewDetector()
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(detector.ExtractClientIP, s.logger, s.metrics)

	r := chi.NewRouter()
	r.Use(tracer.Middleware)
	r.Use(headers.Middleware)
	r.Use(detector.Middleware(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, detector.ExtractClientIP(r))
			writeDetail(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		}))
		if cfg.RequestTimeout > 0 {
			r.Use(timeout(cfg.RequestTimeout))
		}
		r.Post("/conversation", s.handleConversation)
	})

	return r
}

// timeout bounds the request context. Handlers observe cancellation through it.
func timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Shutdown gracefully shuts down the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
