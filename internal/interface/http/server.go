// Package http exposes the progression engine as a JSON API under /v1, plus
// liveness and readiness probes.
package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jornada-hub/jornada/internal/application/command"
	"github.com/jornada-hub/jornada/internal/application/query"
	"github.com/jornada-hub/jornada/internal/interface/http/handlers"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the context of every API request.
	RequestTimeout time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of request bodies.
	MaxBodyBytes int64

	// EnableCORS - enable CORS headers.
	EnableCORS bool

	// AllowedOrigins - allowed origins for CORS.
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// RateLimitClients bounds the number of client buckets tracked at once.
	RateLimitClients int

	// CatalogMaxAge is the Cache-Control max-age of /v1/phases and /v1/badges.
	CatalogMaxAge time.Duration

	// AllowForce decides whether a member's completions may bypass the
	// cool-down with force=true. Nil allows everyone.
	AllowForce func(userID string) bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		RequestTimeout:     10 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 300,
		RateLimitClients:   10000,
		CatalogMaxAge:      5 * time.Minute,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (CQRS Write Side)
	RegisterMember   *command.RegisterMemberHandler
	RecordCompletion *command.RecordCompletionHandler
	RevertCompletion *command.RevertCompletionHandler
	RecordLogin      *command.RecordLoginHandler

	// Query Handlers (CQRS Read Side)
	GetProgress       *query.GetProgressHandler
	CheckAvailability *query.CheckAvailabilityHandler
	Catalog           *query.CatalogHandler

	// Health backs /healthz and /readyz. Optional.
	Health *handlers.CompositeHealthChecker

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// ErrServerRunning is returned by Start and Serve on a server already serving.
var ErrServerRunning = errors.New("server already running")

// Server is the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	logger     *logger.Logger
	router     chi.Router
	httpServer *http.Server
	limiter    *rateLimiter

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new HTTP server.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker("")
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(config.RateLimitPerMinute, time.Minute, config.RateLimitClients)
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(handlers.RequestLogger(s.logger))
	r.Use(handlers.Recoverer(s.logger))
	r.Use(handlers.SecurityHeaders)
	if s.config.EnableCORS {
		r.Use(s.corsMiddleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	// Probes
	r.With(handlers.NoCache).Get("/healthz", s.handleHealthz)
	r.With(handlers.NoCache).Get("/readyz", s.handleReadyz)

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimitMiddleware)
		}
		if s.config.RequestTimeout > 0 {
			r.Use(handlers.Timeout(s.config.RequestTimeout))
		}
		if s.config.MaxBodyBytes > 0 {
			r.Use(handlers.RequestSizeLimit(s.config.MaxBodyBytes))
		}

		r.Group(func(r chi.Router) {
			r.Use(handlers.CacheControl(s.config.CatalogMaxAge))
			r.Get("/phases", s.handleListPhases)
			r.Get("/badges", s.handleListBadges)
		})

		r.Route("/members", func(r chi.Router) {
			r.Use(handlers.NoCache)
			r.Post("/", s.handleRegisterMember)
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/progress", s.handleGetProgress)
				r.Post("/completions", s.handleRecordCompletion)
				r.Delete("/completions/{completionID}", s.handleRevertCompletion)
				r.Post("/logins", s.handleRecordLogin)
				r.Get("/activities/{activityID}/availability", s.handleCheckAvailability)
			})
		})
	})

	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.ContainsFunc(s.config.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(allowed, origin)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.Allow(clientIP(r))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeJSONError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address(), err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerRunning
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", logger.String("address", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. A later Serve returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Addr returns the bound address while serving, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address()
}
