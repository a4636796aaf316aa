// Package httpapi serves the concierge over HTTP and websockets.
//
//	POST /v1/messages  {"session_id": "...", "message": "..."} -> {"session_id", "text", "outcome"}
//	GET  /v1/ws        websocket carrying the same request and response frames
//	GET  /healthz
//	GET  /metrics
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/pkg/channels"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	Name = "http"

	DefaultAddr       = "127.0.0.1:8080"
	maxBodyBytes      = 64 * 1024
	readHeaderTimeout = 10 * time.Second
)

// Config configures the HTTP adapter.
type Config struct {
	Addr string
	// RateLimitPerMinute caps requests and websocket frames per client IP.
	// Zero disables limiting.
	RateLimitPerMinute int
	EnableWebSocket    bool
	// AllowedOrigins restricts websocket origins. Empty allows any origin.
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Server is the HTTP adapter.
type Server struct {
	cfg      Config
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	dispatch channels.Dispatch
	server   *http.Server
	listener net.Listener
	conns    map[*websocket.Conn]struct{}
	serveErr chan error
}

// New creates an HTTP adapter.
func New(cfg Config) *Server {
	observability.EnsureRegistered()

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimitPerMinute),
		logger:  cfg.Logger.With().Str("component", "httpapi").Logger(),
		conns:   make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Name() string { return Name }

// Handler returns the routed handler bound to dispatch.
func (s *Server) Handler(dispatch channels.Dispatch) http.Handler {
	s.mu.Lock()
	s.dispatch = dispatch
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/messages", s.handleMessage)
		if s.cfg.EnableWebSocket {
			r.With(s.rateLimit).Get("/ws", s.handleWebSocket)
		}
	})

	return otelhttp.NewHandler(r, "concierge.http")
}

// Start listens on Config.Addr and serves in the background.
func (s *Server) Start(_ context.Context, dispatch channels.Dispatch) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("httpapi: already started")
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(dispatch),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.serveErr = make(chan error, 1)
	serveErr := s.serveErr
	s.mu.Unlock()

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP adapter listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP adapter stopped")
			serveErr <- err
		}
		close(serveErr)
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a serve failure after Start. It is closed when serving ends.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Stop shuts the server down and closes open websocket connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.limiter.Stop()
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) currentDispatch() channels.Dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatch
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := s.limiter.Allow(clientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", RetryAfterSeconds(retryAfter)))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded; retry later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the request's remote host; RealIP has already applied
// forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
