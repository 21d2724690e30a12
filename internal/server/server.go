// Package server exposes sessions to browsers over a websocket and serves
// the static front end, health probes and metrics.
//
// Routes:
//
//	GET /ws       duplex session connection
//	GET /healthz  liveness
//	GET /readyz   readiness
//	GET /metrics  Prometheus exposition
//	GET /         index.html and static assets
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/mouthpiece/internal/health"
	"github.com/MrWong99/mouthpiece/internal/observe"
	"github.com/MrWong99/mouthpiece/internal/session"
)

// DefaultReadLimit caps a single websocket message.
const DefaultReadLimit = 1 << 20

// SessionFactory creates a session for each accepted connection.
type SessionFactory interface {
	NewSession(ctx context.Context, remote string) (*session.Session, error)
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address for ListenAndServe.
	Addr string

	// StaticDir is the directory served at "/".
	StaticDir string

	// AllowedOrigins are extra origin host patterns accepted on /ws.
	AllowedOrigins []string

	// ControlRate and ControlBurst bound typed turns and unrecognised text
	// messages per connection. Listen toggles are exempt. Default: 20/s
	// with a burst of 40.
	ControlRate  float64
	ControlBurst int

	// ReadLimit bounds a single client message. Default: [DefaultReadLimit].
	ReadLimit int64

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Option configures optional collaborators.
type Option func(*Server)

// WithMetrics records HTTP metrics and spans for every route.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metricsHandler = h } }

// WithHealth serves h at /healthz and /readyz. Shutdown marks it draining.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// Server is the HTTP front door.
type Server struct {
	cfg            Config
	sessions       SessionFactory
	static         *Static
	metrics        *observe.Metrics
	metricsHandler http.Handler
	health         *health.Handler
	log            *slog.Logger
	handler        http.Handler
	httpSrv        *http.Server

	// closing is cancelled by Shutdown; open websockets watch it.
	closing context.Context
	close   context.CancelFunc
	conns   sync.WaitGroup
}

// New builds a Server. It fails when the static directory is unusable.
func New(cfg Config, sessions SessionFactory, opts ...Option) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("server: session factory is required")
	}
	if cfg.ControlRate <= 0 {
		cfg.ControlRate = 20
	}
	if cfg.ControlBurst <= 0 {
		cfg.ControlBurst = 40
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}

	static, err := NewStatic(cfg.StaticDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		static:   static,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.closing, s.close = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	mux.Handle("/", static)

	s.handler = mux
	if s.metrics != nil {
		s.handler = observe.Middleware(s.metrics)(mux)
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler with all routes.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe listens on Config.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("http server listening", "addr", ln.Addr().String(), "static_dir", s.static.Root())
	var err error
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		err = s.httpSrv.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.httpSrv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, closes every open session with
// "going away" and waits for their handlers until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.health != nil {
		s.health.SetDraining(true)
	}
	s.close()
	err := s.httpSrv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("server: waiting for sessions: %w", ctx.Err()))
	}
	return err
}
