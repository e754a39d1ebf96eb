// internal/api/server.go

// Package api serves the dashboard JSON API, the stats stream and the
// Prometheus endpoint.
package api

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/auth"
	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/export"
	"github.com/rovshanmuradov/toxi-relay/internal/logger"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
	"github.com/rovshanmuradov/toxi-relay/internal/relay"
)

//go:embed static/index.html
var indexPage string

const phonePlaceholder = "{{ PHONE_NUMBER }}"

// Engine reports whether the trading loops are running.
type Engine interface {
	Running() bool
}

// Deps are the components the handlers read from. Only Auth and Ledger are
// required.
type Deps struct {
	Auth     *auth.Machine
	Relay    *relay.Relay
	Ledger   *monitor.Ledger
	Metrics  *monitor.Metrics
	Activity *logger.Buffer
	Exporter *export.Exporter
	Engine   Engine
	Bus      *events.Bus

	PositionSize   decimal.Decimal
	Phone          string
	StreamInterval time.Duration
	StartedAt      time.Time
}

type Server struct {
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
	srv      *http.Server

	done      chan struct{}
	closeOnce sync.Once
}

func New(addr string, deps Deps, logger *zap.Logger) *Server {
	if deps.StreamInterval <= 0 {
		deps.StreamInterval = 5 * time.Second
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	if deps.Exporter == nil {
		deps.Exporter = export.NewExporter(logger)
	}

	s := &Server{
		deps:     deps,
		logger:   logger.Named("api"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		done:     make(chan struct{}),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/setup/credentials", s.handleCredentials)
	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/request-code", s.handleRequestCode)
	mux.HandleFunc("POST /api/auth/verify-code", s.handleVerifyCode)
	mux.HandleFunc("POST /api/request-code", s.handleRequestCode)
	mux.HandleFunc("POST /api/verify-code", s.handleVerifyCode)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /api/trades", s.handleTrades)

	mux.HandleFunc("GET /ws", s.handleStream)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.metricsHandler())
	}
	return s.withLogging(mux)
}

// ListenAndServe blocks until the server stops. A shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, ends open streams and waits for
// in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.srv.Shutdown(ctx)
}

func (s *Server) metricsHandler() http.Handler {
	next := s.deps.Metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.deps.Metrics.Observe(s.deps.Ledger.Counters())
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
