// Package ops serves the operational HTTP endpoints: Prometheus metrics,
// a health probe and, when enabled, net/http/pprof.
package ops

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	rtsup "bioscout/internal/runtime/supervisor"
	logx "bioscout/pkg/logx"
)

const defaultAddr = "127.0.0.1:9090"

// Config controls the ops HTTP server. A non-loopback Addr needs a Token
// unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	Pprof       bool
	PprofPrefix string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// Health reports process health for /healthz. OK=false answers 503.
type Health struct {
	OK     bool           `json:"ok"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Server is started and stopped as a whole; each start is one instance with
// its own supervisor.
type Server struct {
	log      logx.Logger
	health   func() Health
	gatherer prometheus.Gatherer

	mu  sync.Mutex
	cfg Config
	cur *instance
}

type instance struct {
	sup  *rtsup.Supervisor
	addr string
}

// New builds a stopped server. health may be nil; gatherer defaults to the
// global Prometheus registry.
func New(cfg Config, health func() Health, gatherer prometheus.Gatherer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if health == nil {
		health = func() Health { return Health{OK: true} }
	}
	return &Server{cfg: cfg, log: log, health: health, gatherer: gatherer}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor is nil while stopped.
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.sup
}

// Addr is the bound address, or "" until the listener is up.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.addr
}

// Reconfigure applies cfg on a config reload, starting, stopping or
// restarting the listener as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	setProfileRates(cfg)

	s.mu.Lock()
	prev, running := s.cfg, s.cur != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case listenerChanged(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// listenerChanged ignores the profiling rates, which apply in place.
func listenerChanged(a, b Config) bool {
	a.MutexProfileFraction, a.BlockProfileRate, a.MemProfileRate = 0, 0, 0
	b.MutexProfileFraction, b.BlockProfileRate, b.MemProfileRate = 0, 0, 0
	a.PprofPrefix, b.PprofPrefix = normalizePrefix(a.PprofPrefix), normalizePrefix(b.PprofPrefix)
	return a != b
}

func setProfileRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// Start launches the listener unless it is running or disabled. Listen
// failures are retried with backoff and never cancel the caller's context.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil || !s.cfg.Enabled {
		return
	}
	inst := &instance{sup: rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))}
	s.cur = inst
	cfg := s.cfg
	inst.sup.GoRestart("http.serve", func(ctx context.Context) error {
		return s.serve(ctx, inst, cfg)
	},
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the listener down and waits for it, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	inst := s.cur
	s.cur = nil
	s.mu.Unlock()
	if inst == nil {
		return
	}
	if err := inst.sup.Stop(ctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("ops server stop timed out", logx.Err(err))
		return
	}
	s.log.Info("ops server stopped")
}

func (s *Server) serve(ctx context.Context, inst *instance, cfg Config) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !IsLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			return errors.New("refusing non-loopback bind without token")
		}
		s.log.Warn("ops server exposed without token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.mu.Lock()
	inst.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("ops server started",
		logx.String("addr", inst.addr),
		logx.Bool("pprof", cfg.Pprof),
		logx.Bool("token_set", cfg.Token != ""),
	)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err = <-served:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			err = errors.New("ops server exited unexpectedly")
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
		}
		<-served
		return ctx.Err()
	}
}

// IsLoopbackAddr reports whether host:port binds only to the local machine.
// An empty host means every interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
