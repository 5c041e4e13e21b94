package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "notificationbot/internal/runtime/supervisor"
	logx "notificationbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

var ErrInsecureBind = errors.New("http api refused to start: non-loopback addr requires token or allow_insecure")

// Config controls the HTTP server. Zero timeouts get defaults.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	handler http.Handler

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "httpapi"))
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// pprof profiles stream for 30s by default
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	return &Service{cfg: cfg, log: log, handler: newRouter(cfg, deps, log)}
}

// Handler returns the router without starting a listener.
func (s *Service) Handler() http.Handler { return s.handler }

// Supervisor returns the serving supervisor, nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr returns the bound address, empty when stopped.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds synchronously so address errors surface to the caller, then
// serves in the background until Stop or ctx ends. Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	cfg := s.cfg
	loopback := isLoopbackAddr(cfg.Addr)
	if !loopback && cfg.Token == "" {
		if !cfg.AllowInsecure {
			return ErrInsecureBind
		}
		s.log.Warn("http api running without token on non-loopback addr (insecure)", logx.String("addr", cfg.Addr))
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("http api listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	// Serving is optional; never cancel the app over it.
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("http.serve", func(context.Context) error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sup.Go0("http.shutdown", func(c context.Context) {
		<-c.Done()
		// Stop does the graceful part; this only covers ctx cancellation.
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	})

	s.log.Info("http api started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	return nil
}

// Stop shuts the server down gracefully within ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); err == nil && werr != nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	s.log.Info("http api stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
