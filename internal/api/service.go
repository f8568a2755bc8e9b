// Package api is the inbound HTTP surface: publish orchestration ops and
// the chunked transfer protocol, as JSON over chi. Byte payloads travel
// base64-encoded inside JSON so every message stays size-bounded.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"crosspost/internal/blob"
	"crosspost/internal/ledger"
	"crosspost/internal/publisher"
	"crosspost/internal/transfer"
	logx "crosspost/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Enabled bool
	Addr    string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps are the services the handlers call into.
type Deps struct {
	Publisher *publisher.Service
	Ledger    *ledger.Ledger
	Sessions  *blob.SessionManager
	Blobs     *blob.Store
	Router    *transfer.Router
	Coord     *transfer.Coordinator
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	deps Deps

	// base outlives individual requests; batches accepted over HTTP keep
	// running after the request that started them returns 202.
	base context.Context

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log, base: context.Background()}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}
	s.base = ctx

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8787"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("api started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	s.log.Info("api stopped")
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
