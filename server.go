package agenthub

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/agenthub/core"
	"pkt.systems/agenthub/httpapi"
	"pkt.systems/agenthub/internal/identity"
	"pkt.systems/agenthub/internal/mcp"
	"pkt.systems/agenthub/internal/persist"
	"pkt.systems/pslog"
)

// Server composes the HTTP API with the run, room, and gateway services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	DataDir         string
	HTTP            httpapi.Config
	Identity        identity.Config
	Runs            core.ManagerConfig
	SweepInterval   time.Duration
	LoginVerifyHost string
	MCP             mcp.Config
}

// New constructs an agenthub server. Components behind disabled feature
// flags are not built.
func New(cfg ServerConfig, logger pslog.Logger) (Server, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if !cfg.HTTP.AgentEnabled && !cfg.HTTP.RoomsEnabled && !cfg.HTTP.TerminalEnabled && !cfg.HTTP.MCPEnabled {
		return nil, errors.New("no features enabled")
	}

	verifier := identity.NewVerifier(cfg.Identity, logger)

	var runs *core.Manager
	var logins *core.LoginTracker
	if cfg.HTTP.AgentEnabled {
		runs = core.NewManager(cfg.Runs, logger)
		logins = core.NewLoginTracker(cfg.LoginVerifyHost, logger)
	}

	var rooms *core.Registry
	if cfg.HTTP.RoomsEnabled {
		store, err := persist.NewStore(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		registry, err := core.NewRegistry(store, logger)
		if err != nil {
			return nil, err
		}
		rooms = registry
	}

	var gateway *mcp.Gateway
	if cfg.HTTP.MCPEnabled {
		gateway = mcp.NewGateway(cfg.MCP, logger)
	}

	httpSrv := httpapi.NewServer(cfg.HTTP, verifier, runs, logins, rooms, gateway)

	return &compositeServer{
		cfg:     cfg,
		httpSrv: httpSrv,
		runs:    runs,
		logins:  logins,
		gateway: gateway,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	httpSrv *httpapi.Server
	runs    *core.Manager
	logins  *core.LoginTracker
	gateway *mcp.Gateway
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"agent", s.cfg.HTTP.AgentEnabled,
		"rooms", s.cfg.HTTP.RoomsEnabled,
		"terminal", s.cfg.HTTP.TerminalEnabled,
		"mcp", s.cfg.HTTP.MCPEnabled,
	)

	go func() {
		if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	if s.runs != nil {
		go s.runs.Sweep(s.ctx, s.cfg.SweepInterval)
	}
	if s.logins != nil {
		go s.sweepLogins(s.ctx)
	}
	return nil
}

func (s *compositeServer) sweepLogins(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.logins.Prune(now)
		}
	}
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if s.gateway != nil {
		if err := s.gateway.Close(); err != nil {
			log.Warn("gateway close failed", "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
