// Package server assembles the coordination hub: SQLite store, hub
// facade, WebSocket fan-out, auth middleware and the HTTP listeners.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/httpapi"
	"github.com/switchboardhq/switchboard/internal/hub"
	"github.com/switchboardhq/switchboard/internal/storage/sqlite"
	"github.com/switchboardhq/switchboard/internal/ws"
)

type Config struct {
	Addr       string
	SocketPath string
	DBPath     string
	KeysPath   string

	// SweepInterval is how often dead lease rows are purged; SweepRetain
	// is how long an expired or released row survives before deletion.
	SweepInterval time.Duration
	SweepRetain   time.Duration
}

const (
	defaultSweepInterval = time.Minute
	defaultSweepRetain   = time.Hour
)

type Server struct {
	cfg    Config
	store  *sqlite.Store
	sweep  *sqlite.Sweeper
	http   *http.Server
	unix   *http.Server
	unixLn net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr required")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SweepRetain <= 0 {
		cfg.SweepRetain = defaultSweepRetain
	}

	var (
		store *sqlite.Store
		err   error
	)
	if cfg.DBPath == "" {
		store, err = sqlite.NewInMemory()
	} else {
		store, err = sqlite.New(cfg.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ring, err := auth.LoadKeyring(cfg.KeysPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load keyring: %w", err)
	}

	wsHub := ws.NewHub()
	coord := hub.New(sqlite.NewResilient(store), wsHub)
	svc := httpapi.NewService(coord)
	handler := httpapi.NewRouter(svc, wsHub.Handler(), auth.Middleware(ring))

	s := &Server{
		cfg:   cfg,
		store: store,
		sweep: sqlite.NewSweeper(store, wsHub, cfg.SweepInterval, cfg.SweepRetain),
		http:  &http.Server{Addr: cfg.Addr, Handler: handler},
	}

	if cfg.SocketPath != "" {
		// Remove stale socket file from previous run
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			store.Close()
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", cfg.SocketPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("unix listen: %w", err)
		}
		if err := os.Chmod(cfg.SocketPath, 0660); err != nil {
			ln.Close()
			store.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
		s.unixLn = ln
		s.unix = &http.Server{Handler: handler}
	}

	return s, nil
}

func (s *Server) Start() error {
	s.sweep.Start(context.Background())
	if s.unixLn != nil {
		go s.unix.Serve(s.unixLn)
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	s.sweep.Stop()

	if s.unix != nil {
		if err := s.unix.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.cfg.SocketPath != "" {
		os.Remove(s.cfg.SocketPath)
	}

	if err := s.http.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// SocketPath returns the configured socket path, or empty if not configured.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}
