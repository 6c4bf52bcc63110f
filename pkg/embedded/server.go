// Package embedded runs an in-process Switchboard hub for tools that
// want coordination without a separate daemon.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/httpapi"
	"github.com/switchboardhq/switchboard/internal/hub"
	"github.com/switchboardhq/switchboard/internal/storage/sqlite"
	"github.com/switchboardhq/switchboard/internal/ws"
)

// Config configures the embedded server.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// If empty, defaults to ~/.switchboard/switchboard.db
	DBPath string

	// Port is the HTTP port to listen on.
	// If 0, defaults to 7338.
	Port int

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string

	// KeysPath enables API-key auth when set. Localhost callers are
	// always allowed.
	KeysPath string
}

// Server is an embedded Switchboard hub.
type Server struct {
	cfg     Config
	store   *sqlite.Store
	hub     *hub.Hub
	wsHub   *ws.Hub
	sweep   *sqlite.Sweeper
	http    *http.Server
	started bool
	mu      sync.Mutex
}

// New creates an embedded server. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".switchboard", "switchboard.db")
	}
	if cfg.Port == 0 {
		cfg.Port = 7338
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var mw func(http.Handler) http.Handler
	if cfg.KeysPath != "" {
		keyring, err := auth.LoadKeyring(cfg.KeysPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load auth: %w", err)
		}
		mw = auth.Middleware(keyring)
	}

	wsHub := ws.NewHub()
	coord := hub.New(sqlite.NewResilient(store), wsHub)
	svc := httpapi.NewService(coord)
	router := httpapi.NewRouter(svc, wsHub.Handler(), mw)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		cfg:   cfg,
		store: store,
		hub:   coord,
		wsHub: wsHub,
		sweep: sqlite.NewSweeper(store, wsHub, time.Minute, time.Hour),
		http:  &http.Server{Addr: addr, Handler: router},
	}, nil
}

// Start starts the embedded server in a goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.sweep.Start(context.Background())
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The host application owns the lifecycle; surface, don't crash.
			fmt.Fprintf(os.Stderr, "switchboard server error: %v\n", err)
		}
	}()

	// Wait a moment for the listener to come up
	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop stops the embedded server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.sweep.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	return s.store.Close()
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// URL returns the base URL for the server.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.http.Addr)
}

// Hub returns the coordination facade for direct in-process use.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}
