package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestServeOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "hub.sock")

	srv, err := New(Config{
		Addr:       "127.0.0.1:0",
		SocketPath: sock,
		DBPath:     filepath.Join(dir, "hub.db"),
		KeysPath:   filepath.Join(dir, "keys.yaml"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if _, err := os.Stat(sock); err != nil {
		t.Fatalf("socket not created: %v", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", sock)
			},
		},
	}

	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = client.Get("http://unix/api/locks")
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("request over socket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/locks, got %d", resp.StatusCode)
	}
}

func TestShutdownRemovesSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "hub.sock")

	srv, err := New(Config{
		Addr:       "127.0.0.1:0",
		SocketPath: sock,
		DBPath:     filepath.Join(dir, "hub.db"),
		KeysPath:   filepath.Join(dir, "keys.yaml"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go srv.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("socket should be removed after shutdown")
	}
}
