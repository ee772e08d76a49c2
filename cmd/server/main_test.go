package main

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestServerDrainsInFlightPredictionOnShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/predict/image", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: mux}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, zap.NewNop(), listener, signalCh)
	}()

	client := &http.Client{Timeout: 3 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+listener.Addr().String()+"/predict/image", "image/png", nil)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case resp := <-respCh:
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9191" || cfg.Log.Level != "warn" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"model": {"sessions": 0}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected validation error for zero sessions")
	}

	unbounded := filepath.Join(t.TempDir(), "unbounded.json")
	if err := os.WriteFile(unbounded, []byte(`{"decoder": {"max_bytes": 0}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(unbounded); err == nil {
		t.Fatal("expected validation error for unbounded uploads")
	}
}
