package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/handlers"
	gatewayserver "github.com/vango-go/voicebridge/pkg/gateway/server"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
)

func failingDeps(t *testing.T) serveDeps {
	return serveDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	for _, args := range [][]string{{}, {"serve"}, {"migrate", "status"}} {
		var stdout, stderr bytes.Buffer
		exitCode := runMain(context.Background(), args, &stdout, &stderr, failingDeps(t))
		if exitCode != 1 {
			t.Fatalf("args=%v exitCode=%d, want 1", args, exitCode)
		}
		if !strings.Contains(stderr.String(), "boom") {
			t.Fatalf("args=%v stderr=%q", args, stderr.String())
		}
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestNewLogger_FormatAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(config.Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "call_id", "CA1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %q", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("not json: %q", out)
	}
	if rec["msg"] != "shown" || rec["call_id"] != "CA1" {
		t.Fatalf("record=%v", rec)
	}
}

func TestRunMigrate_SQLite(t *testing.T) {
	t.Parallel()

	url := "sqlite:" + filepath.Join(t.TempDir(), "vb.db")
	for _, cmd := range []string{"up", "status", "down", "up"} {
		if err := runMigrate(context.Background(), url, cmd); err != nil {
			t.Fatalf("migrate %s: %v", cmd, err)
		}
	}
	if err := runMigrate(context.Background(), url, "sideways"); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if err := runMigrate(context.Background(), "", "up"); err == nil {
		t.Fatalf("expected error without a database url")
	}
}

func TestStatusCommand_RendersGatewayStatus(t *testing.T) {
	t.Parallel()

	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(handlers.StatusResponse{
			Status:         "draining",
			Version:        "1.2.3",
			UptimeSeconds:  65,
			ActiveSessions: 1,
			Sessions:       []sessions.Info{{ID: "sess-1", CallID: "CA9", Room: "call-CA9", Origin: "telephony"}},
			Providers:      map[string]bool{"openai": true, "cartesia": false},
			Rooms:          "local",
		})
	}))
	defer ts.Close()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"status", "--url", ts.URL, "--api-key", "vb_test"}, &stdout, &stderr, defaultServeDeps())
	if code != 0 {
		t.Fatalf("exit=%d stderr=%q", code, stderr.String())
	}
	if gotAuth != "Bearer vb_test" {
		t.Fatalf("Authorization=%q", gotAuth)
	}
	out := stdout.String()
	for _, want := range []string{"draining", "1.2.3", "1m5s", "sess-1", "CA9", "openai", "cartesia"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCommand_ReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"status", "--url", ts.URL}, &stdout, &stderr, defaultServeDeps())
	if code != 1 || !strings.Contains(stderr.String(), "401") {
		t.Fatalf("exit=%d stderr=%q", code, stderr.String())
	}
}
