package callconfig

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/voicebridge/pkg/core"
)

func TestRemote_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calls/CA1/config" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.URL.Query().Get("to") != "+15550001111" {
			t.Errorf("to=%q", r.URL.Query().Get("to"))
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth=%q", r.Header.Get("Authorization"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(core.AgentConfig{AgentID: "remote", Model: "claude-3-5-haiku"})
	}))
	defer srv.Close()

	r := &Remote{BaseURL: srv.URL, APIKey: "k", Retries: 3, RetryDelay: time.Millisecond}
	cfg, ok, err := r.Lookup(context.Background(), Request{CallID: "CA1", To: "+15550001111"})
	if err != nil || !ok || cfg.AgentID != "remote" {
		t.Fatalf("cfg=%+v ok=%v err=%v", cfg, ok, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
}

func TestRemote_NotFoundAndClientErrors(t *testing.T) {
	var calls atomic.Int32
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", status)
	}))
	defer srv.Close()

	r := &Remote{BaseURL: srv.URL, RetryDelay: time.Millisecond}
	_, ok, err := r.Lookup(context.Background(), Request{CallID: "CA1"})
	if err != nil || ok {
		t.Fatalf("404 ok=%v err=%v", ok, err)
	}

	status = http.StatusBadRequest
	calls.Store(0)
	if _, _, err := r.Lookup(context.Background(), Request{CallID: "CA1"}); err == nil {
		t.Fatalf("expected error for 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("400 retried: calls=%d", calls.Load())
	}
}

func TestRemote_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := &Remote{BaseURL: srv.URL, Retries: 2, RetryDelay: time.Millisecond}
	if _, _, err := r.Lookup(context.Background(), Request{CallID: "CA1"}); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
}

func TestRemote_Disabled(t *testing.T) {
	var r *Remote
	if _, ok, err := r.Lookup(context.Background(), Request{CallID: "CA1"}); ok || err != nil {
		t.Fatalf("nil remote ok=%v err=%v", ok, err)
	}
}
