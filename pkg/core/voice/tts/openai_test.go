package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAISynthesize(t *testing.T) {
	var got openAISpeechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(make([]byte, 480))
	}))
	defer srv.Close()

	p := NewOpenAI("sk-test", srv.Client()).WithBaseURL(srv.URL)
	out, err := p.Synthesize(context.Background(), "Thanks for calling.", SynthesizeOptions{Voice: "nova"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.SampleRate != 24000 || len(out.Audio) != 480 {
		t.Fatalf("synthesis rate=%d len=%d", out.SampleRate, len(out.Audio))
	}
	if got.ResponseFormat != "pcm" || got.Voice != "nova" || got.Model != "gpt-4o-mini-tts" || got.Input != "Thanks for calling." {
		t.Fatalf("request = %+v", got)
	}
}

func TestOpenAISynthesize_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI("sk", srv.Client()).WithBaseURL(srv.URL)
	if _, err := p.Synthesize(context.Background(), "hi", SynthesizeOptions{}); err == nil {
		t.Fatal("expected error")
	}
}
