package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/voicebridge/pkg/gateway/config"
)

func testConfig() config.Config {
	return config.Config{
		PublicURL:          "https://voice.example.com",
		AuthMode:           config.AuthModeRequired,
		APIKeys:            map[string]struct{}{"vb_test": {}},
		CORSAllowedOrigins: map[string]struct{}{},
		MaxBodyBytes:       1 << 16,
		HoldMessage:        "Please hold.",
		FailureMessage:     "Goodbye.",
		StreamTokenSecret:  "stream-secret",
		StreamTokenTTL:     time.Minute,
		RoomsProvider:      config.RoomsLocal,
		RoomsSecret:        "room-secret",
		GrantTTL:           time.Minute,
		DefaultFamily:      "openai",
		ProviderTimeout:    time.Second,
		HistoryWindow:      20,
		FrameDuration:      20 * time.Millisecond,
		MaxMalformedFrames: 5,
		WSPingInterval:     time.Second,
		WSWriteTimeout:     time.Second,
		WSReadTimeout:      time.Second,
		IdleTimeout:        time.Minute,
		MaxCallDuration:    time.Minute,
		SweepInterval:      time.Second,
		AudioCacheTTL:      time.Minute,
		ConfigCacheTTL:     time.Minute,
		ReadHeaderTimeout:  time.Second,
		ReadTimeout:        time.Second,
		HandlerTimeout:     time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestServer_APIRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer vb_test")
	rr = serve(s, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"rooms":"local"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_TwilioWebhookNeedsNoBearer(t *testing.T) {
	s := newTestServer(t, testConfig())

	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}, "To": {"+15550100"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(s, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, "wss://voice.example.com/twilio/media") || !strings.Contains(body, `name="token"`) {
		t.Fatalf("unexpected twiml: %s", body)
	}
}

func TestServer_TwilioSignatureEnforcedWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.TwilioAuthToken = "twilio-token"
	cfg.TwilioValidateSignatures = true
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader("CallSid=CA2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(s, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if s.ActiveSessions() != 0 {
		t.Fatalf("unsigned webhook created a session")
	}
}

func TestServer_MetricsExposed(t *testing.T) {
	s := newTestServer(t, testConfig())
	serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "voicebridge_sessions_active") {
		t.Fatalf("metrics missing active sessions gauge")
	}
}

func TestServer_ShutdownDrainsReadiness(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = "sk-test"
	s := newTestServer(t, cfg)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%q", rr.Code, rr.Body.String())
	}

	s.SetDraining()
	rr = serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining status=%d", rr.Code)
	}
}

func TestNew_LocalRoomsNeedSecret(t *testing.T) {
	cfg := testConfig()
	cfg.RoomsSecret = ""
	cfg.StreamTokenSecret = ""
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error without a rooms secret")
	}
}
