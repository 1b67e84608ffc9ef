package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/core/voice"
	"github.com/vango-go/voicebridge/pkg/core/voice/stt"
	"github.com/vango-go/voicebridge/pkg/core/voice/tts"
	"github.com/vango-go/voicebridge/pkg/gateway/audiocache"
	"github.com/vango-go/voicebridge/pkg/gateway/call"
	"github.com/vango-go/voicebridge/pkg/gateway/callconfig"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voicebridge/pkg/gateway/media"
	"github.com/vango-go/voicebridge/pkg/gateway/mw"
	"github.com/vango-go/voicebridge/pkg/gateway/rooms"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
)

type fakeSTT struct{}

func (fakeSTT) Name() string { return "fake" }

func (fakeSTT) Transcribe(context.Context, []byte, stt.TranscribeOptions) (*stt.Transcript, error) {
	return &stt.Transcript{Text: ""}, nil
}

type fakeLLM struct {
	calls atomic.Int64
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateReply(_ context.Context, req *core.ReplyRequest) (*core.Reply, error) {
	f.calls.Add(1)
	return &core.Reply{Text: "Your order ships tomorrow."}, nil
}

type fakeTTS struct{}

func (fakeTTS) Name() string { return "fake" }

func (fakeTTS) Synthesize(context.Context, string, tts.SynthesizeOptions) (*tts.Synthesis, error) {
	return &tts.Synthesis{Audio: make([]byte, 1600), SampleRate: 8000}, nil
}

type fakeProviders struct{ set *voice.VoiceProviderSet }

func (f fakeProviders) Resolve(core.AgentConfig) (*voice.VoiceProviderSet, error) { return f.set, nil }
func (f fakeProviders) Fallback() (*voice.VoiceProviderSet, error)                { return f.set, nil }

type fakeResolver struct{}

func (fakeResolver) Resolve(context.Context, callconfig.Request) (*callconfig.Result, error) {
	return &callconfig.Result{Config: core.AgentConfig{AgentID: "support", Model: "gpt-4o-mini"}}, nil
}

type failingRooms struct{ *rooms.Local }

func (failingRooms) CreateRoom(context.Context, string) error { return errors.New("room service down") }

type fakeControl struct{ hangups atomic.Int64 }

func (c *fakeControl) Hangup(context.Context, string) error {
	c.hangups.Add(1)
	return nil
}

type testEnv struct {
	cfg      config.Config
	registry *sessions.Registry
	local    *rooms.Local
	calls    *Calls
	cache    *audiocache.Cache
	life     *lifecycle.Lifecycle
	llm      *fakeLLM
	control  *fakeControl
	mux      *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		cfg: config.Config{
			PublicURL:      "https://voice.example.com",
			HoldMessage:    "Please hold while we connect you.",
			FailureMessage: "Sorry, this line is unavailable. Goodbye.",
			MaxBodyBytes:   1 << 16,
			HandlerTimeout: 5 * time.Second,
		},
		registry: sessions.NewRegistry(sessions.Options{Logger: logger}),
		local:    rooms.NewLocal("voicebridge", []byte("room-secret")),
		cache:    audiocache.New(time.Minute),
		life:     &lifecycle.Lifecycle{},
		llm:      &fakeLLM{},
		control:  &fakeControl{},
	}
	set := voice.NewSet(core.FamilyOpenAI, "gpt-4o-mini", fakeSTT{}, env.llm, fakeTTS{}, voice.Options{Timeout: time.Second})
	env.calls = &Calls{
		Registry: env.registry,
		Rooms:    &rooms.Manager{Provider: env.local},
		Agent: call.Deps{
			Config:    fakeResolver{},
			Providers: fakeProviders{set: set},
			Logger:    logger,
		},
		Control: env.control,
		Logger:  logger,
	}
	t.Cleanup(func() {
		env.registry.CloseAll(sessions.ReasonShutdown)
	})

	mux := http.NewServeMux()
	mux.Handle("POST /twilio/voice", VoiceWebhookHandler{Config: env.cfg, Calls: env.calls, Lifecycle: env.life, Logger: logger})
	mux.Handle("POST /twilio/status", StatusCallbackHandler{Registry: env.registry, Logger: logger})
	mux.Handle("GET "+MediaStreamPath, MediaHandler{Registry: env.registry, Logger: logger})
	mux.Handle("POST /v1/sessions", CreateSessionHandler{Config: env.cfg, Calls: env.calls, Cache: env.cache, Lifecycle: env.life, Logger: logger})
	mux.Handle("GET /v1/sessions/{id}", GetSessionHandler{Registry: env.registry})
	mux.Handle("POST /v1/speech", SpeechHandler{Config: env.cfg, Registry: env.registry, Logger: logger})
	mux.Handle("GET /v1/audio/{id}", AudioHandler{Cache: env.cache})
	env.mux = mux
	return env
}

func (e *testEnv) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) webhook(form url.Values) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

var sessionParam = regexp.MustCompile(`<Parameter name="session_id" value="([^"]+)"`)

func sessionFromTwiML(t *testing.T, body string) string {
	t.Helper()
	m := sessionParam.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("no session_id parameter in %s", body)
	}
	return m[1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestVoiceWebhook_ConnectsStreamAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	form := url.Values{"CallSid": {"CA100"}, "From": {"+15550001"}, "To": {"+15550100"}, "Direction": {"inbound"}}

	first := env.webhook(form)
	if first.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", first.Code, first.Body.String())
	}
	if ct := first.Header().Get("Content-Type"); !strings.Contains(ct, "xml") {
		t.Fatalf("content-type=%q", ct)
	}
	body := first.Body.String()
	for _, want := range []string{
		"<Say>Please hold while we connect you.</Say>",
		`<Stream url="wss://voice.example.com/twilio/media">`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("twiml missing %q: %s", want, body)
		}
	}
	id := sessionFromTwiML(t, body)

	second := env.webhook(form)
	if again := sessionFromTwiML(t, second.Body.String()); again != id {
		t.Fatalf("retry session=%s, want %s", again, id)
	}
	if n := env.registry.Count(); n != 1 {
		t.Fatalf("sessions=%d, want 1", n)
	}
	e, ok := env.registry.LookupByCall("CA100")
	if !ok || e.Room != "call-CA100" || e.Origin != call.OriginTelephony {
		t.Fatalf("entry=%+v ok=%v", e, ok)
	}
	if !env.local.Has("call-CA100") {
		t.Fatalf("room call-CA100 not open")
	}
}

func TestVoiceWebhook_RequiresCallSid(t *testing.T) {
	env := newTestEnv(t)
	rr := env.webhook(url.Values{"From": {"+15550001"}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"param":"CallSid"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestTwilioForms_MissingCallSidUsesEnvelope(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/twilio/voice", "/twilio/status"} {
		t.Run(path, func(t *testing.T) {
			rr := env.do(http.MethodPost, path, strings.NewReader("CallStatus=completed"), "application/x-www-form-urlencoded")
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d", rr.Code)
			}
			var body struct {
				Error core.Error `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode %s: %v", rr.Body.String(), err)
			}
			if body.Error.Type != core.ErrInvalidRequest || body.Error.Param != "CallSid" {
				t.Fatalf("error=%+v", body.Error)
			}
		})
	}
}

func TestNotFound_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v2/nothing", nil)
	req = req.WithContext(mw.WithRequestID(req.Context(), "req_404"))
	NotFoundHandler{}.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"type":"not_found_error"`) || !strings.Contains(body, `"request_id":"req_404"`) || !strings.Contains(body, "/v2/nothing") {
		t.Fatalf("body=%s", body)
	}
}

func TestVoiceWebhook_RejectsWhenRoomUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.calls.Rooms = &rooms.Manager{Provider: failingRooms{env.local}}

	rr := env.webhook(url.Values{"CallSid": {"CA200"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<Hangup") || !strings.Contains(body, "Sorry, this line is unavailable. Goodbye.") {
		t.Fatalf("expected reject twiml, got %s", body)
	}
	if n := env.registry.Count(); n != 0 {
		t.Fatalf("sessions=%d after failed setup, want 0", n)
	}
}

func TestVoiceWebhook_RejectsWhileDraining(t *testing.T) {
	env := newTestEnv(t)
	env.life.Drain(time.Now())
	rr := env.webhook(url.Values{"CallSid": {"CA300"}})
	if !strings.Contains(rr.Body.String(), "<Hangup") {
		t.Fatalf("expected hangup twiml, got %s", rr.Body.String())
	}
	if env.registry.Count() != 0 {
		t.Fatalf("session created while draining")
	}
}

func TestStatusCallback_TerminalStatusClosesSession(t *testing.T) {
	env := newTestEnv(t)
	env.webhook(url.Values{"CallSid": {"CA400"}})
	if env.registry.Count() != 1 {
		t.Fatalf("session not created")
	}

	rr := env.do(http.MethodPost, "/twilio/status", strings.NewReader("CallSid=CA400&CallStatus=in-progress"), "application/x-www-form-urlencoded")
	if rr.Code != http.StatusNoContent || env.registry.Count() != 1 {
		t.Fatalf("in-progress status closed the session (code=%d)", rr.Code)
	}

	env.do(http.MethodPost, "/twilio/status", strings.NewReader("CallSid=CA400&CallStatus=completed"), "application/x-www-form-urlencoded")
	if env.registry.Count() != 0 {
		t.Fatalf("completed status left the session open")
	}
	waitFor(t, "room release", func() bool { return !env.local.Has("call-CA400") })
}

func TestCallSession_MaxDurationHangsUp(t *testing.T) {
	env := newTestEnv(t)
	env.webhook(url.Values{"CallSid": {"CA450"}})
	e, _ := env.registry.LookupByCall("CA450")

	env.registry.Close(e.ID, sessions.ReasonMaxDuration)
	if n := env.control.hangups.Load(); n != 1 {
		t.Fatalf("hangups=%d, want 1", n)
	}
}

func TestMediaHandler_StreamBindsToSessionAndStopEndsIt(t *testing.T) {
	env := newTestEnv(t)
	env.webhook(url.Values{"CallSid": {"CA500"}})
	e, _ := env.registry.LookupByCall("CA500")

	srv := httptest.NewServer(env.mux)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + MediaStreamPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := media.Message{
		Event:     media.EventStart,
		StreamSID: "MZ500",
		Start: &media.StartPayload{
			StreamSID:        "MZ500",
			CallSID:          "CA500",
			CustomParameters: map[string]string{"session_id": e.ID},
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("write start: %v", err)
	}
	waitFor(t, "agent listening", func() bool {
		s, _ := e.Handle().(*CallSession)
		return s.Agent().State() == call.StateListening
	})

	if err := conn.WriteJSON(media.Message{Event: media.EventStop, StreamSID: "MZ500", Stop: &media.StopPayload{CallSID: "CA500"}}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	waitFor(t, "session removal", func() bool { return env.registry.Count() == 0 })
}

func TestMediaHandler_UnknownSessionClosesStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+MediaStreamPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.WriteJSON(media.Message{
		Event: media.EventStart,
		Start: &media.StartPayload{CallSID: "CA-ghost", CustomParameters: map[string]string{"session_id": "nope"}},
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("stream for unknown session stayed open")
			}
			return
		}
	}
}

func TestWebSession_SpeechRoundTripServesAudio(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/sessions", strings.NewReader(`{"user_id":"u-7","agent_id":"support"}`), "application/json")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	var created sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Room, "web-") || created.Origin != call.OriginWeb {
		t.Fatalf("created=%+v", created)
	}
	if created.Grants == nil || created.Grants.Caller.Identity != "u-7" || created.Grants.Caller.Token == "" || created.Grants.Agent.Token == "" {
		t.Fatalf("grants=%+v", created.Grants)
	}
	claims, err := env.local.Parse(created.Grants.Caller.Token)
	if err != nil || claims.Video.Room != created.Room {
		t.Fatalf("caller grant claims=%+v err=%v", claims, err)
	}

	e, _ := env.registry.Lookup(created.SessionID)
	waitFor(t, "agent listening", func() bool {
		return e.Handle().(*CallSession).Agent().State() == call.StateListening
	})

	body := bytes.NewBufferString(`{"session_id":"` + created.SessionID + `","transcript":"where is my order","user_id":"u-7"}`)
	rr = env.do(http.MethodPost, "/v1/speech", body, "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("speech status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp speechResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "Your order ships tomorrow." {
		t.Fatalf("reply=%q", resp.Reply)
	}
	prefix := "https://voice.example.com" + AudioPathPrefix
	if !strings.HasPrefix(resp.AudioURL, prefix) {
		t.Fatalf("audio_url=%q", resp.AudioURL)
	}

	rr = env.do(http.MethodGet, strings.TrimPrefix(resp.AudioURL, "https://voice.example.com"), nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("audio status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content-type=%q", ct)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("RIFF")) {
		t.Fatalf("audio is not a wav file")
	}

	rr = env.do(http.MethodGet, "/v1/sessions/"+created.SessionID, nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"turns":2`) {
		t.Fatalf("session status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSpeech_Errors(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		body   string
		status int
		typ    string
	}{
		{"bad json", `{`, http.StatusBadRequest, "invalid_request_error"},
		{"missing session", `{"transcript":"hi"}`, http.StatusBadRequest, "invalid_request_error"},
		{"missing transcript", `{"session_id":"s"}`, http.StatusBadRequest, "invalid_request_error"},
		{"unknown session", `{"session_id":"nope","transcript":"hi"}`, http.StatusNotFound, "session_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/v1/speech", strings.NewReader(tc.body), "application/json")
			if rr.Code != tc.status {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), `"type":"`+tc.typ+`"`) {
				t.Fatalf("body=%s", rr.Body.String())
			}
		})
	}
}

func TestAudio_ExpiredIsNotFound(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := audiocache.New(time.Second, audiocache.WithClock(func() time.Time { return now }))
	entry := cache.Put([]byte("RIFF...."), "audio/wav")

	mux := http.NewServeMux()
	mux.Handle("GET /v1/audio/{id}", AudioHandler{Cache: cache, Now: func() time.Time { return now }})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/audio/"+entry.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("fresh status=%d", rr.Code)
	}

	now = now.Add(2 * time.Second)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/audio/"+entry.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expired status=%d", rr.Code)
	}
}

func TestStreamURL(t *testing.T) {
	cases := []struct {
		public string
		host   string
		proto  string
		want   string
	}{
		{"https://voice.example.com", "", "", "wss://voice.example.com/twilio/media"},
		{"https://voice.example.com/base/", "", "", "wss://voice.example.com/base/twilio/media"},
		{"http://localhost:8080", "", "", "ws://localhost:8080/twilio/media"},
		{"", "abc.ngrok.io", "https", "wss://abc.ngrok.io/twilio/media"},
		{"", "127.0.0.1:8080", "", "ws://127.0.0.1:8080/twilio/media"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodPost, "/twilio/voice", nil)
		if tc.host != "" {
			r.Host = tc.host
		}
		if tc.proto != "" {
			r.Header.Set("X-Forwarded-Proto", tc.proto)
		}
		if got := streamURL(tc.public, r); got != tc.want {
			t.Fatalf("streamURL(%q, %q)=%q, want %q", tc.public, tc.host, got, tc.want)
		}
	}
}
