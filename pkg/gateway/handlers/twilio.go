package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/gateway/call"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voicebridge/pkg/gateway/media"
	"github.com/vango-go/voicebridge/pkg/gateway/mw"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
	"github.com/vango-go/voicebridge/pkg/gateway/twiml"
)

const (
	MediaStreamPath = "/twilio/media"

	ReasonSetupFailed = "setup_failed"
)

// VoiceWebhookHandler answers Twilio's inbound call webhook. A retried
// webhook for the same CallSid gets the same session back.
type VoiceWebhookHandler struct {
	Config    config.Config
	Calls     *Calls
	Tokens    media.StreamTokens
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h VoiceWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger()
	reqID, _ := mw.RequestIDFrom(r.Context())
	if err := r.ParseForm(); err != nil {
		writeError(w, r, core.NewInvalidRequestError("invalid form body"))
		return
	}
	callSID := strings.TrimSpace(r.PostForm.Get("CallSid"))
	if callSID == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("CallSid is required", "CallSid"))
		return
	}
	logger = logger.With("call_id", callSID, "request_id", reqID)

	if h.Lifecycle.IsDraining() {
		logger.Warn("rejecting call while draining")
		h.reject(w, logger)
		return
	}

	p := call.Params{
		CallID:  callSID,
		From:    r.PostForm.Get("From"),
		To:      r.PostForm.Get("To"),
		AgentID: strings.TrimSpace(r.URL.Query().Get("agent_id")),
	}
	spec := sessions.Spec{CallID: callSID, Room: "call-" + callSID, Origin: call.OriginTelephony}
	entry, _, created, err := h.Calls.Open(r.Context(), spec, p, "")
	if err != nil {
		logger.Error("session setup failed", "error", err)
		h.reject(w, logger)
		return
	}
	if created {
		logger.Info("call session created", "session_id", entry.ID, "room", entry.Room,
			"from", p.From, "to", p.To, "direction", r.PostForm.Get("Direction"))
	} else {
		logger.Info("duplicate webhook, reusing session", "session_id", entry.ID)
	}

	token, err := h.Tokens.Mint(entry.ID, callSID)
	if err != nil {
		logger.Error("stream token mint failed", "error", err)
		h.Calls.Registry.Close(entry.ID, ReasonSetupFailed)
		h.reject(w, logger)
		return
	}
	params := map[string]string{"session_id": entry.ID}
	if token != "" {
		params["token"] = token
	}
	doc, err := twiml.Connect(twiml.Stream{
		URL:        streamURL(h.Config.PublicURL, r),
		Hold:       h.Config.HoldMessage,
		Voice:      h.Config.SayVoice,
		Language:   h.Config.SayLanguage,
		Parameters: params,
	})
	if err != nil {
		logger.Error("twiml render failed", "error", err)
		h.Calls.Registry.Close(entry.ID, ReasonSetupFailed)
		h.reject(w, logger)
		return
	}
	writeTwiML(w, doc)
}

func (h VoiceWebhookHandler) reject(w http.ResponseWriter, logger *slog.Logger) {
	doc, err := twiml.Reject(h.Config.FailureMessage, h.Config.SayVoice, h.Config.SayLanguage)
	if err != nil {
		logger.Error("twiml render failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeTwiML(w, doc)
}

func (h VoiceWebhookHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// streamURL is the wss:// address Twilio should open the media stream on.
func streamURL(publicURL string, r *http.Request) string {
	if u, err := url.Parse(strings.TrimSpace(publicURL)); err == nil && u.Host != "" {
		scheme := "wss"
		if u.Scheme == "http" || u.Scheme == "ws" {
			scheme = "ws"
		}
		return (&url.URL{Scheme: scheme, Host: u.Host, Path: strings.TrimRight(u.Path, "/") + MediaStreamPath}).String()
	}
	scheme := "wss"
	if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "ws"
	}
	return (&url.URL{Scheme: scheme, Host: r.Host, Path: MediaStreamPath}).String()
}

// Twilio call states that mean the caller is gone.
var terminalCallStatus = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// StatusCallbackHandler ends the session when Twilio reports the call over.
type StatusCallbackHandler struct {
	Registry *sessions.Registry
	Logger   *slog.Logger
}

func (h StatusCallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if err := r.ParseForm(); err != nil {
		writeError(w, r, core.NewInvalidRequestError("invalid form body"))
		return
	}
	callSID := strings.TrimSpace(r.PostForm.Get("CallSid"))
	status := strings.ToLower(strings.TrimSpace(r.PostForm.Get("CallStatus")))
	if callSID == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("CallSid is required", "CallSid"))
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if terminalCallStatus[status] {
		if e, ok := h.Registry.LookupByCall(callSID); ok {
			h.Registry.Close(e.ID, sessions.ReasonHangup)
			logger.Info("call ended by status callback", "call_id", callSID, "session_id", e.ID, "status", status, "request_id", reqID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
