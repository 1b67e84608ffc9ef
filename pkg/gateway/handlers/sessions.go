package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/gateway/audiocache"
	"github.com/vango-go/voicebridge/pkg/gateway/auth"
	"github.com/vango-go/voicebridge/pkg/gateway/call"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voicebridge/pkg/gateway/rooms"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
)

type createSessionRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	CallID    string            `json:"call_id,omitempty"`
	Room      string            `json:"room"`
	Origin    string            `json:"origin"`
	CreatedAt time.Time         `json:"created_at"`
	Grants    *rooms.Allocation `json:"grants,omitempty"`
	Agent     call.Snapshot     `json:"agent"`
}

// CreateSessionHandler starts a web-origin session: a fresh room, grants for
// both legs and an agent driven by POST /v1/speech.
type CreateSessionHandler struct {
	Config    config.Config
	Calls     *Calls
	Cache     *audiocache.Cache
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h CreateSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeError(w, r, &core.Error{Type: core.ErrProviderUnavailable, Message: "gateway is draining", Code: "draining"})
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			req.UserID = "key-" + p.KeyID()
		} else {
			req.UserID = "guest-" + uuid.NewString()[:8]
		}
	}

	spec := sessions.Spec{Room: "web-" + uuid.NewString(), Origin: call.OriginWeb}
	p := call.Params{
		From:    req.UserID,
		AgentID: strings.TrimSpace(req.AgentID),
		Speaker: cacheSpeaker{cache: h.Cache},
	}
	entry, s, _, err := h.Calls.Open(r.Context(), spec, p, req.UserID)
	if err != nil {
		h.logger().Error("web session setup failed", "error", err)
		writeError(w, r, err)
		return
	}
	h.logger().Info("web session created", "session_id", entry.ID, "room", entry.Room, "user_id", req.UserID)
	w.Header().Set("X-Session-ID", entry.ID)
	writeJSON(w, http.StatusCreated, describe(entry, s))
}

func (h CreateSessionHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// GetSessionHandler reports one session, including its room grants.
type GetSessionHandler struct {
	Registry *sessions.Registry
}

func (h GetSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := h.Registry.Lookup(id)
	if !ok {
		writeError(w, r, core.NewSessionNotFoundError(id))
		return
	}
	s, _ := e.Handle().(*CallSession)
	writeJSON(w, http.StatusOK, describe(e, s))
}

func describe(e *sessions.Entry, s *CallSession) sessionResponse {
	resp := sessionResponse{
		SessionID: e.ID,
		CallID:    e.CallID,
		Room:      e.Room,
		Origin:    e.Origin,
		CreatedAt: e.CreatedAt,
	}
	if s != nil {
		resp.Grants = s.Allocation()
		resp.Agent = s.Agent().Snapshot()
	}
	return resp
}

type speechRequest struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	UserID     string `json:"user_id"`
}

type speechResponse struct {
	Reply     string `json:"reply"`
	AudioURL  string `json:"audio_url,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Discarded bool   `json:"discarded,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// SpeechHandler runs one text turn against a session and returns the reply
// with a link to its synthesized audio.
type SpeechHandler struct {
	Config   config.Config
	Registry *sessions.Registry
	Logger   *slog.Logger
}

func (h SpeechHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("session_id is required", "session_id"))
		return
	}
	req.Transcript = strings.TrimSpace(req.Transcript)
	if req.Transcript == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("transcript is required", "transcript"))
		return
	}
	e, ok := h.Registry.Lookup(req.SessionID)
	if !ok {
		writeError(w, r, core.NewSessionNotFoundError(req.SessionID))
		return
	}
	s, ok := e.Handle().(*CallSession)
	if !ok {
		writeError(w, r, core.NewSessionNotFoundError(req.SessionID))
		return
	}
	h.Registry.Touch(req.SessionID)

	ctx := r.Context()
	if h.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.HandlerTimeout)
		defer cancel()
	}
	res, err := s.Agent().Converse(ctx, req.Transcript)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := speechResponse{
		Reply:     res.Reply,
		LatencyMs: res.Latency.Milliseconds(),
		Discarded: res.Discarded,
		Fallback:  res.Fallback,
	}
	if res.AudioRef != "" {
		resp.AudioURL = audioURL(h.Config.PublicURL, res.AudioRef)
	}
	w.Header().Set("X-Session-ID", req.SessionID)
	w.Header().Set("X-Latency-Ms", strconv.FormatInt(resp.LatencyMs, 10))
	writeJSON(w, http.StatusOK, resp)
}
