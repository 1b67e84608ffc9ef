package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voicebridge/pkg/gateway/media"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
)

// MediaHandler accepts Twilio media stream websockets and bridges each one to
// its call session.
type MediaHandler struct {
	Registry *sessions.Registry
	Bridge   media.Config
	Logger   *slog.Logger
}

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Twilio does not send an Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := mediaUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	cfg := h.Bridge
	if cfg.Logger == nil {
		cfg.Logger = h.Logger
	}
	bridge := media.NewBridge(conn, h.lookup, cfg)
	_ = bridge.Run(r.Context())
}

func (h MediaHandler) lookup(sessionID, callID string) (media.Session, bool) {
	var (
		e  *sessions.Entry
		ok bool
	)
	if sessionID != "" {
		e, ok = h.Registry.Lookup(sessionID)
	} else {
		e, ok = h.Registry.LookupByCall(callID)
	}
	if !ok || (callID != "" && e.CallID != callID) {
		return nil, false
	}
	s, ok := e.Handle().(media.Session)
	return s, ok
}
