package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vango-go/voicebridge/pkg/core/voice"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is anything readiness should check, such as the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Store     Pinger
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining,omitempty"`
		AuthMode string   `json:"auth_mode"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.TwilioValidateSignatures && h.Config.TwilioAuthToken == "" {
		issues = append(issues, "twilio signature validation enabled without an auth token")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	creds := credentialsFrom(h.Config).Status()
	if !creds["openai"] && !creds["anthropic"] && !creds["gemini"] {
		issues = append(issues, "no language model credentials configured")
	}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "store unreachable")
		}
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:       ok,
		Draining: draining,
		AuthMode: string(h.Config.AuthMode),
		Issues:   issues,
	})
}

// StatusHandler reports active sessions and which vendor credentials are
// present. It never reveals the credentials themselves.
type StatusHandler struct {
	Config    config.Config
	Registry  *sessions.Registry
	Lifecycle *lifecycle.Lifecycle
	Rooms     string
	StartedAt time.Time
	Version   string
}

type StatusResponse struct {
	Status         string          `json:"status"`
	DrainingSince  *time.Time      `json:"draining_since,omitempty"`
	Version        string          `json:"version,omitempty"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	ActiveSessions int             `json:"active_sessions"`
	Sessions       []sessions.Info `json:"sessions"`
	Providers      map[string]bool `json:"providers"`
	Telephony      bool            `json:"telephony"`
	Rooms          string          `json:"rooms,omitempty"`
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	var since *time.Time
	if h.Lifecycle.IsDraining() {
		status = "draining"
		t := h.Lifecycle.DrainingSince().UTC()
		since = &t
	}
	var uptime int64
	if !h.StartedAt.IsZero() {
		uptime = int64(time.Since(h.StartedAt) / time.Second)
	}
	list := h.Registry.List()
	if list == nil {
		list = []sessions.Info{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         status,
		DrainingSince:  since,
		Version:        h.Version,
		UptimeSeconds:  uptime,
		ActiveSessions: len(list),
		Sessions:       list,
		Providers:      credentialsFrom(h.Config).Status(),
		Telephony:      h.Config.TwilioAccountSID != "" && h.Config.TwilioAuthToken != "",
		Rooms:          h.Rooms,
	})
}

func credentialsFrom(cfg config.Config) voice.Credentials {
	return voice.Credentials{
		OpenAI:     cfg.OpenAIAPIKey,
		Anthropic:  cfg.AnthropicAPIKey,
		Gemini:     cfg.GeminiAPIKey,
		Cartesia:   cfg.CartesiaAPIKey,
		ElevenLabs: cfg.ElevenLabsAPIKey,
	}
}
