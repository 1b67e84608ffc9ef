package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/voicebridge/pkg/gateway/config"
)

const (
	corsAllowedMethods = "GET, POST, OPTIONS"
	corsMaxAge         = "600"
)

var corsAllowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
	apiVersionHeader,
}, ", ")

// Browsers read these off /v1/speech replies to pair audio with a session.
var corsExposedHeaders = strings.Join([]string{
	"X-Request-ID",
	"X-Session-ID",
	"X-Latency-Ms",
	"Retry-After",
}, ", ")

// originPolicy is the configured allowlist. "*" admits any origin; the API
// uses bearer keys, never cookies, so credentials are not allowed.
type originPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newOriginPolicy(origins map[string]struct{}) originPolicy {
	p := originPolicy{origins: origins}
	_, p.any = origins["*"]
	return p
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS serves browser callers of the web session API. Telephony routes are
// called server to server and never carry CORS headers.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	policy := newOriginPolicy(cfg.CORSAllowedOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/twilio/") {
			next.ServeHTTP(w, r)
			return
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if !policy.allows(origin) {
			if preflight {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if preflight {
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
		next.ServeHTTP(w, r)
	})
}
