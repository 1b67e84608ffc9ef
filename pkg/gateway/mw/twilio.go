package mw

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/client"

	"github.com/vango-go/voicebridge/pkg/core"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignature rejects requests whose X-Twilio-Signature does not match
// the URL and form parameters signed with authToken. publicURL, when set,
// replaces the scheme and host seen by the server, which differ from what
// Twilio signed behind a proxy.
func TwilioSignature(authToken, publicURL string, next http.Handler) http.Handler {
	validator := client.NewRequestValidator(authToken)
	publicURL = strings.TrimRight(publicURL, "/")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := RequestIDFrom(r.Context())
		sig := strings.TrimSpace(r.Header.Get(twilioSignatureHeader))
		if sig == "" {
			writeJSONError(w, http.StatusForbidden, &core.Error{
				Type:      core.ErrAuthentication,
				Message:   "missing twilio signature",
				Param:     twilioSignatureHeader,
				RequestID: reqID,
			})
			return
		}

		params := map[string]string{}
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				writeJSONError(w, http.StatusBadRequest, &core.Error{
					Type:      core.ErrInvalidRequest,
					Message:   "invalid form body",
					RequestID: reqID,
				})
				return
			}
			for k, v := range r.PostForm {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
		}

		for _, u := range signedURLs(r, publicURL) {
			if validator.Validate(u, params, sig) {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeJSONError(w, http.StatusForbidden, &core.Error{
			Type:      core.ErrAuthentication,
			Message:   "invalid twilio signature",
			Param:     twilioSignatureHeader,
			RequestID: reqID,
		})
	})
}

// signedURLs lists the URLs Twilio may have signed for r. WebSocket
// handshakes are signed with either the wss or the https form.
func signedURLs(r *http.Request, publicURL string) []string {
	base := publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
			scheme = strings.ToLower(strings.Split(proto, ",")[0])
		}
		base = scheme + "://" + r.Host
	}
	u := base + r.URL.RequestURI()
	if !websocket.IsWebSocketUpgrade(r) {
		return []string{u}
	}
	switch {
	case strings.HasPrefix(u, "https://"):
		return []string{u, "wss://" + strings.TrimPrefix(u, "https://")}
	case strings.HasPrefix(u, "http://"):
		return []string{u, "ws://" + strings.TrimPrefix(u, "http://")}
	}
	return []string{u}
}
