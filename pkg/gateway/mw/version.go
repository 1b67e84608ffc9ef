package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/voicebridge/pkg/core"
)

const (
	apiVersionHeader = "X-VoiceBridge-Version"
	apiVersion       = "1"
)

// APIVersion pins web API callers to version 1. A request without the
// header gets version 1; any other requested version is rejected. The
// served version is echoed on every /v1 response.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !strings.HasPrefix(r.URL.Path+"/", "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		for _, v := range requestedVersions(r.Header) {
			if v == apiVersion {
				continue
			}
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   "unsupported API version " + v,
				Param:     apiVersionHeader,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}

		w.Header().Set(apiVersionHeader, apiVersion)
		next.ServeHTTP(w, r)
	})
}

// requestedVersions flattens repeated and comma-separated header values.
func requestedVersions(h http.Header) []string {
	var out []string
	for _, value := range h.Values(apiVersionHeader) {
		out = append(out, strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})...)
	}
	return out
}
