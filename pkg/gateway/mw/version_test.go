package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/voicebridge/pkg/core"
)

func TestAPIVersion(t *testing.T) {
	cases := []struct {
		name       string
		method     string
		path       string
		headers    []string
		wantStatus int
		wantEcho   bool
	}{
		{"absent defaults to v1", http.MethodPost, "/v1/speech", nil, http.StatusNoContent, true},
		{"explicit v1", http.MethodPost, "/v1/speech", []string{"1"}, http.StatusNoContent, true},
		{"duplicates and spaces", http.MethodGet, "/v1/status", []string{" 1 , 1", "1"}, http.StatusNoContent, true},
		{"unsupported", http.MethodPost, "/v1/sessions", []string{"2"}, http.StatusBadRequest, false},
		{"mixed", http.MethodPost, "/v1/sessions", []string{"1", "2"}, http.StatusBadRequest, false},
		{"telephony bypass", http.MethodPost, "/twilio/voice", []string{"9"}, http.StatusNoContent, false},
		{"v1 prefix lookalike", http.MethodGet, "/v10/status", []string{"9"}, http.StatusNoContent, false},
		{"options bypass", http.MethodOptions, "/v1/speech", []string{"9"}, http.StatusNoContent, false},
	}

	h := APIVersion(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for _, v := range tc.headers {
				req.Header.Add(apiVersionHeader, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status=%d, want %d body=%s", rr.Code, tc.wantStatus, rr.Body.String())
			}
			if echoed := rr.Header().Get(apiVersionHeader) == apiVersion; echoed != tc.wantEcho {
				t.Fatalf("echoed=%v, want %v", echoed, tc.wantEcho)
			}
		})
	}
}

func TestAPIVersion_RejectionEnvelope(t *testing.T) {
	h := RequestID(APIVersion(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler reached")
	})))
	req := httptest.NewRequest(http.MethodPost, "/v1/speech", nil)
	req.Header.Set(apiVersionHeader, "2024-01-01")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Code != "unsupported_version" || env.Error.Param != apiVersionHeader || env.Error.RequestID == "" {
		t.Fatalf("error=%+v", env.Error)
	}
}
