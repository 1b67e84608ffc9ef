package handlers

import (
	"net/http"

	"github.com/vango-go/voicebridge/pkg/core"
)

// NotFoundHandler answers unknown routes with the error envelope.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, &core.Error{Type: core.ErrNotFound, Message: "no route for " + r.Method + " " + r.URL.Path})
}
