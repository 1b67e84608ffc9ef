package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/gateway/audiocache"
)

const AudioPathPrefix = "/v1/audio/"

// AudioHandler serves cached speech until it expires.
type AudioHandler struct {
	Cache *audiocache.Cache
	Now   func() time.Time
}

func (h AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := h.Cache.Get(id)
	if !ok {
		writeError(w, r, &core.Error{Type: core.ErrNotFound, Message: "audio not found or expired", Param: "id"})
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	maxAge := int(e.ExpiresAt.Sub(now()) / time.Second)
	if maxAge < 0 {
		maxAge = 0
	}
	w.Header().Set("Content-Type", e.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Data)))
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(maxAge))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(e.Data)
	}
}

// audioURL links to a cached clip, absolute when the public URL is known.
func audioURL(publicURL, id string) string {
	path := AudioPathPrefix + url.PathEscape(id)
	base := strings.TrimRight(strings.TrimSpace(publicURL), "/")
	if base == "" {
		return path
	}
	return base + path
}
