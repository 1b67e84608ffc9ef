// Package apierror maps failures from the call pipeline onto the JSON error
// envelope and HTTP status the web API returns.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/gateway/call"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError normalizes err. Errors that are not already a *core.Error and
// not one of the pipeline's sentinels become an opaque internal error.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var out *core.Error
	switch {
	case errors.Is(err, call.ErrBusy):
		out = &core.Error{Type: core.ErrRateLimit, Message: "a reply is already in progress for this session", Code: "session_busy"}
	case errors.Is(err, call.ErrClosed), errors.Is(err, sessions.ErrClosed):
		out = &core.Error{Type: core.ErrSessionNotFound, Message: "session closed", Param: "session_id", Code: "session_closed"}
	case errors.Is(err, context.DeadlineExceeded):
		// A turn ran past the provider timeout.
		out = &core.Error{Type: core.ErrProviderUnavailable, Message: "timed out waiting for a provider", Code: "timeout"}
		return withRequestID(out, requestID), http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		out = &core.Error{Type: core.ErrAPI, Message: "request cancelled", Code: "cancelled"}
		return withRequestID(out, requestID), http.StatusRequestTimeout
	default:
		if coreErr, ok := core.AsError(err); ok {
			cp := *coreErr
			out = &cp
		} else {
			out = &core.Error{Type: core.ErrAPI, Message: "internal error"}
			return withRequestID(out, requestID), http.StatusInternalServerError
		}
	}
	return withRequestID(out, requestID), StatusFromType(out.Type)
}

func withRequestID(e *core.Error, requestID string) *core.Error {
	if requestID != "" {
		e.RequestID = requestID
	}
	return e
}

func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest, core.ErrMalformedMessage:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound, core.ErrSessionNotFound:
		return http.StatusNotFound
	case core.ErrConfigurationMissing:
		return http.StatusUnprocessableEntity
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write sends e in the envelope. A rate-limit error with RetryAfter also
// sets the Retry-After header.
func Write(w http.ResponseWriter, status int, e *core.Error) {
	if e != nil && e.RetryAfter != nil && *e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(*e.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: e})
}
