package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is a non-2xx reply from the Messages API. Type is the API's error
// type (overloaded_error, rate_limit_error, ...) or empty when the body was
// not an error envelope.
type Error struct {
	StatusCode int
	Type       string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("anthropic: %d", e.StatusCode)
	if e.Type != "" {
		msg += " " + e.Type
	}
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg + ": " + e.Message
}

// Overloaded reports a capacity failure worth surfacing as a provider outage
// rather than a bad request.
func (e *Error) Overloaded() bool {
	return e.StatusCode == 529 || e.StatusCode == http.StatusTooManyRequests || e.Type == "overloaded_error"
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &Error{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
	}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Type == "" {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	e.Type = envelope.Error.Type
	e.Message = envelope.Error.Message
	return e
}
