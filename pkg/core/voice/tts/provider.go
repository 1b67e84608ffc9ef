// Package tts provides text-to-speech adapters. Every adapter returns 16-bit
// mono little-endian PCM together with its sample rate; the media bridge
// resamples to the telephony rate.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

type SynthesizeOptions struct {
	Voice      string
	Model      string  // empty for the adapter default
	Speed      float64 // multiplier, 0 for vendor default
	Language   string
	SampleRate int // honored by vendors that let the caller choose
}

type Synthesis struct {
	Audio      []byte // 16-bit mono PCM
	SampleRate int
}

// HTTPError is a non-2xx reply from a synthesis endpoint.
type HTTPError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s tts: status %d: %s", e.Vendor, e.StatusCode, e.Body)
}

// Overloaded reports vendor throttling or a capacity outage.
func (e *HTTPError) Overloaded() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

func clientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return &http.Client{}
	}
	return c
}

func trimBaseURL(base, def string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return def
	}
	return base
}

// postForPCM sends a JSON synthesis request and returns the raw body. A 204
// is an empty utterance, not an error.
func postForPCM(ctx context.Context, client *http.Client, vendor, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", vendor, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return []byte{}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Vendor: vendor, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s audio: %w", vendor, err)
	}
	return pcm, nil
}
