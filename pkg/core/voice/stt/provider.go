// Package stt provides speech-to-text adapters.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/vango-go/voicebridge/pkg/core/audio"
)

// Provider transcribes one finalized utterance at a time. Calls never stream
// partial results; the agent only asks once silence has closed a turn.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcript, error)
}

type TranscribeOptions struct {
	Model      string
	Language   string // BCP-47 or ISO 639-1; empty lets the vendor detect
	SampleRate int    // of the 16-bit mono PCM; 0 means telephony rate
}

type Transcript struct {
	Text     string
	Language string
	Duration float64 // seconds
}

// HTTPError is a non-2xx reply from a transcription endpoint.
type HTTPError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s stt: status %d: %s", e.Vendor, e.StatusCode, e.Body)
}

// Overloaded reports vendor throttling or a capacity outage.
func (e *HTTPError) Overloaded() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

func sampleRateOr(opts TranscribeOptions, def int) int {
	if opts.SampleRate > 0 {
		return opts.SampleRate
	}
	return def
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

// upload is one multipart transcription request: the utterance as a single
// file part plus plain fields, JSON back.
type upload struct {
	vendor   string
	url      string
	headers  map[string]string
	fileName string
	file     []byte
	fields   map[string]string
}

// utteranceFile is how the upload carries PCM: raw for vendors that take an
// encoding parameter, otherwise wrapped as WAV.
func utteranceFile(pcm []byte, rate int, raw bool) (string, []byte) {
	if raw {
		return "utterance.raw", pcm
	}
	return "utterance.wav", audio.MonoWAV(pcm, rate)
}

func (u upload) do(ctx context.Context, client *http.Client, out any) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", u.fileName)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(u.file); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	for k, v := range u.fields {
		if v == "" {
			continue
		}
		if err := form.WriteField(k, v); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range u.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", u.vendor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Vendor: u.vendor, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", u.vendor, err)
	}
	return nil
}

// transcriptBody is the response shape both HTTP vendors share.
type transcriptBody struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func (b transcriptBody) transcript() *Transcript {
	return &Transcript{
		Text:     strings.TrimSpace(b.Text),
		Language: b.Language,
		Duration: b.Duration,
	}
}
