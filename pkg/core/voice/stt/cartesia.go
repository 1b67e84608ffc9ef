package stt

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "ink-whisper"
)

// CartesiaProvider uses Cartesia's batch transcription endpoint. It takes
// raw PCM, so utterances are sent without a WAV header.
type CartesiaProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, nil)
}

func NewCartesiaWithClient(apiKey string, client *http.Client) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    cartesiaBaseURL,
		httpClient: clientOrDefault(client),
	}
}

func (c *CartesiaProvider) WithBaseURL(base string) *CartesiaProvider {
	c.baseURL = trimBaseURL(base, cartesiaBaseURL)
	return c
}

func (c *CartesiaProvider) Name() string { return "cartesia" }

func (c *CartesiaProvider) Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcript, error) {
	rate := sampleRateOr(opts, 8000)
	query := url.Values{
		"encoding":    {"pcm_s16le"},
		"sample_rate": {strconv.Itoa(rate)},
	}
	model := opts.Model
	if model == "" {
		model = cartesiaModel
	}
	name, file := utteranceFile(pcm, rate, true)

	var out transcriptBody
	err := upload{
		vendor: c.Name(),
		url:    c.baseURL + "/stt?" + query.Encode(),
		headers: map[string]string{
			"Authorization":    "Bearer " + c.apiKey,
			"Cartesia-Version": cartesiaVersion,
		},
		fileName: name,
		file:     file,
		fields:   map[string]string{"model": model, "language": opts.Language},
	}.do(ctx, c.httpClient, &out)
	if err != nil {
		return nil, err
	}
	return out.transcript(), nil
}
