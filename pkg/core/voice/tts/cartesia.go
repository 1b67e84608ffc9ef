package tts

import (
	"context"
	"net/http"
	"strings"

	"github.com/vango-go/voicebridge/pkg/core/audio"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-3"

	// Used when neither the agent configuration nor the profile names a voice.
	defaultCartesiaVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

// CartesiaProvider uses Cartesia's bytes endpoint. Cartesia renders at any
// rate, so calls ask for the telephony rate and skip resampling.
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

type cartesiaRequest struct {
	ModelID          string               `json:"model_id"`
	Transcript       string               `json:"transcript"`
	Language         string               `json:"language,omitempty"`
	Voice            cartesiaVoice        `json:"voice"`
	OutputFormat     cartesiaOutputFormat `json:"output_format"`
	GenerationConfig *cartesiaGeneration  `json:"generation_config,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaGeneration struct {
	Speed float64 `json:"speed"`
}

func (c *CartesiaProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = audio.TelephonySampleRate
	}

	req := cartesiaRequest{
		ModelID:      opts.Model,
		Transcript:   text,
		Language:     opts.Language,
		Voice:        cartesiaVoice{Mode: "id", ID: opts.Voice},
		OutputFormat: cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: rate},
	}
	if req.ModelID == "" {
		req.ModelID = cartesiaModel
	}
	if req.Voice.ID == "" {
		req.Voice.ID = defaultCartesiaVoiceID
	}
	if opts.Speed != 0 {
		req.GenerationConfig = &cartesiaGeneration{Speed: opts.Speed}
	}

	pcm, err := postForPCM(ctx, c.httpClient, c.Name(), c.baseURL+"/tts/bytes", map[string]string{
		"Authorization":    "Bearer " + c.apiKey,
		"Cartesia-Version": cartesiaVersion,
	}, req)
	if err != nil {
		return nil, err
	}
	return &Synthesis{Audio: pcm, SampleRate: rate}, nil
}
