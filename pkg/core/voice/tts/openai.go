package tts

import (
	"context"
	"net/http"
	"strings"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"

	// OpenAI returns raw PCM at a fixed 24kHz.
	openAIPCMSampleRate = 24000
)

// OpenAIProvider synthesizes through the OpenAI speech endpoint.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAI(apiKey string, client *http.Client) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    openAIBaseURL,
		httpClient: clientOrDefault(client),
	}
}

func (o *OpenAIProvider) WithBaseURL(base string) *OpenAIProvider {
	o.baseURL = trimBaseURL(base, openAIBaseURL)
	return o
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (o *OpenAIProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	req := openAISpeechRequest{
		Model:          opts.Model,
		Input:          text,
		Voice:          opts.Voice,
		ResponseFormat: "pcm",
		Speed:          opts.Speed,
	}
	if req.Model == "" {
		req.Model = "gpt-4o-mini-tts"
	}
	if req.Voice == "" {
		req.Voice = "alloy"
	}

	pcm, err := postForPCM(ctx, o.httpClient, o.Name(), o.baseURL+"/audio/speech", map[string]string{
		"Authorization": "Bearer " + o.apiKey,
	}, req)
	if err != nil {
		return nil, err
	}
	return &Synthesis{Audio: pcm, SampleRate: openAIPCMSampleRate}, nil
}
