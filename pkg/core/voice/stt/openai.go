package stt

import (
	"context"
	"net/http"
	"strings"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	openAIModel   = "whisper-1"
)

// OpenAIProvider transcribes through the OpenAI audio transcription endpoint,
// which needs a container format, so utterances go up as WAV.
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

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcript, error) {
	model := opts.Model
	if model == "" {
		model = openAIModel
	}
	name, file := utteranceFile(pcm, sampleRateOr(opts, 8000), false)

	var out transcriptBody
	err := upload{
		vendor:   o.Name(),
		url:      o.baseURL + "/audio/transcriptions",
		headers:  map[string]string{"Authorization": "Bearer " + o.apiKey},
		fileName: name,
		file:     file,
		fields: map[string]string{
			"model":           model,
			"response_format": "json",
			"language":        opts.Language,
		},
	}.do(ctx, o.httpClient, &out)
	if err != nil {
		return nil, err
	}
	return out.transcript(), nil
}
