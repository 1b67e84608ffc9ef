package stt

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/voicebridge/pkg/core/audio"
)

const geminiTranscribePrompt = "Transcribe the speech in this audio exactly as spoken. " +
	"Reply with the transcript only. If there is no intelligible speech, reply with nothing."

// ContentGenerator is the subset of the genai models service used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider transcribes by sending the utterance to a Gemini model as
// inline audio.
type GeminiProvider struct {
	models ContentGenerator
}

// NewGemini wraps a genai client's models service.
func NewGemini(models ContentGenerator) *GeminiProvider {
	return &GeminiProvider{models: models}
}

func (g *GeminiProvider) Name() string {
	return "gemini"
}

func (g *GeminiProvider) Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcript, error) {
	if g == nil || g.models == nil {
		return nil, fmt.Errorf("gemini client is not configured")
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	prompt := geminiTranscribePrompt
	if opts.Language != "" {
		prompt += " The speaker's language is " + opts.Language + "."
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: audio.MonoWAV(pcm, sampleRateOr(opts, 8000))}},
		},
	}}
	temp := float32(0)
	resp, err := g.models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{Temperature: &temp})
	if err != nil {
		return nil, fmt.Errorf("gemini transcribe: %w", err)
	}
	return &Transcript{Text: strings.TrimSpace(responseText(resp)), Language: opts.Language}, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
