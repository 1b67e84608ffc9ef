package tts

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini speech models return 16-bit PCM at 24kHz.
const geminiPCMSampleRate = 24000

// ContentGenerator is the subset of the genai models service used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiProvider struct {
	models ContentGenerator
}

func NewGemini(models ContentGenerator) *GeminiProvider {
	return &GeminiProvider{models: models}
}

func (g *GeminiProvider) Name() string {
	return "gemini"
}

func (g *GeminiProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if g == nil || g.models == nil {
		return nil, fmt.Errorf("gemini client is not configured")
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-preview-tts"
	}
	voice := opts.Voice
	if voice == "" {
		voice = "Kore"
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: text}},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	if opts.Language != "" {
		cfg.SpeechConfig.LanguageCode = opts.Language
	}

	resp, err := g.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini synthesize: %w", err)
	}
	pcm := inlineAudio(resp)
	if pcm == nil {
		return nil, fmt.Errorf("gemini synthesize: response carried no audio")
	}
	return &Synthesis{Audio: pcm, SampleRate: geminiPCMSampleRate}, nil
}

func inlineAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		if mt := part.InlineData.MIMEType; mt != "" && !strings.HasPrefix(mt, "audio/") {
			continue
		}
		out = append(out, part.InlineData.Data...)
	}
	return out
}
