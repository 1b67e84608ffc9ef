package stt

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	return f.resp, f.err
}

func TestGeminiTranscribe(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: " I need to reschedule. "}}},
		}},
	}}
	p := NewGemini(gen)
	out, err := p.Transcribe(context.Background(), make([]byte, 160), TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out.Text != "I need to reschedule." {
		t.Fatalf("text = %q", out.Text)
	}
	if gen.model != "gemini-2.5-flash" {
		t.Fatalf("model = %q", gen.model)
	}
	parts := gen.contents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "audio/wav" {
		t.Fatalf("parts = %+v", parts)
	}
}

func TestGeminiTranscribe_EmptyCandidates(t *testing.T) {
	p := NewGemini(&fakeGenerator{resp: &genai.GenerateContentResponse{}})
	out, err := p.Transcribe(context.Background(), nil, TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out.Text != "" {
		t.Fatalf("text = %q, want empty", out.Text)
	}
}

func TestGeminiTranscribe_Error(t *testing.T) {
	p := NewGemini(&fakeGenerator{err: errors.New("quota")})
	if _, err := p.Transcribe(context.Background(), nil, TranscribeOptions{}); err == nil {
		t.Fatal("expected error")
	}
}
