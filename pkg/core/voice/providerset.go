// Package voice composes the speech-to-text, reply and text-to-speech
// adapters a call uses into one VoiceProviderSet.
package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/core/providers/anthropic"
	"github.com/vango-go/voicebridge/pkg/core/providers/gemini"
	"github.com/vango-go/voicebridge/pkg/core/providers/openai"
	"github.com/vango-go/voicebridge/pkg/core/voice/stt"
	"github.com/vango-go/voicebridge/pkg/core/voice/tts"
)

const (
	CapabilitySTT = "stt"
	CapabilityLLM = "llm"
	CapabilityTTS = "tts"

	DefaultProviderTimeout = 30 * time.Second
	DefaultHistoryWindow   = 20
)

var tracer trace.Tracer = otel.Tracer("github.com/vango-go/voicebridge/pkg/core/voice")

// Observer receives one callback per adapter call.
type Observer interface {
	ObserveProvider(capability, vendor string, elapsed time.Duration, err error)
}

// Credentials holds the vendor API keys available to the process.
type Credentials struct {
	OpenAI     string
	Anthropic  string
	Gemini     string
	Cartesia   string
	ElevenLabs string
}

// Status reports which vendor credentials are configured.
func (c Credentials) Status() map[string]bool {
	return map[string]bool{
		"openai":     strings.TrimSpace(c.OpenAI) != "",
		"anthropic":  strings.TrimSpace(c.Anthropic) != "",
		"gemini":     strings.TrimSpace(c.Gemini) != "",
		"cartesia":   strings.TrimSpace(c.Cartesia) != "",
		"elevenlabs": strings.TrimSpace(c.ElevenLabs) != "",
	}
}

func (c Credentials) has(vendor string) bool {
	return c.Status()[vendor]
}

// Options are the per-set call bounds.
type Options struct {
	Timeout       time.Duration
	HistoryWindow int
	Observer      Observer
}

// VoiceProviderSet is the vendor strategy for one call. It is resolved once
// when the session starts; every adapter failure leaving it is a
// provider_unavailable *core.Error.
type VoiceProviderSet struct {
	Family core.Family
	Model  string

	STT stt.Provider
	LLM core.ReplyProvider
	TTS tts.Provider

	SynthDefaults tts.SynthesizeOptions
	Language      string

	opts Options
}

// NewSet assembles a set from explicit adapters.
func NewSet(family core.Family, model string, s stt.Provider, l core.ReplyProvider, t tts.Provider, opts Options) *VoiceProviderSet {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProviderTimeout
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	return &VoiceProviderSet{
		Family: family,
		Model:  model,
		STT:    s,
		LLM:    l,
		TTS:    t,
		opts:   opts,
	}
}

// ReplyParams are the model parameters for one reply.
type ReplyParams struct {
	Temperature *float64
	MaxTokens   int
}

// Transcribe converts one finalized utterance to text.
func (s *VoiceProviderSet) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	var text string
	err := s.call(ctx, CapabilitySTT, s.STT.Name(), func(ctx context.Context) error {
		out, err := s.STT.Transcribe(ctx, pcm, stt.TranscribeOptions{
			Language:   s.Language,
			SampleRate: sampleRate,
		})
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out.Text)
		return nil
	})
	return text, err
}

// GenerateReply produces the assistant's next utterance from the last
// HistoryWindow turns.
func (s *VoiceProviderSet) GenerateReply(ctx context.Context, history []core.Turn, system string, params ReplyParams) (string, error) {
	var text string
	err := s.call(ctx, CapabilityLLM, s.LLM.Name(), func(ctx context.Context) error {
		out, err := s.LLM.GenerateReply(ctx, &core.ReplyRequest{
			Model:       s.Model,
			System:      system,
			History:     core.WindowTurns(history, s.opts.HistoryWindow),
			Temperature: params.Temperature,
			MaxTokens:   params.MaxTokens,
		})
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out.Text)
		if text == "" {
			return fmt.Errorf("empty reply")
		}
		return nil
	})
	return text, err
}

// Synthesize renders text to PCM with the call's voice.
func (s *VoiceProviderSet) Synthesize(ctx context.Context, text string) (*tts.Synthesis, error) {
	var out *tts.Synthesis
	err := s.call(ctx, CapabilityTTS, s.TTS.Name(), func(ctx context.Context) error {
		syn, err := s.TTS.Synthesize(ctx, text, s.SynthDefaults)
		if err != nil {
			return err
		}
		if syn == nil || len(syn.Audio) == 0 {
			return fmt.Errorf("empty audio")
		}
		out = syn
		return nil
	})
	return out, err
}

// Vendors names the vendor behind each capability.
func (s *VoiceProviderSet) Vendors() map[string]string {
	return map[string]string{
		CapabilitySTT: s.STT.Name(),
		CapabilityLLM: s.LLM.Name(),
		CapabilityTTS: s.TTS.Name(),
	}
}

func (s *VoiceProviderSet) call(ctx context.Context, capability, vendor string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, capability+"."+vendor, trace.WithAttributes(
		attribute.String("voice.capability", capability),
		attribute.String("voice.vendor", vendor),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveProvider(capability, vendor, time.Since(start), err)
	}
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if ce, ok := core.AsError(err); ok && ce.Type == core.ErrProviderUnavailable {
		return ce
	}
	ce := core.NewProviderUnavailableError(vendor, err)
	var capacity interface{ Overloaded() bool }
	if errors.As(err, &capacity) && capacity.Overloaded() {
		ce.Code = "overloaded"
	}
	return ce
}

// Factory resolves a VoiceProviderSet from an agent configuration.
type Factory struct {
	Credentials   Credentials
	DefaultFamily core.Family
	DefaultModel  string
	HTTPClient    *http.Client

	// Gemini is the genai models service (client.Models); nil disables the family.
	Gemini gemini.ContentGenerator

	Options Options
}

var defaultModels = map[core.Family]string{
	core.FamilyOpenAI:    "gpt-4o-mini",
	core.FamilyAnthropic: "claude-haiku-4-5",
	core.FamilyGemini:    "gemini-2.5-flash",
}

// Resolve picks the vendor family from cfg.Model (falling back to the default
// family) and wires all three capabilities. The voice profile vendor, when
// set and credentialed, overrides the TTS vendor.
func (f *Factory) Resolve(cfg core.AgentConfig) (*VoiceProviderSet, error) {
	def := f.DefaultFamily
	if def == "" {
		def = core.FamilyOpenAI
	}
	model := cfg.Model
	if strings.TrimSpace(model) == "" {
		model = f.DefaultModel
	}
	family, name := core.ResolveFamily(model, def)
	if name == "" {
		name = defaultModels[family]
	}

	llm, err := f.replyProvider(family)
	if err != nil {
		return nil, err
	}
	s, err := f.sttProvider(family)
	if err != nil {
		return nil, err
	}
	ttsVendor := f.ttsVendor(family, cfg.Voice)
	t, err := f.ttsProvider(ttsVendor)
	if err != nil {
		return nil, err
	}

	set := NewSet(family, name, s, llm, t, f.Options)
	set.Language = cfg.Language
	set.SynthDefaults = tts.SynthesizeOptions{
		Voice:    voiceFor(ttsVendor, cfg.Voice),
		Speed:    cfg.Voice.SpeakingRate,
		Language: cfg.Language,
	}
	return set, nil
}

// Fallback resolves the default family with no agent-specific settings. It
// voices failure messages when a call has no usable configuration.
func (f *Factory) Fallback() (*VoiceProviderSet, error) {
	return f.Resolve(core.AgentConfig{})
}

func (f *Factory) replyProvider(family core.Family) (core.ReplyProvider, error) {
	switch family {
	case core.FamilyOpenAI:
		if !f.Credentials.has("openai") {
			return nil, missing("openai", CapabilityLLM)
		}
		return openai.New(f.Credentials.OpenAI, openai.WithHTTPClient(f.HTTPClient)), nil
	case core.FamilyAnthropic:
		if !f.Credentials.has("anthropic") {
			return nil, missing("anthropic", CapabilityLLM)
		}
		return anthropic.New(f.Credentials.Anthropic, anthropic.WithHTTPClient(f.HTTPClient)), nil
	case core.FamilyGemini:
		if f.Gemini == nil {
			return nil, missing("gemini", CapabilityLLM)
		}
		return gemini.New(f.Gemini), nil
	}
	return nil, missing(string(family), CapabilityLLM)
}

// sttProvider prefers the family's own service. Anthropic has no speech
// recognition, so those calls use the first credentialed transcriber.
func (f *Factory) sttProvider(family core.Family) (stt.Provider, error) {
	order := []string{string(family)}
	if family == core.FamilyAnthropic {
		order = []string{"cartesia", "openai", "gemini"}
	}
	for _, vendor := range order {
		switch vendor {
		case "openai":
			if f.Credentials.has("openai") {
				return stt.NewOpenAI(f.Credentials.OpenAI, f.HTTPClient), nil
			}
		case "gemini":
			if f.Gemini != nil {
				return stt.NewGemini(f.Gemini), nil
			}
		case "cartesia":
			if f.Credentials.has("cartesia") {
				return stt.NewCartesiaWithClient(f.Credentials.Cartesia, f.HTTPClient), nil
			}
		}
	}
	return nil, missing(string(family), CapabilitySTT)
}

func (f *Factory) ttsVendor(family core.Family, voice core.VoiceProfile) string {
	if v := strings.ToLower(strings.TrimSpace(voice.Vendor)); v != "" && f.ttsAvailable(v) {
		return v
	}
	switch family {
	case core.FamilyOpenAI:
		return "openai"
	case core.FamilyGemini:
		return "gemini"
	}
	for _, v := range []string{"elevenlabs", "cartesia", "openai", "gemini"} {
		if f.ttsAvailable(v) {
			return v
		}
	}
	return "elevenlabs"
}

func (f *Factory) ttsAvailable(vendor string) bool {
	if vendor == "gemini" {
		return f.Gemini != nil
	}
	return f.Credentials.has(vendor)
}

func (f *Factory) ttsProvider(vendor string) (tts.Provider, error) {
	if !f.ttsAvailable(vendor) {
		return nil, missing(vendor, CapabilityTTS)
	}
	switch vendor {
	case "openai":
		return tts.NewOpenAI(f.Credentials.OpenAI, f.HTTPClient), nil
	case "gemini":
		return tts.NewGemini(f.Gemini), nil
	case "cartesia":
		return tts.NewCartesiaWithClient(f.Credentials.Cartesia, f.HTTPClient), nil
	case "elevenlabs":
		return tts.NewElevenLabs(f.Credentials.ElevenLabs), nil
	}
	return nil, missing(vendor, CapabilityTTS)
}

var defaultVoices = map[string]string{
	"openai":     "alloy",
	"gemini":     "Kore",
	"elevenlabs": "21m00Tcm4TlvDq8ikWAM",
}

// voiceFor keeps the profile's voice id only when it belongs to the chosen
// vendor; a pinned vendor that was unavailable falls back to that vendor's
// default voice.
func voiceFor(vendor string, profile core.VoiceProfile) string {
	pinned := strings.ToLower(strings.TrimSpace(profile.Vendor))
	if profile.VoiceID != "" && (pinned == "" || pinned == vendor) {
		return profile.VoiceID
	}
	return defaultVoices[vendor]
}

func missing(vendor, capability string) *core.Error {
	return core.NewProviderUnavailableError(vendor, fmt.Errorf("no credentials configured for %s", capability))
}
