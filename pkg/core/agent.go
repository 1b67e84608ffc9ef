package core

import (
	"fmt"
	"strings"
)

// VoiceProfile selects and shapes the synthesized voice.
type VoiceProfile struct {
	// Vendor optionally pins the TTS vendor ("openai", "elevenlabs", "cartesia", "gemini").
	Vendor       string  `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	VoiceID      string  `json:"voice_id,omitempty" yaml:"voice_id,omitempty"`
	Personality  string  `json:"personality,omitempty" yaml:"personality,omitempty"`
	Accent       string  `json:"accent,omitempty" yaml:"accent,omitempty"`
	SpeakingRate float64 `json:"speaking_rate,omitempty" yaml:"speaking_rate,omitempty"`
}

// AgentConfig is the per-call agent setup. It is resolved once when the
// session starts and never changes afterwards.
type AgentConfig struct {
	AgentID        string       `json:"agent_id" yaml:"agent_id"`
	Model          string       `json:"model" yaml:"model"`
	SystemPrompt   string       `json:"system_prompt" yaml:"system_prompt"`
	Temperature    *float64     `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens      int          `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Voice          VoiceProfile `json:"voice" yaml:"voice"`
	WelcomeMessage string       `json:"welcome_message,omitempty" yaml:"welcome_message,omitempty"`
	Language       string       `json:"language,omitempty" yaml:"language,omitempty"`
	KnowledgeRefs  []string     `json:"knowledge_refs,omitempty" yaml:"knowledge_refs,omitempty"`
	Tools          []string     `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Validate checks the fields every call needs.
func (c AgentConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return NewInvalidRequestErrorWithParam("model is required", "model")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return NewInvalidRequestErrorWithParam("temperature must be between 0 and 2", "temperature")
	}
	if c.Voice.SpeakingRate < 0 {
		return NewInvalidRequestErrorWithParam("speaking_rate must be >= 0", "voice.speaking_rate")
	}
	return nil
}

// Instructions returns the system prompt shaped by the voice profile and
// knowledge references.
func (c AgentConfig) Instructions() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.SystemPrompt))

	add := func(line string) {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(line)
	}

	if p := strings.TrimSpace(c.Voice.Personality); p != "" {
		add("Personality: " + p)
	}
	if a := strings.TrimSpace(c.Voice.Accent); a != "" {
		add(fmt.Sprintf("Speak with a %s accent.", a))
	}
	if len(c.KnowledgeRefs) > 0 {
		add("Reference material: " + strings.Join(c.KnowledgeRefs, ", "))
	}
	add("You are speaking on a phone call. Keep replies short and conversational, and never use markdown, lists or emoji.")
	return b.String()
}
