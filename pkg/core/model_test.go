package core

import (
	"strings"
	"testing"
)

func TestResolveFamily(t *testing.T) {
	cases := []struct {
		model      string
		wantFamily Family
		wantName   string
	}{
		{"gpt-4o-mini", FamilyOpenAI, "gpt-4o-mini"},
		{"openai/gpt-4.1", FamilyOpenAI, "gpt-4.1"},
		{"o3-mini", FamilyOpenAI, "o3-mini"},
		{"claude-sonnet-4-5", FamilyAnthropic, "claude-sonnet-4-5"},
		{"anthropic/claude-haiku-4-5", FamilyAnthropic, "claude-haiku-4-5"},
		{"gemini-2.5-flash", FamilyGemini, "gemini-2.5-flash"},
		{"Gemini/gemini-2.0-flash", FamilyGemini, "gemini-2.0-flash"},
		{"llama-3.1-70b", FamilyOpenAI, "llama-3.1-70b"},
		{"", FamilyOpenAI, ""},
	}
	for _, tc := range cases {
		fam, name := ResolveFamily(tc.model, FamilyOpenAI)
		if fam != tc.wantFamily || name != tc.wantName {
			t.Errorf("ResolveFamily(%q) = (%s, %q), want (%s, %q)", tc.model, fam, name, tc.wantFamily, tc.wantName)
		}
	}
}

func TestResolveFamilyUsesDefault(t *testing.T) {
	fam, _ := ResolveFamily("mystery-model", FamilyGemini)
	if fam != FamilyGemini {
		t.Fatalf("family = %s, want gemini", fam)
	}
}

func TestParseModelString(t *testing.T) {
	if _, _, err := ParseModelString("no-slash"); err == nil {
		t.Fatalf("expected error for model without provider")
	}
	p, m, err := ParseModelString("openai/gpt-4o")
	if err != nil || p != "openai" || m != "gpt-4o" {
		t.Fatalf("got (%q, %q, %v)", p, m, err)
	}
}

func TestWindowTurns(t *testing.T) {
	turns := make([]Turn, 5)
	for i := range turns {
		turns[i].Text = string(rune('a' + i))
	}
	got := WindowTurns(turns, 2)
	if len(got) != 2 || got[0].Text != "d" || got[1].Text != "e" {
		t.Fatalf("window = %+v", got)
	}
	got[0].Text = "mutated"
	if turns[3].Text != "d" {
		t.Fatalf("window aliases the source slice")
	}
	if all := WindowTurns(turns, 0); len(all) != 5 {
		t.Fatalf("len(all) = %d, want 5", len(all))
	}
}

func TestAgentConfigInstructions(t *testing.T) {
	cfg := AgentConfig{
		SystemPrompt:  "You answer calls for Acme Dental.",
		Voice:         VoiceProfile{Personality: "warm and upbeat", Accent: "British"},
		KnowledgeRefs: []string{"faq", "hours"},
	}
	got := cfg.Instructions()
	for _, want := range []string{"Acme Dental", "Personality: warm and upbeat", "British accent", "faq, hours"} {
		if !strings.Contains(got, want) {
			t.Fatalf("instructions missing %q:\n%s", want, got)
		}
	}
}

func TestAgentConfigValidate(t *testing.T) {
	if err := (AgentConfig{}).Validate(); !IsType(err, ErrInvalidRequest) {
		t.Fatalf("empty model err = %v", err)
	}
	hot := 3.0
	if err := (AgentConfig{Model: "gpt-4o", Temperature: &hot}).Validate(); err == nil {
		t.Fatalf("expected temperature error")
	}
	if err := (AgentConfig{Model: "gpt-4o"}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
