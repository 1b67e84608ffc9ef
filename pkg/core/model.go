package core

import (
	"fmt"
	"strings"
)

// Family names a vendor whose services back all three voice capabilities.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
)

// ParseModelString splits "provider/model-name".
func ParseModelString(model string) (provider string, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewInvalidRequestError(
			fmt.Sprintf("invalid model format: %q, expected 'provider/model-name'", model),
		)
	}
	return parts[0], parts[1], nil
}

// ResolveFamily maps a model identifier to its vendor family. Qualified ids
// ("gemini/gemini-2.5-flash") use their prefix; bare ids are matched by name.
// def is returned when nothing matches. The returned model name has any
// provider prefix stripped.
func ResolveFamily(model string, def Family) (Family, string) {
	model = strings.TrimSpace(model)
	if provider, name, err := ParseModelString(model); err == nil {
		switch Family(strings.ToLower(provider)) {
		case FamilyOpenAI, FamilyAnthropic, FamilyGemini:
			return Family(strings.ToLower(provider)), name
		}
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"),
		strings.HasPrefix(lower, "chatgpt"):
		return FamilyOpenAI, model
	case strings.HasPrefix(lower, "claude"):
		return FamilyAnthropic, model
	case strings.HasPrefix(lower, "gemini"):
		return FamilyGemini, model
	}
	return def, model
}
