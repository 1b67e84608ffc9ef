package call

import (
	"strings"
	"unicode"
)

const (
	echoMemory        = 3
	echoTrailingWords = 3
)

// genericPhrases are agent-side pleasantries and the filler transcribers
// emit for line noise. Inside the echo window they never become user turns.
var genericPhrases = phraseSet(
	"hello", "hi", "you", "thank you", "thanks", "thank you bye",
	"goodbye", "thanks for calling", "thanks for watching",
	"how can i help", "how can i help you", "one moment", "please hold",
)

func phraseSet(phrases ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		out[p] = struct{}{}
	}
	return out
}

// EchoFilter remembers the agent's last few utterances and recognizes
// transcripts that are just the agent hearing itself.
type EchoFilter struct {
	recent []string
}

// Remember records an agent utterance.
func (f *EchoFilter) Remember(text string) {
	norm := normalizeText(text)
	if norm == "" {
		return
	}
	f.recent = append(f.recent, norm)
	if len(f.recent) > echoMemory {
		f.recent = f.recent[len(f.recent)-echoMemory:]
	}
}

// IsEcho reports whether transcript matches a recent agent utterance by
// exact match, containment either way, a shared trailing run of words, or a
// generic phrase.
func (f *EchoFilter) IsEcho(transcript string) bool {
	heard := normalizeText(transcript)
	if heard == "" {
		return false
	}
	if _, ok := genericPhrases[heard]; ok {
		return true
	}
	for _, said := range f.recent {
		if heard == said {
			return true
		}
		if containsWords(said, heard) || containsWords(heard, said) {
			return true
		}
		if trailingOverlap(said, heard, echoTrailingWords) {
			return true
		}
	}
	return false
}

// containsWords is substring containment on word boundaries.
func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

func trailingOverlap(a, b string, n int) bool {
	aw := strings.Fields(a)
	bw := strings.Fields(b)
	if len(aw) < n || len(bw) < n {
		return false
	}
	return strings.Join(aw[len(aw)-n:], " ") == strings.Join(bw[len(bw)-n:], " ")
}

// normalizeText lowercases, drops punctuation and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == '\'':
		default:
			space = true
		}
	}
	return b.String()
}
