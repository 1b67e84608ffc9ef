// Package twiml renders the call-control documents returned from the Twilio
// voice webhook.
package twiml

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

const ContentType = "text/xml"

// Stream describes the media stream a call is connected to.
type Stream struct {
	// URL is the wss:// address of the media endpoint.
	URL        string
	Hold       string
	Voice      string
	Language   string
	Parameters map[string]string
}

// Connect answers the call, optionally speaks a hold message, and connects
// the call audio to the media stream.
func Connect(s Stream) (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "wss" && u.Scheme != "ws") || u.Host == "" {
		return "", fmt.Errorf("twiml: invalid stream url %q", s.URL)
	}

	var verbs []twiml.Element
	if hold := strings.TrimSpace(s.Hold); hold != "" {
		verbs = append(verbs, say(hold, s.Voice, s.Language))
	}

	params := make([]twiml.Element, 0, len(s.Parameters))
	for _, name := range sortedKeys(s.Parameters) {
		params = append(params, &twiml.VoiceParameter{Name: name, Value: s.Parameters[name]})
	}
	verbs = append(verbs, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: s.URL, InnerElements: params},
		},
	})
	return twiml.Voice(verbs)
}

// Reject speaks message and hangs up.
func Reject(message, voice, language string) (string, error) {
	var verbs []twiml.Element
	if m := strings.TrimSpace(message); m != "" {
		verbs = append(verbs, say(m, voice, language))
	}
	verbs = append(verbs, &twiml.VoiceHangup{})
	return twiml.Voice(verbs)
}

func say(text, voice, language string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: text, Voice: voice, Language: language}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
