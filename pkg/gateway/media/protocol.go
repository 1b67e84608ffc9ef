package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/voicebridge/pkg/core"
)

// Twilio Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
	EventClear     = "clear"

	EncodingMulaw = "audio/x-mulaw"
)

// Message is one Media Streams frame in either direction.
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// DecodeMessage parses an inbound frame. Failures are malformed_message
// errors.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, core.NewMalformedMessageError("invalid media stream frame", err)
	}
	msg.Event = strings.TrimSpace(msg.Event)
	switch msg.Event {
	case EventConnected, EventDTMF:
	case EventStart:
		if msg.Start == nil {
			return Message{}, core.NewMalformedMessageError("start frame without start payload", nil)
		}
		if msg.StreamSID == "" {
			msg.StreamSID = msg.Start.StreamSID
		}
	case EventMedia:
		if msg.Media == nil {
			return Message{}, core.NewMalformedMessageError("media frame without media payload", nil)
		}
	case EventMark:
		if msg.Mark == nil {
			return Message{}, core.NewMalformedMessageError("mark frame without mark payload", nil)
		}
	case EventStop:
	case "":
		return Message{}, core.NewMalformedMessageError("frame has no event", nil)
	default:
		return Message{}, core.NewMalformedMessageError(fmt.Sprintf("unknown event %q", msg.Event), nil)
	}
	return msg, nil
}

// DecodePayload returns the raw μ-law bytes of a media frame.
func (m Message) DecodePayload() ([]byte, error) {
	if m.Media == nil {
		return nil, core.NewMalformedMessageError("not a media frame", nil)
	}
	out, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, core.NewMalformedMessageError("media payload is not base64", err)
	}
	return out, nil
}

// EncodeMedia builds an outbound media frame carrying μ-law bytes.
func EncodeMedia(streamSID string, ulaw []byte) ([]byte, error) {
	return json.Marshal(Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
}

// EncodeMark builds a mark frame; Twilio echoes it once the audio queued
// before it has played.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(Message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	})
}

// EncodeClear builds a clear frame, which drops audio Twilio has buffered.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(Message{Event: EventClear, StreamSID: streamSID})
}
