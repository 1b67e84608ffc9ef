package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voicebridge/pkg/core/audio"
)

const (
	elevenLabsWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"
	elevenLabsModel  = "eleven_flash_v2_5"
	elevenLabsWrite  = 5 * time.Second
)

// ElevenLabsProvider synthesizes one reply over the stream-input websocket:
// it opens the stream, sends the whole reply with a flush, closes input, and
// collects audio chunks until the final marker.
type ElevenLabsProvider struct {
	apiKey    string
	wsBaseURL string
	dialer    *websocket.Dialer
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:    strings.TrimSpace(apiKey),
		wsBaseURL: elevenLabsWSBase,
		dialer:    websocket.DefaultDialer,
	}
}

// WithWSBaseURL points the adapter at another stream-input endpoint. The
// base may contain a {voice_id} placeholder.
func (e *ElevenLabsProvider) WithWSBaseURL(base string) *ElevenLabsProvider {
	if base = strings.TrimSpace(base); base != "" {
		e.wsBaseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) Name() string { return "elevenlabs" }

type elevenLabsInit struct {
	Text          string                   `json:"text"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Speed float64 `json:"speed"`
}

type elevenLabsText struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush,omitempty"`
}

// elevenLabsChunk is one server message. The API has used both isFinal and
// is_final.
type elevenLabsChunk struct {
	Audio      string `json:"audio"`
	IsFinal    bool   `json:"isFinal"`
	IsFinalAlt bool   `json:"is_final"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if e.apiKey == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, errors.New("elevenlabs voice id is required")
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = audio.TelephonySampleRate
	}
	wsURL, err := buildElevenLabsWSURL(e.wsBaseURL, voiceID, opts.Model, rate)
	if err != nil {
		return nil, err
	}

	conn, _, err := e.dialer.DialContext(ctx, wsURL, http.Header{"xi-api-key": {e.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	open := elevenLabsInit{Text: " "}
	if opts.Speed > 0 {
		open.VoiceSettings = &elevenLabsVoiceSettings{Speed: opts.Speed}
	}
	reply := strings.TrimSpace(text)
	if reply != "" {
		reply += " "
	}
	// The empty text message closes the input stream.
	for _, msg := range []any{open, elevenLabsText{Text: reply, Flush: true}, elevenLabsText{}} {
		_ = conn.SetWriteDeadline(time.Now().Add(elevenLabsWrite))
		if err := conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("elevenlabs write: %w", err)
		}
	}

	var pcm []byte
	for {
		var chunk elevenLabsChunk
		if err := conn.ReadJSON(&chunk); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return nil, fmt.Errorf("elevenlabs read: %w", err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", chunk.Error, chunk.Message)
		}
		if chunk.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(chunk.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs audio chunk: %w", err)
			}
			pcm = append(pcm, data...)
		}
		if chunk.IsFinal || chunk.IsFinalAlt {
			break
		}
	}
	return &Synthesis{Audio: pcm, SampleRate: rate}, nil
}

func buildElevenLabsWSURL(base, voiceID, model string, sampleRate int) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = elevenLabsWSBase
	}
	u, err := url.Parse(strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID)))
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/text-to-speech/" + voiceID + "/stream-input"
		u.RawPath = ""
	}
	if model == "" {
		model = elevenLabsModel
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		q.Set("model_id", model)
	}
	q.Set("output_format", "pcm_"+strconv.Itoa(sampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
