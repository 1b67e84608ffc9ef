package media

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/core/audio"
	"github.com/vango-go/voicebridge/pkg/gateway/call"
	"github.com/vango-go/voicebridge/pkg/gateway/metrics"
)

const (
	DefaultMaxMalformed = 5
	DefaultReadTimeout  = 60 * time.Second

	ReasonHangup           = "hangup"
	ReasonTransportError   = "transport_error"
	ReasonMalformedMessage = "malformed_message"
	ReasonSessionNotFound  = "session_not_found"
	ReasonUnauthorized     = "unauthorized"
)

var errBridgeClosed = errors.New("media bridge closed")

// Session is the part of a call agent the bridge drives.
type Session interface {
	HandleAudio(pcm []byte)
	AttachSpeaker(s call.Speaker)
	PlaybackDone(mark string)
	Close(reason string)
}

// LookupFunc finds the session a stream belongs to.
type LookupFunc func(sessionID, callID string) (Session, bool)

type Config struct {
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
	FrameDuration time.Duration
	MaxMalformed  int
	Tokens        StreamTokens
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

type wsConn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// Bridge couples one Twilio media stream to one call session. It reads
// caller audio into the session and plays the session's speech back.
type Bridge struct {
	conn   wsConn
	cfg    Config
	lookup LookupFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	priority chan []byte
	normal   chan outboundBatch

	mu        sync.Mutex
	streamSID string
	callSID   string
	session   Session

	reason    string
	malformed int
}

func NewBridge(conn wsConn, lookup LookupFunc, cfg Config) *Bridge {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = audio.DefaultFrameDuration
	}
	if cfg.MaxMalformed <= 0 {
		cfg.MaxMalformed = DefaultMaxMalformed
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conn:     conn,
		cfg:      cfg,
		lookup:   lookup,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		priority: make(chan []byte, 4),
		normal:   make(chan outboundBatch, 8),
	}
}

// Run serves the stream until either side ends it, then closes the session
// with the reason the stream ended.
func (b *Bridge) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, b.cancel)
	defer stop()

	g, gctx := errgroup.WithContext(b.ctx)
	w := &outboundWriter{
		ws:  b.conn,
		ctx: gctx,
		cfg: writerConfig{
			PingInterval: b.cfg.PingInterval,
			WriteTimeout: b.cfg.WriteTimeout,
			FrameSpacing: b.cfg.FrameDuration,
		},
		priority: b.priority,
		normal:   b.normal,
		onFrame:  func() { b.cfg.Metrics.RecordFrames("out", 1) },
	}
	g.Go(func() error {
		defer b.conn.Close()
		return w.Run()
	})
	g.Go(func() error {
		defer b.cancel()
		return b.readLoop(gctx)
	})
	err := g.Wait()
	b.cancel()

	reason := b.reason
	if reason == "" {
		reason = ReasonHangup
		if err != nil {
			reason = ReasonTransportError
		}
	}
	if s := b.currentSession(); s != nil {
		s.Close(reason)
	}
	b.logger.Info("media stream ended", "call_id", b.callID(), "stream_sid", b.stream(), "reason", reason)
	return err
}

func (b *Bridge) readLoop(ctx context.Context) error {
	for {
		if err := b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout)); err != nil {
			b.reason = ReasonTransportError
			return core.NewTransportError(err)
		}
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.reason = ReasonHangup
				return nil
			}
			b.reason = ReasonTransportError
			return core.NewTransportError(err)
		}
		if mt != websocket.TextMessage {
			if err := b.malformedFrame(core.NewMalformedMessageError("binary frames are not supported", nil)); err != nil {
				return err
			}
			continue
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			if err := b.malformedFrame(err); err != nil {
				return err
			}
			continue
		}
		done, err := b.handle(msg)
		if err != nil || done {
			return err
		}
	}
}

func (b *Bridge) malformedFrame(err error) error {
	b.malformed++
	b.cfg.Metrics.RecordMalformedFrame()
	b.logger.Warn("dropping malformed media frame", "call_id", b.callID(), "error", err, "consecutive", b.malformed)
	if b.malformed >= b.cfg.MaxMalformed {
		b.reason = ReasonMalformedMessage
		return err
	}
	return nil
}

// handle applies one decoded frame. done reports a clean end of stream.
func (b *Bridge) handle(msg Message) (done bool, err error) {
	switch msg.Event {
	case EventConnected:
		b.logger.Debug("media stream connected", "protocol", msg.Protocol, "version", msg.Version)
	case EventStart:
		return false, b.onStart(msg)
	case EventMedia:
		return false, b.onMedia(msg)
	case EventMark:
		b.malformed = 0
		if s := b.currentSession(); s != nil {
			s.PlaybackDone(msg.Mark.Name)
		}
	case EventStop:
		b.reason = ReasonHangup
		return true, nil
	case EventDTMF:
		if msg.DTMF != nil {
			b.logger.Info("dtmf received", "call_id", b.callID(), "digit", msg.DTMF.Digit)
		}
	}
	return false, nil
}

func (b *Bridge) onStart(msg Message) error {
	if b.currentSession() != nil {
		b.logger.Warn("duplicate start frame ignored", "call_id", b.callID())
		return nil
	}
	b.malformed = 0
	start := msg.Start
	claims, err := b.cfg.Tokens.Verify(start.CustomParameters["token"], start.CallSID)
	if err != nil {
		b.reason = ReasonUnauthorized
		b.logger.Warn("media stream rejected", "call_id", start.CallSID, "error", err)
		return err
	}
	if f := start.MediaFormat; f.Encoding != "" && (f.Encoding != EncodingMulaw || f.SampleRate != audio.TelephonySampleRate) {
		b.logger.Warn("unexpected media format", "encoding", f.Encoding, "sample_rate", f.SampleRate)
	}

	sessionID := strings.TrimSpace(claims.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(start.CustomParameters["session_id"])
	}
	session, ok := b.lookup(sessionID, start.CallSID)
	if !ok {
		b.reason = ReasonSessionNotFound
		err := core.NewSessionNotFoundError(start.CallSID)
		b.logger.Warn("media stream for unknown session", "call_id", start.CallSID, "session_id", sessionID)
		return err
	}

	b.mu.Lock()
	b.streamSID = msg.StreamSID
	b.callSID = start.CallSID
	b.session = session
	b.mu.Unlock()

	b.logger.Info("media stream started", "call_id", start.CallSID, "stream_sid", msg.StreamSID, "session_id", sessionID)
	session.AttachSpeaker(b)
	return nil
}

func (b *Bridge) onMedia(msg Message) error {
	s := b.currentSession()
	if s == nil {
		return b.malformedFrame(core.NewMalformedMessageError("media frame before start", nil))
	}
	if msg.Media.Track != "" && msg.Media.Track != "inbound" {
		return nil
	}
	ulaw, err := msg.DecodePayload()
	if err != nil {
		return b.malformedFrame(err)
	}
	b.malformed = 0
	if len(ulaw) == 0 {
		return nil
	}
	b.cfg.Metrics.RecordFrames("in", 1)
	s.HandleAudio(audio.DecodeMulaw(ulaw))
	return nil
}

// Play queues pcm as μ-law frames followed by a mark named utteranceID. The
// session learns playback finished when Twilio echoes the mark.
func (b *Bridge) Play(ctx context.Context, utteranceID string, pcm []byte, sampleRate int) (string, error) {
	if b.ctx.Err() != nil {
		return "", core.NewTransportError(errBridgeClosed)
	}
	sid := b.stream()
	frames := audio.EncodeForTelephony(pcm, sampleRate, b.cfg.FrameDuration)
	batch := outboundBatch{id: utteranceID, frames: make([]outboundFrame, 0, len(frames)+1)}
	for _, f := range frames {
		payload, err := EncodeMedia(sid, f)
		if err != nil {
			return "", err
		}
		batch.frames = append(batch.frames, outboundFrame{payload: payload, paced: true})
	}
	mark, err := EncodeMark(sid, utteranceID)
	if err != nil {
		return "", err
	}
	batch.frames = append(batch.frames, outboundFrame{payload: mark})

	select {
	case b.normal <- batch:
		return utteranceID, nil
	case <-b.ctx.Done():
		return "", core.NewTransportError(errBridgeClosed)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Clear drops audio queued locally and asks Twilio to drop its buffer.
func (b *Bridge) Clear() {
	payload, err := EncodeClear(b.stream())
	if err != nil {
		return
	}
	select {
	case b.priority <- payload:
	default:
	}
}

// Close ends the stream.
func (b *Bridge) Close() { b.cancel() }

func (b *Bridge) currentSession() Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Bridge) stream() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamSID
}

func (b *Bridge) callID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callSID
}
