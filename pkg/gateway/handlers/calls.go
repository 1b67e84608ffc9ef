package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/voicebridge/pkg/core/audio"
	"github.com/vango-go/voicebridge/pkg/gateway/audiocache"
	"github.com/vango-go/voicebridge/pkg/gateway/call"
	"github.com/vango-go/voicebridge/pkg/gateway/rooms"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
)

const (
	roomReleaseTimeout = 5 * time.Second
	hangupTimeout      = 10 * time.Second
)

// Calls opens sessions: a room, its grants and an agent, registered under
// one session id. Telephony webhooks and the web session endpoint share it.
type Calls struct {
	Registry *sessions.Registry
	Rooms    *rooms.Manager
	// Agent is the template every agent is built from; Registry is filled
	// in per session.
	Agent   call.Deps
	Control call.CallControl
	Logger  *slog.Logger
}

// Open returns the session for spec, creating and starting it if needed.
func (c *Calls) Open(ctx context.Context, spec sessions.Spec, p call.Params, callerIdentity string) (*sessions.Entry, *CallSession, bool, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	build := func(ctx context.Context, e *sessions.Entry) (sessions.Handle, error) {
		alloc, err := c.Rooms.Open(ctx, e.Room, callerIdentity, "")
		if err != nil {
			return nil, err
		}
		p.SessionID = e.ID
		p.Room = e.Room
		p.Origin = e.Origin
		deps := c.Agent
		deps.Registry = c.Registry
		return &CallSession{
			agent:   call.New(p, deps),
			alloc:   alloc,
			rooms:   c.Rooms,
			control: c.Control,
			callID:  e.CallID,
			logger:  logger.With("session_id", e.ID, "call_id", e.CallID, "room", e.Room),
		}, nil
	}

	entry, created, err := c.Registry.GetOrCreate(ctx, spec, build)
	if err != nil {
		return nil, nil, false, err
	}
	s, _ := entry.Handle().(*CallSession)
	if created {
		s.agent.Start()
		go func() {
			<-s.agent.Done()
			s.release()
		}()
	}
	return entry, s, created, nil
}

// CallSession ties an agent to the room it was allocated. It is the
// registry handle and the media bridge's session.
type CallSession struct {
	agent   *call.Agent
	alloc   *rooms.Allocation
	rooms   *rooms.Manager
	control call.CallControl
	callID  string
	logger  *slog.Logger

	releaseOnce sync.Once
}

func (s *CallSession) Agent() *call.Agent            { return s.agent }
func (s *CallSession) Allocation() *rooms.Allocation { return s.alloc }

func (s *CallSession) HandleAudio(pcm []byte)        { s.agent.HandleAudio(pcm) }
func (s *CallSession) AttachSpeaker(sp call.Speaker) { s.agent.AttachSpeaker(sp) }
func (s *CallSession) PlaybackDone(mark string)      { s.agent.PlaybackDone(mark) }

// Close ends the session. A session that outlived the maximum call length
// also has its telephony leg hung up.
func (s *CallSession) Close(reason string) {
	if reason == sessions.ReasonMaxDuration && s.control != nil && s.callID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		if err := s.control.Hangup(ctx, s.callID); err != nil {
			s.logger.Warn("telephony hangup failed", "error", err)
		}
		cancel()
	}
	s.agent.Close(reason)
	s.release()
}

func (s *CallSession) release() {
	s.releaseOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), roomReleaseTimeout)
		defer cancel()
		if err := s.rooms.Close(ctx, s.alloc.Room); err != nil {
			s.logger.Warn("room release failed", "error", err)
		}
	})
}

// cacheSpeaker "plays" speech by parking it in the audio cache as WAV; the
// web client fetches it by id.
type cacheSpeaker struct {
	cache *audiocache.Cache
}

func (c cacheSpeaker) Play(ctx context.Context, _ string, pcm []byte, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e := c.cache.Put(audio.MonoWAV(pcm, sampleRate), "audio/wav")
	return e.ID, nil
}

func (cacheSpeaker) Clear() {}
func (cacheSpeaker) Close() {}
