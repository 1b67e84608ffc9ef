// Package call runs the conversation for one call session: a single actor
// goroutine folds audio, timer, provider and transport events through the
// session state machine.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/core/audio"
	"github.com/vango-go/voicebridge/pkg/core/voice"
	"github.com/vango-go/voicebridge/pkg/core/voice/tts"
	"github.com/vango-go/voicebridge/pkg/gateway/callconfig"
)

const (
	OriginTelephony = "telephony"
	OriginWeb       = "web"

	ChannelVoice = "voice"

	DefaultApology = "I'm sorry, I'm having trouble right now. Could you say that again?"
	DefaultFailure = "We're sorry, this line can't take your call right now. Please try again later. Goodbye."

	ReasonConfigurationMissing = "configuration_missing"
	ReasonTransportError       = "transport_error"
	ReasonProviderFailure      = "provider_failure"
)

var (
	ErrBusy   = errors.New("a reply is already in progress")
	ErrClosed = errors.New("session closed")
)

// ConfigResolver supplies the agent configuration at connect time.
type ConfigResolver interface {
	Resolve(ctx context.Context, req callconfig.Request) (*callconfig.Result, error)
}

// ProviderResolver builds the vendor set for a configuration.
type ProviderResolver interface {
	Resolve(cfg core.AgentConfig) (*voice.VoiceProviderSet, error)
	Fallback() (*voice.VoiceProviderSet, error)
}

// Presence is the agent's view of the session registry.
type Presence interface {
	Has(id string) bool
	Touch(id string)
	Remove(id string) bool
}

// TurnLog receives every appended turn, in order.
type TurnLog interface {
	Append(threadID, channel string, turn core.Turn)
}

// CallControl ends the telephony leg out of band.
type CallControl interface {
	Hangup(ctx context.Context, callID string) error
}

// Recorder is the metrics surface the agent reports to.
type Recorder interface {
	RecordTransition(from, to string)
	RecordEchoDiscard()
	RecordSessionEnd(origin, reason string, duration time.Duration)
}

// Speaker plays synthesized speech to the caller. Play must not block for
// the length of the audio; completion is reported through PlaybackDone.
type Speaker interface {
	Play(ctx context.Context, utteranceID string, pcm []byte, sampleRate int) (ref string, err error)
	Clear()
	Close()
}

// Deps are the collaborators shared by every agent.
type Deps struct {
	Config    ConfigResolver
	Providers ProviderResolver
	Registry  Presence
	Log       TurnLog
	Control   CallControl
	Metrics   Recorder
	Logger    *slog.Logger
	Timing    Timing

	Apology string
	Failure string

	Now func() time.Time
}

// Params identify one session.
type Params struct {
	SessionID string
	CallID    string
	Room      string
	Origin    string
	From      string
	To        string
	AgentID   string
	// Speaker is attached up front when the session has no media transport
	// of its own.
	Speaker Speaker
}

// Snapshot is a copy of the agent's externally visible state.
type Snapshot struct {
	State   State             `json:"state"`
	Model   string            `json:"model,omitempty"`
	AgentID string            `json:"agent_id,omitempty"`
	Vendors map[string]string `json:"vendors,omitempty"`
	Turns   int               `json:"turns"`
}

// ConverseResult is the outcome of a text turn.
type ConverseResult struct {
	Reply     string
	AudioRef  string
	Latency   time.Duration
	Discarded bool
	Fallback  bool
}

type eventKind int

const (
	evAudio eventKind = iota
	evSpeaker
	evPlaybackDone
	evTranscript
)

type event struct {
	kind    eventKind
	pcm     []byte
	speaker Speaker
	mark    string
	text    string
	reply   chan converseOutcome
}

type converseOutcome struct {
	res ConverseResult
	err error
}

type resultKind int

const (
	resConfigured resultKind = iota
	resTranscript
	resReply
	resSpeech
)

type speechPurpose int

const (
	speechWelcome speechPurpose = iota
	speechFailure
	speechApology
	speechFallback
	speechReply
)

type result struct {
	kind    resultKind
	seq     uint64
	purpose speechPurpose

	text string
	syn  *tts.Synthesis
	err  error

	cfg       core.AgentConfig
	history   []core.Turn
	providers *voice.VoiceProviderSet
}

type pendingSpeech struct {
	text    string
	syn     *tts.Synthesis
	purpose speechPurpose
}

type webPending struct {
	reply   chan converseOutcome
	started time.Time
}

// Agent is the conversation state machine for one session.
type Agent struct {
	id      string
	params  Params
	req     callconfig.Request
	thread  string
	deps    Deps
	timing  Timing
	logger  *slog.Logger
	now     func() time.Time
	created time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	results chan result
	done    chan struct{}

	started   atomic.Bool
	closeOnce sync.Once
	reasonMu  sync.Mutex
	reason    string

	snapMu sync.Mutex
	snap   Snapshot

	// Owned by the run goroutine.
	state      State
	cfg        core.AgentConfig
	providers  *voice.VoiceProviderSet
	history    []core.Turn
	buffer     *FrameBuffer
	echo       EchoFilter
	echoUntil  time.Time
	speaker    Speaker
	pending    *pendingSpeech
	apology    *tts.Synthesis
	configured bool
	welcomeDue bool
	playingID  string
	playingDur time.Duration
	failReason string
	seq        uint64
	web        *webPending

	silence  sessionTimer
	playback sessionTimer
	cooldown sessionTimer
}

// New builds an agent in the idle state. Start must be called once the
// session is visible in the registry.
func New(p Params, deps Deps) *Agent {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Apology == "" {
		deps.Apology = DefaultApology
	}
	if deps.Failure == "" {
		deps.Failure = DefaultFailure
	}
	if p.Origin == "" {
		p.Origin = OriginTelephony
	}
	timing := deps.Timing.withDefaults()

	req := callconfig.Request{CallID: p.CallID, From: p.From, To: p.To, AgentID: p.AgentID}
	thread := req.ThreadID()
	if thread == "" {
		thread = p.Origin + ":" + p.SessionID
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		id:      p.SessionID,
		params:  p,
		req:     req,
		thread:  thread,
		deps:    deps,
		timing:  timing,
		now:     deps.Now,
		created: deps.Now(),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan event, 256),
		results: make(chan result, 16),
		done:    make(chan struct{}),
		state:   StateIdle,
		speaker: p.Speaker,
		buffer:  NewFrameBuffer(timing.utteranceBytes()),
		snap:    Snapshot{State: StateIdle},
	}
	a.logger = deps.Logger.With("session_id", p.SessionID, "call_id", p.CallID, "room", p.Room)
	return a
}

func (a *Agent) ID() string       { return a.id }
func (a *Agent) CallID() string   { return a.params.CallID }
func (a *Agent) Room() string     { return a.params.Room }
func (a *Agent) ThreadID() string { return a.thread }

// State returns the current state.
func (a *Agent) State() State {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	return a.snap.State
}

// Snapshot returns a copy of the visible state.
func (a *Agent) Snapshot() Snapshot {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	s := a.snap
	if a.snap.Vendors != nil {
		s.Vendors = make(map[string]string, len(a.snap.Vendors))
		for k, v := range a.snap.Vendors {
			s.Vendors[k] = v
		}
	}
	return s
}

// Done is closed when the agent has fully torn down.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Start moves the agent to connecting and begins resolving its
// configuration.
func (a *Agent) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	go a.run()
}

// Close ends the session and waits for teardown. It is safe to call more
// than once and from any goroutine other than the agent's own.
func (a *Agent) Close(reason string) {
	a.requestClose(reason)
	if a.started.Load() {
		<-a.done
		return
	}
	if a.deps.Registry != nil {
		a.deps.Registry.Remove(a.id)
	}
}

func (a *Agent) requestClose(reason string) {
	a.closeOnce.Do(func() {
		a.reasonMu.Lock()
		a.reason = reason
		a.reasonMu.Unlock()
		a.cancel()
	})
}

func (a *Agent) closeReason() string {
	a.reasonMu.Lock()
	defer a.reasonMu.Unlock()
	if a.reason == "" {
		return "hangup"
	}
	return a.reason
}

// HandleAudio feeds one chunk of 8 kHz PCM from the caller.
func (a *Agent) HandleAudio(pcm []byte) {
	a.send(event{kind: evAudio, pcm: pcm})
}

// AttachSpeaker connects the playback transport.
func (a *Agent) AttachSpeaker(s Speaker) {
	a.send(event{kind: evSpeaker, speaker: s})
}

// PlaybackDone reports that the utterance named mark finished playing.
func (a *Agent) PlaybackDone(mark string) {
	a.send(event{kind: evPlaybackDone, mark: mark})
}

// Converse runs one text turn and waits for the reply.
func (a *Agent) Converse(ctx context.Context, text string) (ConverseResult, error) {
	reply := make(chan converseOutcome, 1)
	if !a.send(event{kind: evTranscript, text: text, reply: reply}) {
		return ConverseResult{}, ErrClosed
	}
	select {
	case out := <-reply:
		return out.res, out.err
	case <-ctx.Done():
		return ConverseResult{}, ctx.Err()
	case <-a.done:
		return ConverseResult{}, ErrClosed
	}
}

func (a *Agent) send(ev event) bool {
	select {
	case a.events <- ev:
		return true
	case <-a.ctx.Done():
		return false
	}
}

func (a *Agent) run() {
	defer close(a.done)

	a.setState(StateConnecting)
	go a.resolve()

	for {
		select {
		case <-a.ctx.Done():
			a.teardown(a.closeReason())
			return
		case ev := <-a.events:
			a.handleEvent(ev)
		case r := <-a.results:
			a.handleResult(r)
		case <-a.silence.C():
			a.silence.fired()
			a.onSilence()
		case <-a.playback.C():
			a.playback.fired()
			a.onPlaybackDone(a.playingID)
		case <-a.cooldown.C():
			a.cooldown.fired()
			a.onCooldownDone()
		}
	}
}

func (a *Agent) resolve() {
	r := result{kind: resConfigured}
	if a.deps.Config == nil {
		r.err = core.NewConfigurationMissingError(a.params.CallID)
		a.deliver(r)
		return
	}
	ctx, cancel := context.WithTimeout(a.ctx, a.timing.ConfigTimeout)
	res, err := a.deps.Config.Resolve(ctx, a.req)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = core.NewConfigurationMissingError(a.params.CallID)
		}
		r.err = err
		a.deliver(r)
		return
	}
	r.cfg = res.Config
	r.history = res.History
	r.providers, r.err = a.deps.Providers.Resolve(res.Config)
	if r.err != nil {
		a.logger.Warn("provider set unavailable, using fallback vendors", "error", r.err)
		r.providers, r.err = a.deps.Providers.Fallback()
	}
	a.deliver(r)
}

func (a *Agent) deliver(r result) {
	select {
	case a.results <- r:
	case <-a.ctx.Done():
	}
}

func (a *Agent) handleEvent(ev event) {
	switch ev.kind {
	case evAudio:
		a.onAudio(ev.pcm)
	case evSpeaker:
		a.onSpeaker(ev.speaker)
	case evPlaybackDone:
		a.onPlaybackDone(ev.mark)
	case evTranscript:
		a.onTranscriptText(ev.text, ev.reply)
	}
}

func (a *Agent) handleResult(r result) {
	if a.deps.Registry != nil && !a.deps.Registry.Has(a.id) {
		a.logger.Debug("dropping provider result for removed session")
		return
	}
	switch r.kind {
	case resConfigured:
		a.onConfigured(r)
	case resTranscript:
		a.onTranscribed(r)
	case resReply:
		a.onReply(r)
	case resSpeech:
		a.onSpeech(r)
	}
}

func (a *Agent) onConfigured(r result) {
	if r.err != nil {
		a.failReason = ReasonConfigurationMissing
		if core.IsType(r.err, core.ErrProviderUnavailable) {
			a.failReason = ReasonProviderFailure
		}
		a.logger.Warn("call has no usable configuration", "error", r.err)
		set, err := a.deps.Providers.Fallback()
		if err != nil {
			a.logger.Error("no providers to voice the failure message", "error", err)
			a.setState(StateError)
			a.endCall(a.failReason)
			return
		}
		a.providers = set
		a.synthesize(a.deps.Failure, speechFailure)
		return
	}

	a.cfg = r.cfg
	a.providers = r.providers
	a.history = append(a.history, r.history...)
	a.configured = true
	a.updateSnap(func(s *Snapshot) {
		s.Model = r.providers.Model
		s.AgentID = r.cfg.AgentID
		s.Vendors = r.providers.Vendors()
		s.Turns = len(a.history)
	})
	a.setState(StateWaiting)

	a.synthesize(a.deps.Apology, speechApology)
	if a.cfg.WelcomeMessage != "" {
		a.welcomeDue = true
		a.synthesize(a.cfg.WelcomeMessage, speechWelcome)
		return
	}
	a.maybeListen()
}

// maybeListen leaves waiting once nothing is left to play and a transport
// is attached.
func (a *Agent) maybeListen() {
	if a.state != StateWaiting || a.welcomeDue || a.speaker == nil {
		return
	}
	a.setState(StateListening)
}

func (a *Agent) onSpeaker(s Speaker) {
	if a.speaker != nil && a.speaker != s {
		a.speaker.Close()
	}
	a.speaker = s
	if p := a.pending; p != nil {
		a.pending = nil
		a.say(p.text, p.syn, p.purpose)
		return
	}
	a.maybeListen()
}

func (a *Agent) onAudio(pcm []byte) {
	if a.deps.Registry != nil {
		a.deps.Registry.Touch(a.id)
	}
	if a.state != StateListening {
		return
	}
	if voiced(pcm, a.timing.EnergyThreshold) {
		if !a.buffer.Append(pcm) {
			a.flushFull()
			return
		}
		a.silence.Reset(a.timing.Silence)
		return
	}
	if a.buffer.Len() > 0 && !a.buffer.Append(pcm) {
		a.flushFull()
	}
}

// flushFull ends an utterance that reached MaxUtterance without a pause.
func (a *Agent) flushFull() {
	a.logger.Debug("utterance reached max length, flushing", "max", a.timing.MaxUtterance)
	a.silence.Stop()
	a.onSilence()
}

func (a *Agent) onSilence() {
	if a.state != StateListening {
		return
	}
	pcm := a.buffer.Flush()
	if len(pcm) == 0 {
		return
	}
	a.setState(StateProcessing)
	a.seq++
	seq := a.seq
	providers := a.providers
	go func() {
		text, err := providers.Transcribe(a.ctx, pcm, audio.TelephonySampleRate)
		a.deliver(result{kind: resTranscript, seq: seq, text: text, err: err})
	}()
}

func (a *Agent) onTranscribed(r result) {
	if r.seq != a.seq || a.state != StateProcessing {
		return
	}
	if r.err != nil {
		a.logger.Warn("transcription failed", "error", r.err)
		a.fallback()
		return
	}
	if r.text == "" {
		a.setState(StateListening)
		return
	}
	if a.isEcho(r.text) {
		a.logger.Debug("discarding echo", "text", r.text)
		a.setState(StateListening)
		return
	}
	a.appendTurn(core.RoleUser, r.text)
	a.generate()
}

func (a *Agent) onTranscriptText(text string, reply chan converseOutcome) {
	if !a.configured || a.state == StateProcessing || a.web != nil {
		reply <- converseOutcome{err: ErrBusy}
		return
	}
	if text == "" {
		reply <- converseOutcome{err: core.NewInvalidRequestErrorWithParam("transcript is required", "transcript")}
		return
	}
	if a.isEcho(text) {
		reply <- converseOutcome{res: ConverseResult{Discarded: true}}
		return
	}
	if a.state == StateListening {
		a.silence.Stop()
		a.buffer.Reset()
	}
	a.web = &webPending{reply: reply, started: a.now()}
	a.setState(StateProcessing)
	a.appendTurn(core.RoleUser, text)
	a.generate()
}

func (a *Agent) isEcho(text string) bool {
	inWindow := a.state == StateSpeaking || a.now().Before(a.echoUntil)
	if !inWindow || !a.echo.IsEcho(text) {
		return false
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordEchoDiscard()
	}
	return true
}

func (a *Agent) generate() {
	a.seq++
	seq := a.seq
	providers := a.providers
	history := core.WindowTurns(a.history, 0)
	system := a.cfg.Instructions()
	params := voice.ReplyParams{Temperature: a.cfg.Temperature, MaxTokens: a.cfg.MaxTokens}
	go func() {
		text, err := providers.GenerateReply(a.ctx, history, system, params)
		if err != nil {
			a.deliver(result{kind: resReply, seq: seq, err: err})
			return
		}
		syn, err := providers.Synthesize(a.ctx, text)
		a.deliver(result{kind: resReply, seq: seq, text: text, syn: syn, err: err})
	}()
}

func (a *Agent) onReply(r result) {
	if r.seq != a.seq || a.state != StateProcessing {
		return
	}
	if r.err != nil {
		a.logger.Warn("reply failed", "error", r.err)
		a.fallback()
		return
	}
	a.appendTurn(core.RoleAssistant, r.text)
	ref := a.say(r.text, r.syn, speechReply)
	a.respond(ConverseResult{Reply: r.text, AudioRef: ref}, nil)
}

// fallback voices the scripted apology. The session stays alive.
func (a *Agent) fallback() {
	if a.apology != nil {
		ref := a.say(a.deps.Apology, a.apology, speechFallback)
		a.respond(ConverseResult{Reply: a.deps.Apology, AudioRef: ref, Fallback: true}, nil)
		return
	}
	a.synthesize(a.deps.Apology, speechFallback)
}

func (a *Agent) respond(res ConverseResult, err error) {
	if a.web == nil {
		return
	}
	res.Latency = a.now().Sub(a.web.started)
	a.web.reply <- converseOutcome{res: res, err: err}
	a.web = nil
}

func (a *Agent) synthesize(text string, purpose speechPurpose) {
	providers := a.providers
	go func() {
		syn, err := providers.Synthesize(a.ctx, text)
		a.deliver(result{kind: resSpeech, purpose: purpose, text: text, syn: syn, err: err})
	}()
}

func (a *Agent) onSpeech(r result) {
	if r.err != nil {
		a.logger.Warn("speech synthesis failed", "purpose", int(r.purpose), "error", r.err)
		switch r.purpose {
		case speechWelcome:
			a.welcomeDue = false
			a.maybeListen()
		case speechFailure:
			a.setState(StateError)
			a.endCall(a.failReason)
		case speechFallback:
			a.respond(ConverseResult{}, r.err)
			if a.state == StateProcessing {
				a.setState(StateListening)
			}
		}
		return
	}
	switch r.purpose {
	case speechApology:
		a.apology = r.syn
	case speechWelcome:
		a.welcomeDue = false
		if a.state != StateWaiting {
			return
		}
		a.say(r.text, r.syn, r.purpose)
	case speechFailure:
		a.say(r.text, r.syn, r.purpose)
	case speechFallback:
		if a.state != StateProcessing {
			return
		}
		a.apology = r.syn
		ref := a.say(r.text, r.syn, r.purpose)
		a.respond(ConverseResult{Reply: r.text, AudioRef: ref, Fallback: true}, nil)
	}
}

// say hands speech to the transport and enters speaking. Without a transport
// the speech is parked until one attaches.
func (a *Agent) say(text string, syn *tts.Synthesis, purpose speechPurpose) string {
	if a.speaker == nil {
		a.pending = &pendingSpeech{text: text, syn: syn, purpose: purpose}
		return ""
	}
	id := "u_" + uuid.NewString()
	ref, err := a.speaker.Play(a.ctx, id, syn.Audio, syn.SampleRate)
	if err != nil {
		a.logger.Warn("playback failed", "error", err)
		a.setState(StateError)
		a.requestClose(ReasonTransportError)
		return ""
	}
	a.silence.Stop()
	a.cooldown.Stop()
	a.buffer.Reset()
	a.echo.Remember(text)
	a.playingID = id
	a.playingDur = audio.Duration(syn.Audio, syn.SampleRate)
	a.playback.Reset(a.playingDur + a.timing.PlaybackGrace)
	a.setState(StateSpeaking)
	return ref
}

func (a *Agent) onPlaybackDone(mark string) {
	if mark == "" || mark != a.playingID {
		return
	}
	a.playback.Stop()
	a.playingID = ""
	if a.failReason != "" {
		a.endCall(a.failReason)
		return
	}
	wait := a.timing.Cooldown(a.playingDur)
	a.echoUntil = a.now().Add(wait + a.timing.EchoTail)
	a.cooldown.Reset(wait)
}

func (a *Agent) onCooldownDone() {
	if a.state != StateSpeaking || a.playingID != "" {
		return
	}
	a.setState(StateListening)
}

// endCall hangs up the telephony leg and closes the session.
func (a *Agent) endCall(reason string) {
	if a.deps.Control != nil && a.params.CallID != "" && a.params.Origin == OriginTelephony {
		callID := a.params.CallID
		control := a.deps.Control
		logger := a.logger
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := control.Hangup(ctx, callID); err != nil {
				logger.Warn("telephony hangup failed", "error", err)
			}
		}()
	}
	a.requestClose(reason)
}

func (a *Agent) appendTurn(role core.Role, text string) {
	turn := core.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: a.now(),
		Modality:  core.ModalityVoice,
	}
	if n := len(a.history); n > 0 && turn.Timestamp.Before(a.history[n-1].Timestamp) {
		turn.Timestamp = a.history[n-1].Timestamp
	}
	a.history = append(a.history, turn)
	a.updateSnap(func(s *Snapshot) { s.Turns = len(a.history) })
	if a.deps.Log != nil {
		a.deps.Log.Append(a.thread, ChannelVoice, turn)
	}
}

func (a *Agent) teardown(reason string) {
	a.silence.Stop()
	a.playback.Stop()
	a.cooldown.Stop()
	a.buffer.Reset()
	a.respond(ConverseResult{}, ErrClosed)
	if a.speaker != nil {
		a.speaker.Clear()
		a.speaker.Close()
	}
	if a.deps.Registry != nil {
		a.deps.Registry.Remove(a.id)
	}
	a.setState(StateIdle)
	elapsed := a.now().Sub(a.created)
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordSessionEnd(a.params.Origin, reason, elapsed)
	}
	a.logger.Info("session ended", "reason", reason, "turns", len(a.history), "duration_ms", elapsed.Milliseconds())
}

func (a *Agent) setState(s State) {
	if a.state == s {
		return
	}
	from := a.state
	a.state = s
	a.updateSnap(func(sn *Snapshot) { sn.State = s })
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordTransition(string(from), string(s))
	}
	a.logger.Debug("state transition", "from", from, "to", s)
}

func (a *Agent) updateSnap(fn func(*Snapshot)) {
	a.snapMu.Lock()
	fn(&a.snap)
	a.snapMu.Unlock()
}
