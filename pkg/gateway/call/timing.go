package call

import (
	"time"

	"github.com/vango-go/voicebridge/pkg/core/audio"
)

// Timing holds the turn-taking constants. They are deployment-dependent, so
// every field is configurable; zero values take the defaults below.
type Timing struct {
	// Silence is the debounce window after the last voiced chunk.
	Silence time.Duration
	// EnergyThreshold is the RMS level (0..1) a chunk needs to count as
	// speech. Zero disables the gate.
	EnergyThreshold float64

	CooldownBase   time.Duration
	CooldownFactor float64
	CooldownMax    time.Duration
	// EchoTail extends echo suppression past the end of the cooldown.
	EchoTail time.Duration
	// PlaybackGrace is added to the audio length when the transport never
	// confirms playback.
	PlaybackGrace time.Duration

	// MaxUtterance caps one utterance; a caller who never pauses is flushed
	// when it is reached.
	MaxUtterance time.Duration
	// ConfigTimeout bounds configuration and history resolution at connect.
	ConfigTimeout time.Duration
}

const (
	DefaultSilence         = 1500 * time.Millisecond
	DefaultEnergyThreshold = 0.01
	DefaultCooldownBase    = 300 * time.Millisecond
	DefaultCooldownFactor  = 0.1
	DefaultCooldownMax     = 2 * time.Second
	DefaultEchoTail        = 1500 * time.Millisecond
	DefaultPlaybackGrace   = 750 * time.Millisecond
	DefaultMaxUtterance    = 30 * time.Second
	DefaultConfigTimeout   = 10 * time.Second
)

// DefaultTiming returns the production defaults.
func DefaultTiming() Timing {
	return Timing{
		Silence:         DefaultSilence,
		EnergyThreshold: DefaultEnergyThreshold,
		CooldownBase:    DefaultCooldownBase,
		CooldownFactor:  DefaultCooldownFactor,
		CooldownMax:     DefaultCooldownMax,
		EchoTail:        DefaultEchoTail,
		PlaybackGrace:   DefaultPlaybackGrace,
		MaxUtterance:    DefaultMaxUtterance,
		ConfigTimeout:   DefaultConfigTimeout,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.Silence <= 0 {
		t.Silence = d.Silence
	}
	if t.EnergyThreshold < 0 {
		t.EnergyThreshold = 0
	}
	if t.CooldownBase <= 0 {
		t.CooldownBase = d.CooldownBase
	}
	if t.CooldownFactor < 0 {
		t.CooldownFactor = 0
	}
	if t.CooldownMax <= 0 {
		t.CooldownMax = d.CooldownMax
	}
	if t.EchoTail < 0 {
		t.EchoTail = 0
	}
	if t.PlaybackGrace < 0 {
		t.PlaybackGrace = 0
	}
	if t.MaxUtterance <= 0 {
		t.MaxUtterance = d.MaxUtterance
	}
	if t.ConfigTimeout <= 0 {
		t.ConfigTimeout = d.ConfigTimeout
	}
	return t
}

// utteranceBytes is the PCM size of MaxUtterance at the telephony rate.
func (t Timing) utteranceBytes() int {
	samples := int64(t.MaxUtterance) * audio.TelephonySampleRate / int64(time.Second)
	return int(samples) * 2
}

// Cooldown is the delay between playback completion and listening again:
// base + factor × playback, capped at CooldownMax but never below base.
func (t Timing) Cooldown(playback time.Duration) time.Duration {
	d := t.CooldownBase + time.Duration(t.CooldownFactor*float64(playback))
	if t.CooldownMax > 0 && d > t.CooldownMax {
		d = t.CooldownMax
	}
	if d < t.CooldownBase {
		d = t.CooldownBase
	}
	return d
}

// sessionTimer is a stoppable timer whose channel is nil while inactive, so
// it can sit in a select unconditionally.
type sessionTimer struct {
	t      *time.Timer
	active bool
}

func (s *sessionTimer) C() <-chan time.Time {
	if !s.active || s.t == nil {
		return nil
	}
	return s.t.C
}

func (s *sessionTimer) Stop() {
	if s.t == nil {
		return
	}
	if !s.t.Stop() {
		select {
		case <-s.t.C:
		default:
		}
	}
	s.active = false
}

func (s *sessionTimer) Reset(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if s.t == nil {
		s.t = time.NewTimer(d)
		s.active = true
		return
	}
	s.Stop()
	s.t.Reset(d)
	s.active = true
}

// fired marks the timer inactive after its channel delivered.
func (s *sessionTimer) fired() {
	s.active = false
}
