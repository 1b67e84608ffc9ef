package audio

import (
	"context"
	"time"
)

// DefaultFrameDuration is the playback length of one outbound media frame.
const DefaultFrameDuration = 20 * time.Millisecond

// FrameSize returns the number of μ-law bytes in one frame of the given
// duration at the telephony sample rate.
func FrameSize(frame time.Duration) int {
	if frame <= 0 {
		frame = DefaultFrameDuration
	}
	n := int(int64(TelephonySampleRate) * int64(frame) / int64(time.Second))
	if n <= 0 {
		return 1
	}
	return n
}

// ChunkMulaw splits μ-law audio into fixed-size frames, preserving order. The
// final partial frame is padded with μ-law silence so every frame has the
// same playback length.
func ChunkMulaw(ulaw []byte, frameSize int) [][]byte {
	if frameSize <= 0 || len(ulaw) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(ulaw)+frameSize-1)/frameSize)
	for off := 0; off < len(ulaw); off += frameSize {
		frame := make([]byte, frameSize)
		n := copy(frame, ulaw[off:])
		for i := n; i < frameSize; i++ {
			frame[i] = MulawSilence
		}
		frames = append(frames, frame)
	}
	return frames
}

// EncodeForTelephony resamples 16-bit PCM to 8 kHz, μ-law encodes it and
// splits it into frames of the given duration.
func EncodeForTelephony(pcm []byte, sampleRate int, frame time.Duration) [][]byte {
	narrow := Resample(pcm, sampleRate, TelephonySampleRate)
	return ChunkMulaw(EncodeMulaw(narrow), FrameSize(frame))
}

// Pacer spaces outbound frames so the downstream transport is never handed
// more than one frame per interval.
type Pacer struct {
	Interval time.Duration

	last time.Time
	now  func() time.Time
}

// NewPacer returns a pacer with the given inter-frame interval. A zero
// interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{Interval: interval, now: time.Now}
}

// Wait blocks until the next frame may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.Interval <= 0 {
		return ctx.Err()
	}
	now := p.now()
	if p.last.IsZero() {
		p.last = now
		return ctx.Err()
	}
	next := p.last.Add(p.Interval)
	if wait := next.Sub(now); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		p.last = next
		return nil
	}
	p.last = now
	return ctx.Err()
}
