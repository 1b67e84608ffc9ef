package call

import (
	"sync"
	"time"

	"github.com/vango-go/voicebridge/pkg/core/audio"
)

// FrameBuffer accumulates the PCM frames of the current inbound utterance.
type FrameBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	size     int
	maxBytes int
}

// NewFrameBuffer caps the utterance at maxBytes; frames past the cap are
// dropped. maxBytes <= 0 means unbounded.
func NewFrameBuffer(maxBytes int) *FrameBuffer {
	return &FrameBuffer{maxBytes: maxBytes}
}

// Append adds a copy of pcm. It reports false when the frame was dropped.
func (b *FrameBuffer) Append(pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxBytes > 0 && b.size+len(pcm) > b.maxBytes {
		return false
	}
	b.frames = append(b.frames, append([]byte(nil), pcm...))
	b.size += len(pcm)
	return true
}

func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Duration is the buffered audio length at sampleRate.
func (b *FrameBuffer) Duration(sampleRate int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.size/2) * time.Second / time.Duration(max(sampleRate, 1))
}

// Flush returns the buffered frames joined in arrival order and empties the
// buffer in the same critical section.
func (b *FrameBuffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, f := range b.frames {
		out = append(out, f...)
	}
	b.frames = nil
	b.size = 0
	return out
}

// Reset discards the buffered frames.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	b.frames = nil
	b.size = 0
	b.mu.Unlock()
}

// voiced applies the energy gate. A zero threshold treats every chunk as speech.
func voiced(pcm []byte, threshold float64) bool {
	if threshold <= 0 {
		return len(pcm) > 0
	}
	return audio.CalculateRMSEnergy(pcm) >= threshold
}
