package audio

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestFrameSize(t *testing.T) {
	if got := FrameSize(20 * time.Millisecond); got != 160 {
		t.Fatalf("FrameSize(20ms)=%d, want 160", got)
	}
	if got := FrameSize(0); got != 160 {
		t.Fatalf("FrameSize(0)=%d, want default 160", got)
	}
}

func TestChunkMulawPreservesOrderAndPadsFinalFrame(t *testing.T) {
	in := make([]byte, 400)
	for i := range in {
		in[i] = byte(i % 251)
	}
	frames := ChunkMulaw(in, 160)
	if len(frames) != 3 {
		t.Fatalf("frames=%d, want 3", len(frames))
	}
	joined := bytes.Join(frames, nil)
	if !bytes.Equal(joined[:400], in) {
		t.Fatalf("frame order not preserved")
	}
	for i := 400; i < 480; i++ {
		if joined[i] != MulawSilence {
			t.Fatalf("pad byte %d=0x%02X, want silence", i, joined[i])
		}
	}
}

func TestChunkMulawEmpty(t *testing.T) {
	if frames := ChunkMulaw(nil, 160); frames != nil {
		t.Fatalf("frames=%v, want nil", frames)
	}
}

func TestEncodeForTelephonyDownsamples(t *testing.T) {
	// 100ms of 24kHz PCM -> 800 μ-law samples -> 5 frames.
	pcm := make([]byte, 2400*2)
	frames := EncodeForTelephony(pcm, 24000, 20*time.Millisecond)
	if len(frames) != 5 {
		t.Fatalf("frames=%d, want 5", len(frames))
	}
}

func TestPacerSpacesFrames(t *testing.T) {
	p := NewPacer(5 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("elapsed=%v, want >= 20ms", elapsed)
	}
}

func TestPacerHonorsCancel(t *testing.T) {
	p := NewPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}
