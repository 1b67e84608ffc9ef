package audio

import (
	"encoding/binary"
	"testing"
)

func TestMulawDecodeTableEndpoints(t *testing.T) {
	cases := []struct {
		in   byte
		want int16
	}{
		{0x00, -32124},
		{0x7F, 0},
		{0x80, 32124},
		{0xFF, 0},
		{0x0F, -16764},
		{0x8F, 16764},
	}
	for _, tc := range cases {
		if got := MulawDecodeSample(tc.in); got != tc.want {
			t.Fatalf("decode(0x%02X)=%d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMulawTableIsSymmetric(t *testing.T) {
	for i := 0; i < 128; i++ {
		neg := MulawDecodeSample(byte(i))
		pos := MulawDecodeSample(byte(i + 128))
		if neg != -pos {
			t.Fatalf("entry %d: neg=%d pos=%d, want mirror", i, neg, pos)
		}
	}
}

func TestMulawEncodeDecodeRoundTripAllCodes(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		got := MulawEncodeSample(MulawDecodeSample(b))
		if b == 0x7F {
			// Negative zero re-encodes as positive zero.
			if got != 0xFF {
				t.Fatalf("encode(decode(0x7F))=0x%02X, want 0xFF", got)
			}
			continue
		}
		if got != b {
			t.Fatalf("encode(decode(0x%02X))=0x%02X", b, got)
		}
	}
}

func TestMulawEncodeMonotonic(t *testing.T) {
	prev := MulawDecodeSample(MulawEncodeSample(-32768))
	for s := -32768; s <= 32767; s += 7 {
		got := MulawDecodeSample(MulawEncodeSample(int16(s)))
		if got < prev {
			t.Fatalf("non-monotonic at %d: %d < %d", s, got, prev)
		}
		prev = got
	}
}

func TestDecodeMulawEmptyAndSilence(t *testing.T) {
	if out := DecodeMulaw(nil); len(out) != 0 {
		t.Fatalf("len=%d, want 0", len(out))
	}
	out := DecodeMulaw([]byte{MulawSilence, MulawSilence, MulawSilence})
	if len(out) != 6 {
		t.Fatalf("len=%d, want 6", len(out))
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d=%d, want 0", i, b)
		}
	}
}

func TestEncodeMulawIgnoresTrailingOddByte(t *testing.T) {
	pcm := make([]byte, 5)
	putSample(pcm, 0, 1000)
	putSample(pcm, 1, -1000)
	pcm[4] = 0x7F
	out := EncodeMulaw(pcm)
	if len(out) != 2 {
		t.Fatalf("len=%d, want 2", len(out))
	}
	back := DecodeMulaw(out)
	first := int16(binary.LittleEndian.Uint16(back[0:2]))
	second := int16(binary.LittleEndian.Uint16(back[2:4]))
	if first <= 900 || first >= 1100 {
		t.Fatalf("first=%d, want ~1000", first)
	}
	if second >= -900 || second <= -1100 {
		t.Fatalf("second=%d, want ~-1000", second)
	}
}
