package audio

import (
	"math"
	"time"
)

// TelephonySampleRate is the narrowband rate of the media transport.
const TelephonySampleRate = 8000

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is 16-bit signed little-endian PCM. Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// Duration returns the playback length of mono 16-bit PCM at sampleRate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Resample converts mono 16-bit PCM between sample rates using linear
// interpolation. The input is returned unchanged when the rates match.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		return pcm
	}
	in := len(pcm) / 2
	if in == 0 {
		return []byte{}
	}

	outLen := int(int64(in) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		outLen = 1
	}
	out := make([]byte, outLen*2)
	step := float64(fromRate) / float64(toRate)

	for i := 0; i < outLen; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		a := sampleAt(pcm, idx, in)
		b := sampleAt(pcm, idx+1, in)
		v := float64(a) + (float64(b)-float64(a))*frac
		s := uint16(int16(math.Round(v)))
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func sampleAt(pcm []byte, idx, n int) int16 {
	if idx >= n {
		idx = n - 1
	}
	return int16(uint16(pcm[2*idx]) | uint16(pcm[2*idx+1])<<8)
}
