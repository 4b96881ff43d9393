package audio

import (
	"encoding/binary"
	"time"
)

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 0x8000
	}
	return float32(v) / 0x7fff
}

// PCM16ToFloat32 converts little-endian 16-bit PCM to normalized floats. A
// trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return out
}

// Float32ToPCM16 is the inverse of PCM16ToFloat32, using the same clamping
// as EncodeWAV.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(floatToInt16(s)))
	}
	return out
}

// DownmixInterleaved averages interleaved channels into one.
func DownmixInterleaved(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Silence returns a zeroed buffer lasting d at sampleRate.
func Silence(d time.Duration, sampleRate int) []float32 {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if n < 0 {
		n = 0
	}
	return make([]float32, n)
}

// SamplesDuration reports how long n samples play at sampleRate.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
