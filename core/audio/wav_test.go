package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestEncodeWAVHeaderFields(t *testing.T) {
	samples := make([]float32, 16000)
	out, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(out) != 32044 {
		t.Fatalf("expected 32044 bytes, got %d", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Fatalf("expected sample rate 16000 at bytes 24-27, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 32000 {
		t.Fatalf("expected byte rate 32000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 32000 {
		t.Fatalf("expected data size 32000 at bytes 40-43, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 36+32000 {
		t.Fatalf("expected riff size %d, got %d", 36+32000, got)
	}

	header, err := DecodeWAVHeader(out)
	if err != nil {
		t.Fatalf("expected header to decode, got %v", err)
	}
	if header.AudioFormat != 1 || header.Channels != 1 || header.BitsPerSample != 16 || header.BlockAlign != 2 {
		t.Fatalf("expected mono pcm16 header, got %+v", header)
	}
}

func TestEncodeWAVClampsAsymmetrically(t *testing.T) {
	out, err := EncodeWAV([]float32{-1, 1, -2, 2, 0, 0.5, -0.5}, 8000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := []int16{-32768, 32767, -32768, 32767, 0, 16383, -16384}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out[WAVHeaderSize+2*i:]))
		if got != w {
			t.Fatalf("expected sample %d to be %d, got %d", i, w, got)
		}
	}
}

func TestEncodeWAVEmptyInput(t *testing.T) {
	out, err := EncodeWAV(nil, 16000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out) != WAVHeaderSize {
		t.Fatalf("expected header only, got %d bytes", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 0 {
		t.Fatalf("expected zero data size, got %d", got)
	}
}

func TestEncodeWAVRejectsInvalidSampleRate(t *testing.T) {
	for _, rate := range []int{0, -16000, math.MaxUint32/2 + 1, math.MaxUint32 + 1} {
		if _, err := EncodeWAV([]float32{0}, rate); !errors.Is(err, ErrInvalidSampleRate) {
			t.Fatalf("expected ErrInvalidSampleRate for rate %d, got %v", rate, err)
		}
	}
	if _, err := EncodeWAV([]float32{0}, math.MaxUint32/2); err != nil {
		t.Fatalf("expected largest representable rate to encode, got %v", err)
	}
}

func TestWrapPCM16RejectsOverflowingRates(t *testing.T) {
	if _, err := WrapPCM16([]byte{0, 0}, math.MaxUint32/4+1, 2); !errors.Is(err, ErrInvalidSampleRate) {
		t.Fatalf("expected ErrInvalidSampleRate for stereo overflow, got %v", err)
	}
	if _, err := WrapPCM16([]byte{0, 0}, 0, 1); !errors.Is(err, ErrInvalidSampleRate) {
		t.Fatalf("expected ErrInvalidSampleRate for zero rate, got %v", err)
	}
}

func TestSilentUtteranceIsHalfSecondAt16k(t *testing.T) {
	u := SilentUtterance()
	if len(u.Data) != 16044 {
		t.Fatalf("expected 16044 bytes, got %d", len(u.Data))
	}
	if u.MimeType != MimeWAV || u.Filename != "audio.wav" {
		t.Fatalf("expected wav utterance, got %q %q", u.MimeType, u.Filename)
	}
	for i, b := range u.Data[WAVHeaderSize:] {
		if b != 0 {
			t.Fatalf("expected silence, got byte %d = %d", i, b)
		}
	}
}

func TestWrapPCM16MatchesEncodeWAV(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, -1}
	encoded, _ := EncodeWAV(samples, 22050)
	wrapped, err := WrapPCM16(Float32ToPCM16(samples), 22050, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if string(encoded) != string(wrapped) {
		t.Fatalf("expected wrapped pcm to match encoded wav")
	}
}

func TestDecodeWAVHeaderRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAVHeader([]byte("not audio at all, but long enough to have a header")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
	if _, err := DecodeWAVHeader([]byte("RIFF")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV for short input, got %v", err)
	}
}

func TestEncodeWAVProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		samples := rapid.SliceOfN(rapid.Float32Range(-1.5, 1.5), 0, 2048).Draw(rt, "samples")
		rate := rapid.IntRange(1, 192000).Draw(rt, "rate")

		out, err := EncodeWAV(samples, rate)
		if err != nil {
			rt.Fatalf("expected no error, got %v", err)
		}
		if len(out) != WAVHeaderSize+2*len(samples) {
			rt.Fatalf("expected %d bytes, got %d", WAVHeaderSize+2*len(samples), len(out))
		}
		if got := binary.LittleEndian.Uint32(out[24:28]); got != uint32(rate) {
			rt.Fatalf("expected rate %d, got %d", rate, got)
		}
		if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(2*len(samples)) {
			rt.Fatalf("expected data size %d, got %d", 2*len(samples), got)
		}

		decoded := PCM16ToFloat32(out[WAVHeaderSize:])
		for i, s := range samples {
			want := math.Max(-1, math.Min(1, float64(s)))
			if diff := math.Abs(want - float64(decoded[i])); diff > 2.0/32767 {
				rt.Fatalf("sample %d: expected %f, got %f", i, want, decoded[i])
			}
		}
	})
}
