package audio

import "testing"

func TestSampleRateFromMime(t *testing.T) {
	cases := map[string]int{
		"audio/pcm;rate=8000":     8000,
		"audio/pcm; rate=44100":   44100,
		"audio/pcm; rate = 22050": 22050,
		"audio/pcm":               DefaultReplySampleRate,
		"audio/pcm;rate=abc":      DefaultReplySampleRate,
		"audio/pcm;rate=-5":       DefaultReplySampleRate,
		"":                        DefaultReplySampleRate,
	}
	for mimeType, want := range cases {
		if got := SampleRateFromMime(mimeType, DefaultReplySampleRate); got != want {
			t.Fatalf("expected %d for %q, got %d", want, mimeType, got)
		}
	}
}

func TestMimeClassification(t *testing.T) {
	if !IsWAV("audio/x-wav") || !IsWAV("AUDIO/WAV; codecs=1") {
		t.Fatalf("expected wav variants to be recognised")
	}
	if !IsMP3("audio/mpeg") || IsMP3("audio/wav") {
		t.Fatalf("expected only mpeg to be recognised as mp3")
	}
	if got := FilenameFor("audio/webm;codecs=opus"); got != "audio.webm" {
		t.Fatalf("expected audio.webm, got %q", got)
	}
}

func TestResample(t *testing.T) {
	out, err := Resample([]float32{0, 1, 0, -1}, 8000, 16000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(out))
	}
	if out[1] != 0.5 {
		t.Fatalf("expected interpolated 0.5, got %f", out[1])
	}

	if _, err := Resample([]float32{0}, 0, 16000); err == nil {
		t.Fatalf("expected error for zero source rate")
	}
}

func TestEncodingInfoDuration(t *testing.T) {
	info := GetDefaultEncodingInfo()
	if got := info.Duration(32000); got.Seconds() != 1 {
		t.Fatalf("expected one second, got %s", got)
	}
}
