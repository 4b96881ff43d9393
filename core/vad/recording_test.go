package vad

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-voice/core/audio"
)

func TestRecordingPrefersRecorderOutput(t *testing.T) {
	rec := NewRecordingFromSamples(7, []float32{0.1, 0.2}, 16000)
	rec.SetRecorded([]byte("webm-bytes"), audio.MimeWebM)

	utterance, err := rec.Utterance()
	if err != nil {
		t.Fatalf("expected utterance, got %v", err)
	}
	if string(utterance.Data) != "webm-bytes" {
		t.Fatalf("expected recorder data, got %q", utterance.Data)
	}
	if utterance.Filename != "audio.webm" {
		t.Fatalf("expected audio.webm, got %q", utterance.Filename)
	}
}

func TestRecordingIgnoresEmptyRecorderOutput(t *testing.T) {
	rec := NewRecordingFromSamples(1, []float32{0.1, 0.2}, 8000)
	rec.SetRecorded(nil, audio.MimeWebM)

	utterance, err := rec.Utterance()
	if err != nil {
		t.Fatalf("expected utterance, got %v", err)
	}
	if utterance.MimeType != audio.MimeWAV || len(utterance.Data) != audio.WAVHeaderSize+4 {
		t.Fatalf("expected encoded detector samples, got %q with %d bytes", utterance.MimeType, len(utterance.Data))
	}
}

func TestRecordingWithoutAudioIsAnError(t *testing.T) {
	if _, err := NewRecordingFromSamples(1, nil, 16000).Utterance(); !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("expected ErrEmptyRecording, got %v", err)
	}

	var rec *Recording
	if _, err := rec.Utterance(); !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("expected ErrEmptyRecording for nil recording, got %v", err)
	}
}

func TestRMSDetectorHysteresis(t *testing.T) {
	params := DefaultRMSParams()
	params.RedemptionFrames = 2
	params.MinSpeechFrames = 1
	detector, err := NewRMSDetector(params)
	if err != nil {
		t.Fatalf("expected detector, got %v", err)
	}

	// between the thresholds: neither sustains nor ends speech
	inBetween := []float32{0.04, -0.04, 0.04, -0.04}

	if got := detector.Process(loudFrame()); got != DecisionSpeechStart {
		t.Fatalf("expected speech start, got %s", got)
	}
	for range 5 {
		if got := detector.Process(inBetween); got != DecisionNone {
			t.Fatalf("expected in-between frame to keep speech going, got %s", got)
		}
	}
	detector.Process(quietFrame())
	if got := detector.Process(quietFrame()); got != DecisionSpeechEnd {
		t.Fatalf("expected speech end after redemption frames, got %s", got)
	}
}

func TestRMSParamsValidate(t *testing.T) {
	params := DefaultRMSParams()
	params.NegativeThreshold = 0.9
	var validationErr *ValidationError
	if _, err := NewRMSDetector(params); !errors.As(err, &validationErr) || validationErr.Field != "NegativeThreshold" {
		t.Fatalf("expected NegativeThreshold validation error, got %v", err)
	}
}
