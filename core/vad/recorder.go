package vad

import (
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-voice/core/audio"
)

var errRecorderNotStarted = errors.New("recorder not started")

// Recorder captures the raw input of an utterance alongside the detector.
type Recorder interface {
	Begin(info audio.EncodingInfo) error
	Write(pcm []byte)
	// Finish ends the recording and returns the encoded clip and its mime type.
	Finish() ([]byte, string, error)
	Discard()
}

// WAVRecorder buffers linear16 input and wraps it in a WAV header.
type WAVRecorder struct {
	mu      sync.Mutex
	info    audio.EncodingInfo
	started bool
	pcm     []byte
}

func NewWAVRecorder() *WAVRecorder { return &WAVRecorder{} }

func (r *WAVRecorder) Begin(info audio.EncodingInfo) error {
	if info.Format != audio.EncodingLinear16 {
		return fmt.Errorf("wav recorder: unsupported format %q", info.Format.Name())
	}
	if info.SampleRate <= 0 {
		return fmt.Errorf("wav recorder: %w", audio.ErrInvalidSampleRate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
	r.started = true
	r.pcm = r.pcm[:0]
	return nil
}

func (r *WAVRecorder) Write(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.pcm = append(r.pcm, pcm...)
	}
}

func (r *WAVRecorder) Finish() ([]byte, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, "", errRecorderNotStarted
	}
	r.started = false

	if len(r.pcm) == 0 {
		return nil, "", nil
	}
	data, err := audio.WrapPCM16(r.pcm, r.info.SampleRate, 1)
	r.pcm = nil
	if err != nil {
		return nil, "", err
	}
	return data, audio.MimeWAV, nil
}

func (r *WAVRecorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	r.pcm = nil
}
