package vad

import (
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-voice/core/audio"
)

var ErrEmptyRecording = errors.New("recording captured no audio")

// Recording collects the two views of one utterance: the samples the detector
// saw and the output of the parallel recorder. Utterance is the only place
// they are reconciled.
type Recording struct {
	// ID increases with every utterance the segmenter starts.
	ID         uint64
	SampleRate int
	// Forced is set when the utterance was cut short by Commit.
	Forced bool

	mu           sync.Mutex
	samples      []float32
	recorded     []byte
	recordedMime string
}

func newRecording(id uint64, sampleRate int) *Recording {
	return &Recording{ID: id, SampleRate: sampleRate}
}

// NewRecordingFromSamples builds a recording that only carries detector
// samples.
func NewRecordingFromSamples(id uint64, samples []float32, sampleRate int) *Recording {
	r := newRecording(id, sampleRate)
	r.samples = samples
	return r
}

func (r *Recording) appendSamples(frame []float32) {
	r.mu.Lock()
	r.samples = append(r.samples, frame...)
	r.mu.Unlock()
}

// SetRecorded stores recorder output. Empty data is ignored so the detector
// samples stay the fallback.
func (r *Recording) SetRecorded(data []byte, mimeType string) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	r.recorded = data
	r.recordedMime = mimeType
	r.mu.Unlock()
}

// Samples returns the detector samples collected so far.
func (r *Recording) Samples() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Utterance resolves the recording into a sendable payload. Recorder output
// wins; otherwise the detector samples are encoded as WAV.
func (r *Recording) Utterance() (audio.Utterance, error) {
	if r == nil {
		return audio.Utterance{}, ErrEmptyRecording
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.recorded) > 0 {
		mimeType := r.recordedMime
		if mimeType == "" {
			mimeType = audio.MimeWAV
		}
		return audio.Utterance{Data: r.recorded, MimeType: mimeType, Filename: audio.FilenameFor(mimeType)}, nil
	}

	if len(r.samples) == 0 {
		return audio.Utterance{}, ErrEmptyRecording
	}

	data, err := audio.EncodeWAV(r.samples, r.SampleRate)
	if err != nil {
		return audio.Utterance{}, fmt.Errorf("failed to encode recording %d: %w", r.ID, err)
	}
	return audio.NewWAVUtterance(data), nil
}
