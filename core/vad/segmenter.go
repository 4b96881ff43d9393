package vad

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-voice/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultFrameSize    = 512
	DefaultPrePadFrames = 3
)

var ErrStopped = errors.New("segmenter stopped")

// Microphone is the capture device the segmenter owns while running.
type Microphone interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// Callbacks are invoked from the capture goroutine, never while the segmenter
// holds its lock.
//
// OnSpeechAudio receives the raw linear16 input of the utterance in progress:
// the pre-padding together with the first frame right after OnSpeechStart,
// then every later frame, the last one before OnSpeechEnd. It is not called
// outside an utterance.
type Callbacks struct {
	OnSpeechStart func()
	OnSpeechAudio func(pcm []byte)
	OnSpeechEnd   func(*Recording)
	OnMisfire     func()
}

type SegmenterOption func(*Segmenter)

func WithDetector(detector Detector) SegmenterOption {
	return func(s *Segmenter) { s.detector = detector }
}

// WithRecorderFactory sets how a fresh Recorder is created per utterance. A
// nil factory disables the parallel recorder.
func WithRecorderFactory(factory func() Recorder) SegmenterOption {
	return func(s *Segmenter) { s.newRecorder = factory }
}

func WithFrameSize(samples int) SegmenterOption {
	return func(s *Segmenter) { s.frameSize = samples }
}

func WithPrePadFrames(frames int) SegmenterOption {
	return func(s *Segmenter) { s.prePadFrames = frames }
}

// Segmenter frames microphone audio, feeds a Detector, and hands finished
// utterances to its callbacks.
type Segmenter struct {
	mic          Microphone
	detector     Detector
	newRecorder  func() Recorder
	frameSize    int
	prePadFrames int

	mu        sync.Mutex
	info      audio.EncodingInfo
	callbacks Callbacks
	busy      func() bool
	running   bool
	stopped   bool

	pending     []byte
	prePad      [][]byte
	current     *Recording
	recorder    Recorder
	utteranceID uint64

	frameCounter metric.Int64Counter
}

func NewSegmenter(mic Microphone, opts ...SegmenterOption) (*Segmenter, error) {
	if mic == nil {
		return nil, errors.New("segmenter requires a microphone")
	}

	s := &Segmenter{
		mic:          mic,
		newRecorder:  func() Recorder { return NewWAVRecorder() },
		frameSize:    DefaultFrameSize,
		prePadFrames: DefaultPrePadFrames,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.frameSize <= 0 {
		return nil, &ValidationError{Field: "FrameSize", Message: "must be positive"}
	}
	if s.prePadFrames < 0 {
		return nil, &ValidationError{Field: "PrePadFrames", Message: "must be non-negative"}
	}
	if s.detector == nil {
		detector, err := NewRMSDetector(DefaultRMSParams())
		if err != nil {
			return nil, err
		}
		s.detector = detector
	}

	frameCounter, err := meter.Int64Counter("vad.frames",
		metric.WithDescription("Frames classified by the voice activity detector"))
	if err != nil {
		logger.Warn("failed to create frame counter", "error", err)
	}
	s.frameCounter = frameCounter

	return s, nil
}

// SetBusy installs a gate consulted on every frame. While it reports true,
// detector events are ignored and any utterance in progress is dropped.
func (s *Segmenter) SetBusy(busy func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// Start begins capture. Calling it while running is a no-op. Capture failures
// are returned and leave the segmenter paused; there is no retry.
func (s *Segmenter) Start(ctx context.Context, callbacks Callbacks) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.info = s.mic.EncodingInfo()
	if s.info.IsZero() {
		s.info = audio.GetDefaultEncodingInfo()
	}
	if s.info.Format != audio.EncodingLinear16 {
		s.mu.Unlock()
		return fmt.Errorf("segmenter: unsupported input format %q", s.info.Format.Name())
	}
	s.callbacks = callbacks
	s.resetLocked()
	s.running = true
	s.mu.Unlock()

	if err := s.mic.StartCapture(ctx, s.onAudio); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	return nil
}

// Pause stops capture and drops any utterance in progress. It can be followed
// by another Start.
func (s *Segmenter) Pause() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.resetLocked()
	s.mu.Unlock()

	if err := s.mic.StopCapture(); err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}
	return nil
}

// Stop pauses the segmenter for good. Repeated calls are no-ops.
func (s *Segmenter) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	return s.Pause()
}

// Commit ends the utterance in progress early and returns it, or nil when the
// user is not speaking. The detector is reset so the cut utterance produces no
// later speech end.
func (s *Segmenter) Commit() *Recording {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detector.Reset()
	if s.current == nil {
		return nil
	}

	rec := s.finishLocked()
	rec.Forced = true
	return rec
}

func (s *Segmenter) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Segmenter) onAudio(pcm []byte) {
	var fire []func()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.pending = append(s.pending, pcm...)
	frameBytes := s.frameSize * 2
	frames := 0
	for len(s.pending) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, s.pending[:frameBytes])
		s.pending = s.pending[frameBytes:]
		if f := s.processFrameLocked(frame); f != nil {
			fire = append(fire, f)
		}
		frames++
	}
	s.mu.Unlock()

	if frames > 0 && s.frameCounter != nil {
		s.frameCounter.Add(context.Background(), int64(frames),
			metric.WithAttributes(attribute.Int("frame_size", s.frameSize)))
	}
	for _, f := range fire {
		f()
	}
}

func (s *Segmenter) processFrameLocked(pcm []byte) func() {
	frame := audio.PCM16ToFloat32(pcm)

	if s.busy != nil && s.busy() {
		if s.current != nil {
			s.discardLocked()
		}
		s.detector.Reset()
		s.pushPrePadLocked(pcm)
		return nil
	}

	onSpeechAudio := s.callbacks.OnSpeechAudio
	switch s.detector.Process(frame) {
	case DecisionSpeechStart:
		started := s.beginLocked(frame, pcm)
		onStart := s.callbacks.OnSpeechStart
		return func() {
			if onStart != nil {
				onStart()
			}
			if onSpeechAudio != nil {
				onSpeechAudio(started)
			}
		}

	case DecisionSpeechEnd:
		if s.current == nil {
			return nil
		}
		s.appendLocked(frame, pcm)
		rec := s.finishLocked()
		onEnd := s.callbacks.OnSpeechEnd
		return func() {
			if onSpeechAudio != nil {
				onSpeechAudio(pcm)
			}
			if onEnd != nil {
				onEnd(rec)
			}
		}

	case DecisionMisfire:
		s.discardLocked()
		if cb := s.callbacks.OnMisfire; cb != nil {
			return cb
		}

	default:
		if s.current == nil {
			s.pushPrePadLocked(pcm)
			return nil
		}
		s.appendLocked(frame, pcm)
		if onSpeechAudio != nil {
			return func() { onSpeechAudio(pcm) }
		}
	}
	return nil
}

// beginLocked opens a new utterance seeded with the pre-padding and returns
// the raw input it starts with.
func (s *Segmenter) beginLocked(frame []float32, pcm []byte) []byte {
	s.utteranceID++
	s.current = newRecording(s.utteranceID, s.info.SampleRate)

	var started []byte
	for _, padded := range s.prePad {
		s.current.appendSamples(audio.PCM16ToFloat32(padded))
		started = append(started, padded...)
	}
	s.current.appendSamples(frame)
	started = append(started, pcm...)

	s.recorder = nil
	if s.newRecorder != nil {
		if recorder := s.newRecorder(); recorder != nil {
			if err := recorder.Begin(s.info); err != nil {
				logger.Warn("failed to start recorder, falling back to detector samples", "error", err)
			} else {
				for _, padded := range s.prePad {
					recorder.Write(padded)
				}
				recorder.Write(pcm)
				s.recorder = recorder
			}
		}
	}
	s.prePad = nil
	return started
}

func (s *Segmenter) appendLocked(frame []float32, pcm []byte) {
	s.current.appendSamples(frame)
	if s.recorder != nil {
		s.recorder.Write(pcm)
	}
}

func (s *Segmenter) finishLocked() *Recording {
	rec := s.current
	if s.recorder != nil {
		data, mimeType, err := s.recorder.Finish()
		if err != nil {
			logger.Warn("failed to finish recorder, falling back to detector samples", "error", err, "utterance", rec.ID)
		} else {
			rec.SetRecorded(data, mimeType)
		}
	}
	s.current = nil
	s.recorder = nil
	return rec
}

func (s *Segmenter) discardLocked() {
	if s.recorder != nil {
		s.recorder.Discard()
	}
	s.current = nil
	s.recorder = nil
}

func (s *Segmenter) pushPrePadLocked(pcm []byte) {
	if s.prePadFrames == 0 {
		return
	}
	s.prePad = append(s.prePad, pcm)
	if len(s.prePad) > s.prePadFrames {
		s.prePad = s.prePad[len(s.prePad)-s.prePadFrames:]
	}
}

func (s *Segmenter) resetLocked() {
	s.discardLocked()
	s.detector.Reset()
	s.pending = nil
	s.prePad = nil
}
