package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Speaker is a mono PCM16 playback FIFO. Marks fire once the audio queued
// before them has been handed to the device.
type Speaker struct {
	sampleRate int

	mu     sync.Mutex
	device *malgo.Device

	audioMu sync.Mutex
	queued  []byte
	marks   []playbackMark
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

func (s *Speaker) init(audioContext *malgo.AllocatedContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(s.sampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(s.sampleRate / 10) // ~100ms
	config.Periods = 4

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: s.fill(bytesPerFrame),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	s.device = device
	return nil
}

func (s *Speaker) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return fmt.Errorf("playback device not initialized")
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (s *Speaker) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: s.sampleRate, Format: audio.EncodingLinear16}
}

func (s *Speaker) SendAudio(pcm []byte) error {
	s.mu.Lock()
	started := s.device != nil && s.device.IsStarted()
	s.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not started")
	}

	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	s.queued = append(s.queued, pcm...)
	return nil
}

// ClearBuffer drops queued audio. Pending marks are dropped without firing;
// the playback queue settles its own completions on flush.
func (s *Speaker) ClearBuffer() {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	s.queued = nil
	s.marks = nil
}

func (s *Speaker) Mark(name string, callback func(string)) error {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	s.marks = append(s.marks, playbackMark{name: name, position: len(s.queued), callback: callback})
	return nil
}

func (s *Speaker) fill(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		s.audioMu.Lock()
		n := copy(pOutput[:need], s.queued)
		s.queued = s.queued[n:]
		clear(pOutput[n:need])
		passed := s.advanceMarks(n)
		s.audioMu.Unlock()

		if len(passed) > 0 {
			go func() {
				for _, mark := range passed {
					if mark.callback != nil {
						mark.callback(mark.name)
					}
				}
			}()
		}
	}
}

// advanceMarks moves every mark forward by consumed bytes and returns the
// ones that have been reached. Callers hold audioMu.
func (s *Speaker) advanceMarks(consumed int) []playbackMark {
	var passed int
	for i := range s.marks {
		if s.marks[i].position <= consumed {
			passed++
			continue
		}
		s.marks[i].position -= consumed
	}
	if passed == 0 {
		return nil
	}
	reached := append([]playbackMark(nil), s.marks[:passed]...)
	s.marks = s.marks[passed:]
	return reached
}

func (s *Speaker) uninit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	s.ClearBuffer()
}
