package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Microphone is a mono PCM16 capture device.
type Microphone struct {
	sampleRate int

	mu      sync.Mutex
	device  *malgo.Device
	onAudio func(audio []byte)
}

func (m *Microphone) init(audioContext *malgo.AllocatedContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(m.sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = 480
	config.Periods = 3

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			m.mu.Lock()
			onAudio := m.onAudio
			m.mu.Unlock()
			if onAudio != nil {
				// malgo reuses its buffer once the callback returns
				chunk := make([]byte, n)
				copy(chunk, pInput[:n])
				onAudio(chunk)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	m.device = device
	return nil
}

func (m *Microphone) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: m.sampleRate, Format: audio.EncodingLinear16}
}

// StartCapture starts delivering PCM chunks to onAudio. Starting an already
// running microphone only swaps the callback.
func (m *Microphone) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	m.onAudio = onAudio
	if m.device.IsStarted() {
		return nil
	}

	if err := m.device.Start(); err != nil {
		m.onAudio = nil
		return fmt.Errorf("failed to start capture device: %w", classifyDeviceError(err))
	}
	logger.Info("microphone started", "sample_rate", m.sampleRate)
	return nil
}

func (m *Microphone) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAudio = nil
	if m.device == nil || !m.device.IsStarted() {
		return nil
	}

	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	logger.Info("microphone stopped")
	return nil
}

func (m *Microphone) uninit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	m.onAudio = nil
}
