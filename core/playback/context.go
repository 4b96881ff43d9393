package playback

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/audio"
)

var ErrContextClosed = errors.New("audio output context closed")

// Context is an audio output timeline. Clips are scheduled at absolute
// positions on it and report back when they finish playing. onEnded must not
// be invoked from inside Schedule.
type Context interface {
	CurrentTime() time.Duration
	Schedule(at time.Duration, samples []float32, sampleRate int, onEnded func()) error
	Close() error
}

// Device is a byte FIFO output with playback marks, as provided by the
// miniaudio and portaudio clients.
type Device interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(pcm []byte) error
	ClearBuffer()
	Mark(name string, callback func(string)) error
}

// DeviceContext presents a Device as a Context. Gaps between scheduled clips
// are filled with silence. A clip scheduled before the end of the queued
// audio is appended after it, since a FIFO cannot mix.
type DeviceContext struct {
	device Device
	info   audio.EncodingInfo
	now    func() time.Time

	mu     sync.Mutex
	origin time.Time
	end    time.Duration
	closed bool
}

func NewDeviceContext(device Device) *DeviceContext {
	info := device.EncodingInfo()
	if info.IsZero() {
		info = audio.GetDefaultEncodingInfo()
	}
	return &DeviceContext{device: device, info: info, now: time.Now, origin: time.Now()}
}

func (d *DeviceContext) CurrentTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Sub(d.origin)
}

func (d *DeviceContext) Schedule(at time.Duration, samples []float32, sampleRate int, onEnded func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrContextClosed
	}

	now := d.now().Sub(d.origin)
	if d.end < now {
		d.end = now
	}

	if gap := at - d.end; gap > 0 {
		silence := silenceFor(d.info, gap)
		if err := d.device.SendAudio(silence); err != nil {
			return fmt.Errorf("failed to queue silence: %w", err)
		}
		d.end = at
	}

	resampled, err := audio.Resample(samples, sampleRate, d.info.SampleRate)
	if err != nil {
		return err
	}
	if err := d.device.SendAudio(audio.Float32ToPCM16(resampled)); err != nil {
		return fmt.Errorf("failed to queue clip: %w", err)
	}
	d.end += audio.SamplesDuration(len(resampled), d.info.SampleRate)

	return d.device.Mark(uuid.NewString(), func(string) {
		if onEnded != nil {
			onEnded()
		}
	})
}

// Close drops queued audio. The device itself stays open; its owner closes
// it.
func (d *DeviceContext) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.device.ClearBuffer()
	return nil
}

// silenceFor fills gap with the encoding's silent byte, whole frames only.
func silenceFor(info audio.EncodingInfo, gap time.Duration) []byte {
	frames := int(int64(info.SampleRate) * int64(gap) / int64(time.Second))
	return bytes.Repeat([]byte{info.SilenceValue()}, frames*max(info.Format.ByteSize(), 1))
}
