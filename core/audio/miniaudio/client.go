// Package miniaudio drives the default capture and playback devices through
// malgo. The microphone feeds the speech segmenter and the speaker backs the
// reply playback queue.
package miniaudio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

type ClientOption func(*Client)

// WithCaptureSampleRate sets the microphone rate. The speech detector expects
// 16 kHz.
func WithCaptureSampleRate(rate int) ClientOption {
	return func(c *Client) {
		if rate > 0 {
			c.captureRate = rate
		}
	}
}

// WithPlaybackSampleRate sets the speaker rate. Reply audio at any other rate
// is resampled before it is queued.
func WithPlaybackSampleRate(rate int) ClientOption {
	return func(c *Client) {
		if rate > 0 {
			c.playbackRate = rate
		}
	}
}

// Client owns the malgo context shared by the microphone and the speaker.
type Client struct {
	// audioContext is only kept so Close can release it.
	audioContext *malgo.AllocatedContext
	captureRate  int
	playbackRate int

	mic     *Microphone
	speaker *Speaker
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		captureRate:  audio.DefaultSampleRate,
		playbackRate: audio.DefaultReplySampleRate,
	}
	for _, opt := range opts {
		opt(client)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	client.audioContext = audioCtx

	client.speaker = &Speaker{sampleRate: client.playbackRate}
	if err := client.speaker.init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	if err := client.speaker.start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start speaker: %w", err)
	}

	client.mic = &Microphone{sampleRate: client.captureRate}
	if err := client.mic.init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize microphone: %w", classifyDeviceError(err))
	}

	return client, nil
}

func (c *Client) Microphone() *Microphone { return c.mic }

func (c *Client) Speaker() *Speaker { return c.speaker }

func (c *Client) Close() {
	if c.mic != nil {
		c.mic.uninit()
	}
	if c.speaker != nil {
		c.speaker.uninit()
	}
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

// classifyDeviceError maps backend messages that mean the OS refused
// microphone access onto audio.ErrPermissionDenied. malgo only reports result
// codes and strings.
func classifyDeviceError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return err
}
