package main

import (
	"fmt"

	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/playback"
	"github.com/koscakluka/ema-voice/core/vad"
	"github.com/koscakluka/ema-voice/internal/config"
)

type audioDevice struct {
	Microphone vad.Microphone
	Speaker    playback.Device
	close      func()
}

func (d *audioDevice) Close() {
	if d.close != nil {
		d.close()
	}
}

func openDevice(cfg config.AudioConfig) (*audioDevice, error) {
	switch cfg.Device {
	case config.DevicePortaudio:
		client, err := portaudio.NewClient(cfg.FrameSize, cfg.OutputSampleRate)
		if err != nil {
			return nil, err
		}
		return &audioDevice{Microphone: client.Microphone(), Speaker: client.Speaker(), close: client.Close}, nil

	case config.DeviceMiniaudio, "":
		client, err := miniaudio.NewClient(
			miniaudio.WithCaptureSampleRate(cfg.InputSampleRate),
			miniaudio.WithPlaybackSampleRate(cfg.OutputSampleRate),
		)
		if err != nil {
			return nil, err
		}
		return &audioDevice{Microphone: client.Microphone(), Speaker: client.Speaker(), close: client.Close}, nil
	}
	return nil, fmt.Errorf("unknown audio device %q", cfg.Device)
}
