package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/koscakluka/ema-voice/core/audio"
)

var errUndecodable = errors.New("payload is not a decodable container")

// Clip is decoded mono audio ready to be scheduled.
type Clip struct {
	Samples    []float32
	SampleRate int
	// Raw is set when the payload could not be decoded and was played as
	// headerless PCM16.
	Raw bool
}

func (c Clip) Duration() time.Duration { return audio.SamplesDuration(len(c.Samples), c.SampleRate) }

// Decode turns a reply payload into samples. WAV and MP3 are decoded when the
// mime type or the payload's magic bytes say so; anything else, or a payload
// that fails to decode, is treated as raw little-endian PCM16 whose rate comes
// from the mime type's "rate" parameter.
func Decode(payload []byte, mimeType string, fallbackRate int) (Clip, error) {
	if len(payload) == 0 {
		return Clip{}, errors.New("empty payload")
	}

	var (
		clip Clip
		err  = errUndecodable
	)
	switch {
	case audio.IsWAV(mimeType) || looksLikeWAV(payload):
		clip, err = decodeWAV(payload)
	case audio.IsMP3(mimeType) || looksLikeMP3(payload):
		clip, err = decodeMP3(payload)
	}
	if err == nil {
		return clip, nil
	}
	if !errors.Is(err, errUndecodable) {
		logger.Warn("failed to decode reply audio, playing as raw pcm", "mime_type", mimeType, "error", err)
	}

	rate := audio.SampleRateFromMime(mimeType, fallbackRate)
	if rate <= 0 {
		return Clip{}, fmt.Errorf("raw pcm fallback: %w", audio.ErrInvalidSampleRate)
	}
	return Clip{Samples: audio.PCM16ToFloat32(payload), SampleRate: rate, Raw: true}, nil
}

func looksLikeWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

func looksLikeMP3(b []byte) bool {
	if len(b) >= 3 && string(b[0:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

func decodeWAV(payload []byte) (Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(payload))
	if !d.IsValidFile() {
		return Clip{}, fmt.Errorf("wav: %w", errUndecodable)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("wav: failed to read pcm: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("wav: missing format")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	samples := intBufferToFloat(buf, int(d.BitDepth))
	return Clip{
		Samples:    audio.DownmixInterleaved(samples, channels),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

func intBufferToFloat(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	out := make([]float32, len(buf.Data))
	if bitDepth == 8 {
		for i, v := range buf.Data {
			out[i] = float32(v-128) / 128
		}
		return out
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out
}

func decodeMP3(payload []byte) (Clip, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(payload))
	if err != nil {
		return Clip{}, fmt.Errorf("mp3: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return Clip{}, fmt.Errorf("mp3: failed to read pcm: %w", err)
	}

	// go-mp3 always produces interleaved stereo PCM16
	return Clip{
		Samples:    audio.DownmixInterleaved(audio.PCM16ToFloat32(pcm), 2),
		SampleRate: d.SampleRate(),
	}, nil
}
