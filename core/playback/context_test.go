package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

type fakeDevice struct {
	mu      sync.Mutex
	written []byte
	marks   []func(string)
	clears  int
}

func (d *fakeDevice) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16}
}

func (d *fakeDevice) SendAudio(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, pcm...)
	return nil
}

func (d *fakeDevice) ClearBuffer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clears++
	d.written = nil
	d.marks = nil
}

func (d *fakeDevice) Mark(_ string, callback func(string)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marks = append(d.marks, callback)
	return nil
}

func TestDeviceContextPadsGapsAndResamples(t *testing.T) {
	device := &fakeDevice{}
	origin := time.Unix(0, 0)
	output := NewDeviceContext(device)
	output.origin = origin
	output.now = func() time.Time { return origin }

	ended := false
	if err := output.Schedule(100*time.Millisecond, make([]float32, 8000), 8000, func() { ended = true }); err != nil {
		t.Fatalf("expected schedule to succeed, got %v", err)
	}

	// 100ms of padding plus one second resampled to 16kHz
	if want := 2 * (1600 + 16000); len(device.written) != want {
		t.Fatalf("expected %d bytes written, got %d", want, len(device.written))
	}
	if len(device.marks) != 1 {
		t.Fatalf("expected one mark, got %d", len(device.marks))
	}
	device.marks[0]("")
	if !ended {
		t.Fatalf("expected mark to report clip end")
	}

	if err := output.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	_ = output.Close()
	if device.clears != 1 {
		t.Fatalf("expected buffer cleared once, got %d", device.clears)
	}
	if err := output.Schedule(0, []float32{0}, 16000, nil); err != ErrContextClosed {
		t.Fatalf("expected ErrContextClosed, got %v", err)
	}
}

func TestSilenceForUsesEncodingSilentByte(t *testing.T) {
	silence := silenceFor(audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}, 10*time.Millisecond)
	if len(silence) != 80 {
		t.Fatalf("expected 80 bytes, got %d", len(silence))
	}
	for i, b := range silence {
		if b != 0xFF {
			t.Fatalf("expected mulaw silence at %d, got %#x", i, b)
		}
	}
}
