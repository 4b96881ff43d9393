package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

type scheduledClip struct {
	at         time.Duration
	samples    int
	sampleRate int
	onEnded    func()
}

type fakeContext struct {
	mu        sync.Mutex
	now       time.Duration
	scheduled []scheduledClip
	closes    int
}

func (c *fakeContext) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeContext) Schedule(at time.Duration, samples []float32, sampleRate int, onEnded func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduled = append(c.scheduled, scheduledClip{at: at, samples: len(samples), sampleRate: sampleRate, onEnded: onEnded})
	return nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeContext) clip(i int) scheduledClip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled[i]
}

func newTestQueue(output *fakeContext, opens *int) *Queue {
	return NewQueue(func() (Context, error) {
		if opens != nil {
			*opens++
		}
		return output, nil
	})
}

func wavSeconds(t *testing.T, seconds float64, rate int) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(make([]float32, int(seconds*float64(rate))), rate)
	if err != nil {
		t.Fatalf("expected wav, got %v", err)
	}
	return data
}

func awaitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestQueueSchedulesClipsBackToBack(t *testing.T) {
	output := &fakeContext{}
	opens := 0
	queue := newTestQueue(output, &opens)

	if err := queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, nil); err != nil {
		t.Fatalf("expected first clip to schedule, got %v", err)
	}
	if err := queue.PlayResponse(context.Background(), wavSeconds(t, 0.5, 8000), audio.MimeWAV, nil); err != nil {
		t.Fatalf("expected second clip to schedule, got %v", err)
	}

	if opens != 1 {
		t.Fatalf("expected output to be opened once, got %d", opens)
	}
	if got := output.clip(0).at; got != 0 {
		t.Fatalf("expected first clip at 0, got %s", got)
	}
	if got := output.clip(1).at; got != time.Second {
		t.Fatalf("expected second clip to start when the first ends, got %s", got)
	}
	if got := queue.Cursor(); got != 1500*time.Millisecond {
		t.Fatalf("expected cursor at 1.5s, got %s", got)
	}
}

func TestQueueStartsAtCurrentTimeAfterIdle(t *testing.T) {
	output := &fakeContext{}
	queue := newTestQueue(output, nil)

	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, nil)
	output.mu.Lock()
	output.now = 5 * time.Second
	output.mu.Unlock()
	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, nil)

	if got := output.clip(1).at; got != 5*time.Second {
		t.Fatalf("expected clip at current time 5s, got %s", got)
	}
}

func TestQueueFlushResetsCursor(t *testing.T) {
	output := &fakeContext{}
	queue := newTestQueue(output, nil)

	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 2, 16000), audio.MimeWAV, nil)
	queue.Flush()
	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, nil)

	if got := output.clip(1).at; got != 0 {
		t.Fatalf("expected flushed queue to start at 0, got %s", got)
	}
}

func TestQueueCompletionFiresOnceWhenClipEnds(t *testing.T) {
	output := &fakeContext{}
	queue := newTestQueue(output, nil)

	var calls atomic.Int32
	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 0.1, 16000), audio.MimeWAV, func() { calls.Add(1) })

	onEnded := output.clip(0).onEnded
	onEnded()
	onEnded()
	_ = queue.Close()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected completion once, got %d", got)
	}
}

func TestQueueEmptyPayloadCompletesAsynchronously(t *testing.T) {
	queue := newTestQueue(&fakeContext{}, nil)
	done := make(chan struct{})

	if err := queue.PlayResponse(context.Background(), nil, audio.MimeWAV, func() { close(done) }); err != nil {
		t.Fatalf("expected no error for empty payload, got %v", err)
	}
	awaitSignal(t, done, "empty payload completion")
}

func TestQueueCloseFiresPendingAndIsIdempotent(t *testing.T) {
	output := &fakeContext{}
	queue := newTestQueue(output, nil)

	done := make(chan struct{})
	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, func() { close(done) })

	if err := queue.Close(); err != nil {
		t.Fatalf("expected first close to succeed, got %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("expected second close to succeed, got %v", err)
	}
	awaitSignal(t, done, "pending completion on close")

	if output.closes != 1 {
		t.Fatalf("expected output closed once, got %d", output.closes)
	}
	if got := queue.Cursor(); got != 0 {
		t.Fatalf("expected cursor reset on close, got %s", got)
	}
}

func TestQueueAfterCloseCompletesWithoutPlayingUntilReopen(t *testing.T) {
	output := &fakeContext{}
	opens := 0
	queue := newTestQueue(output, &opens)
	_ = queue.Close()
	if !queue.IsClosed() {
		t.Fatalf("expected queue to report closed")
	}

	done := make(chan struct{})
	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, func() { close(done) })
	awaitSignal(t, done, "completion after close")
	if opens != 0 {
		t.Fatalf("expected closed queue not to open output, got %d opens", opens)
	}

	queue.Reopen()
	if queue.IsClosed() {
		t.Fatalf("expected reopened queue to report open")
	}
	_ = queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, nil)
	if opens != 1 {
		t.Fatalf("expected reopened queue to open output, got %d opens", opens)
	}
}

func TestQueueOpenFailureStillCompletes(t *testing.T) {
	queue := NewQueue(func() (Context, error) { return nil, errors.New("no device") })
	done := make(chan struct{})

	if err := queue.PlayResponse(context.Background(), wavSeconds(t, 1, 16000), audio.MimeWAV, func() { close(done) }); err == nil {
		t.Fatalf("expected open failure to be returned")
	}
	awaitSignal(t, done, "completion after open failure")
}

func TestQueueRawPCMUsesMimeRate(t *testing.T) {
	output := &fakeContext{}
	queue := newTestQueue(output, nil)

	pcm := make([]byte, 2*8000)
	_ = queue.PlayResponse(context.Background(), pcm, "audio/pcm;rate=8000", nil)
	if got := output.clip(0).sampleRate; got != 8000 {
		t.Fatalf("expected 8000 Hz, got %d", got)
	}
	if got := queue.Cursor(); got != time.Second {
		t.Fatalf("expected one second clip, got %s", got)
	}

	_ = queue.PlayResponse(context.Background(), make([]byte, 2*24000), "audio/pcm", nil)
	if got := output.clip(1).sampleRate; got != audio.DefaultReplySampleRate {
		t.Fatalf("expected default reply rate, got %d", got)
	}
}
