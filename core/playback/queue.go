// Package playback sequences reply audio so consecutive clips play back to
// back without overlapping.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Opener creates the output context on first use.
type Opener func() (Context, error)

type QueueOption func(*Queue)

// WithFallbackSampleRate sets the rate assumed for raw PCM replies without a
// rate parameter.
func WithFallbackSampleRate(rate int) QueueOption {
	return func(q *Queue) { q.fallbackRate = rate }
}

type Queue struct {
	open         Opener
	fallbackRate int

	mu      sync.Mutex
	output  Context
	cursor  time.Duration
	closed  bool
	nextID  uint64
	pending map[uint64]*completion

	clipCounter metric.Int64Counter
}

type completion struct {
	once sync.Once
	fn   func()
}

func (c *completion) fire() {
	c.once.Do(func() {
		if c.fn != nil {
			c.fn()
		}
	})
}

func NewQueue(open Opener, opts ...QueueOption) *Queue {
	q := &Queue{
		open:         open,
		fallbackRate: audio.DefaultReplySampleRate,
		pending:      map[uint64]*completion{},
	}
	for _, opt := range opts {
		opt(q)
	}

	clipCounter, err := meter.Int64Counter("playback.clips",
		metric.WithDescription("Reply clips scheduled for playback"))
	if err != nil {
		logger.Warn("failed to create clip counter", "error", err)
	}
	q.clipCounter = clipCounter
	return q
}

// PlayResponse decodes payload and schedules it after everything already
// queued. onComplete runs exactly once: when the clip finishes, when the queue
// is closed first, or right away (on another goroutine) if there is nothing to
// play.
func (q *Queue) PlayResponse(ctx context.Context, payload []byte, mimeType string, onComplete func()) error {
	ctx, span := tracer.Start(ctx, "play response", trace.WithAttributes(
		attribute.String("mime_type", mimeType),
		attribute.Int("payload_bytes", len(payload)),
	))
	defer span.End()

	done := &completion{fn: onComplete}
	if err := q.schedule(ctx, payload, mimeType, done); err != nil {
		go done.fire()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (q *Queue) schedule(ctx context.Context, payload []byte, mimeType string, done *completion) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(payload) == 0 {
		go done.fire()
		return nil
	}

	if q.output == nil {
		if q.open == nil {
			return fmt.Errorf("no audio output configured")
		}
		output, err := q.open()
		if err != nil {
			return fmt.Errorf("failed to open audio output: %w", err)
		}
		q.output = output
	}

	clip, err := Decode(payload, mimeType, q.fallbackRate)
	if err != nil {
		return err
	}
	if len(clip.Samples) == 0 {
		go done.fire()
		return nil
	}

	start := max(q.output.CurrentTime(), q.cursor)

	q.nextID++
	id := q.nextID
	q.pending[id] = done
	if err := q.output.Schedule(start, clip.Samples, clip.SampleRate, func() { q.finish(id) }); err != nil {
		delete(q.pending, id)
		return fmt.Errorf("failed to schedule clip: %w", err)
	}
	q.cursor = start + clip.Duration()

	if q.clipCounter != nil {
		q.clipCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("raw", clip.Raw)))
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("start_ms", start.Milliseconds()),
		attribute.Int64("duration_ms", clip.Duration().Milliseconds()),
	)
	return nil
}

func (q *Queue) finish(id uint64) {
	q.mu.Lock()
	done := q.pending[id]
	delete(q.pending, id)
	q.mu.Unlock()

	if done != nil {
		done.fire()
	}
}

// Cursor is the position on the output timeline where the next clip starts
// at the earliest.
func (q *Queue) Cursor() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// Flush forgets the schedule so the next clip starts immediately.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cursor = 0
}

// Close releases the output context and fires every outstanding completion.
// Later PlayResponse calls complete without playing until Reopen.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	output := q.output
	q.output = nil
	q.cursor = 0
	pending := q.pending
	q.pending = map[uint64]*completion{}
	q.mu.Unlock()

	var err error
	if output != nil {
		err = output.Close()
	}
	for _, done := range pending {
		done.fire()
	}
	return err
}

// Reopen lets a closed queue play again. The output context is opened again
// on the next PlayResponse.
func (q *Queue) Reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = false
}

func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
