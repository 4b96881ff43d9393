package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/transport"
	"github.com/koscakluka/ema-voice/core/vad"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ForceCommit ends the user's turn now. Whatever was captured so far is sent,
// or half a second of silence when nothing was. It does nothing unless the
// coordinator is listening or the user is speaking.
func (c *Coordinator) ForceCommit() {
	c.mu.Lock()
	if !c.running || !c.status.acceptsCommit() {
		if c.running {
			c.log.addf(DebugInfo, "Force commit ignored while %s", c.status)
		}
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.mu.Unlock()

	rec := c.speech.Commit()

	c.mu.Lock()
	if rec != nil && rec.ID > c.lastUtterance {
		c.lastUtterance = rec.ID
	}
	c.log.add(DebugSpeech, "Force commit")
	c.mu.Unlock()

	c.submit(gen, rec, true)
}

// onSpeechEnd handles a natural end of speech. It is dropped while a turn is
// in flight, while a reply plays, or while the custom handler is still busy
// with the previous utterance.
func (c *Coordinator) onSpeechEnd(gen uint64, rec *vad.Recording) {
	c.mu.Lock()
	if !c.isCurrent(gen) {
		c.mu.Unlock()
		return
	}
	if rec != nil {
		if rec.ID <= c.lastUtterance {
			c.log.addf(DebugSpeech, "Ignored speech end for committed utterance %d", rec.ID)
			c.mu.Unlock()
			return
		}
		c.lastUtterance = rec.ID
	}
	if c.pending.Load() || !c.status.acceptsCommit() {
		dropped := c.dropLocked("request in flight")
		c.mu.Unlock()
		c.emitDropped(dropped, false)
		return
	}
	handler := c.handler
	c.mu.Unlock()

	if handler.IsCustom() {
		c.handleCustom(gen, rec, handler)
		return
	}
	c.submit(gen, rec, false)
}

// dropLocked records a discarded turn boundary.
func (c *Coordinator) dropLocked(reason string) events.Event {
	c.log.addf(DebugTransport, "Dropped turn: %s", reason)
	return events.NewTurnDropped(reason)
}

func (c *Coordinator) emitDropped(event events.Event, forced bool) {
	if event != nil {
		c.emit(event)
	}
	if c.instruments.dropped != nil {
		c.instruments.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("forced", forced)))
	}
}

func (c *Coordinator) handleCustom(gen uint64, rec *vad.Recording, handler SpeechHandler) {
	if !c.customBusy.CompareAndSwap(false, true) {
		c.mu.Lock()
		var dropped events.Event
		if c.isCurrent(gen) {
			dropped = c.dropLocked("speech handler busy")
		}
		c.mu.Unlock()
		c.emitDropped(dropped, false)
		return
	}

	var batch pendingEvents
	defer func() { c.deliver(batch) }()

	utterance, err := rec.Utterance()

	c.mu.Lock()
	if !c.isCurrent(gen) {
		c.customBusy.Store(false)
		c.mu.Unlock()
		return
	}
	if c.pending.Load() || !c.status.acceptsCommit() {
		c.customBusy.Store(false)
		batch.add(c.dropLocked("request in flight"))
		c.mu.Unlock()
		return
	}
	ctx := c.runCtx
	if err != nil {
		c.customBusy.Store(false)
		batch.add(c.failLocked("", &Error{Kind: ErrorEncoding, Err: err}))
		batch.add(c.setStatusLocked(StatusListening))
		c.mu.Unlock()
		return
	}
	c.log.addf(DebugSpeech, "Speech ended (%s), custom handler", kilobytes(len(utterance.Data)))
	batch.add(events.NewUserSpeechEnded(rec.ID, len(utterance.Data), false))
	batch.add(c.setStatusLocked(StatusListening))
	c.mu.Unlock()

	go func() {
		defer c.customBusy.Store(false)
		if err := handler.custom(ctx, utterance); err != nil {
			c.mu.Lock()
			var failed events.Event
			if c.isCurrent(gen) {
				failed = c.failLocked("", &Error{Kind: ErrorTransport, Err: fmt.Errorf("speech handler: %w", err)})
			}
			c.mu.Unlock()
			if failed != nil {
				c.emit(failed)
			}
		}
	}()
}

// submit is the single send path for natural and forced turn ends. At most
// one turn is in flight; anything arriving meanwhile is dropped.
func (c *Coordinator) submit(gen uint64, rec *vad.Recording, forced bool) {
	if !c.pending.CompareAndSwap(false, true) {
		c.mu.Lock()
		var dropped events.Event
		if c.isCurrent(gen) {
			dropped = c.dropLocked("request in flight")
		}
		c.mu.Unlock()
		c.emitDropped(dropped, forced)
		return
	}

	utterance, err := rec.Utterance()
	if err != nil && forced && errors.Is(err, vad.ErrEmptyRecording) {
		utterance, err = audio.SilentUtterance(), nil
	}

	var batch pendingEvents
	c.mu.Lock()
	turn, ok := c.prepareTurnLocked(&batch, gen, rec, utterance, err, forced)
	ctx := c.runCtx
	c.mu.Unlock()

	// The exchange starts only after the waiting status is out, so its own
	// status changes can never be delivered ahead of it.
	c.deliver(batch)
	if ok {
		go c.exchange(ctx, gen, turn)
	}
}

func (c *Coordinator) prepareTurnLocked(batch *pendingEvents, gen uint64, rec *vad.Recording, utterance audio.Utterance, err error, forced bool) (transport.Turn, bool) {
	if !c.isCurrent(gen) {
		c.pending.Store(false)
		return transport.Turn{}, false
	}
	if err != nil {
		c.pending.Store(false)
		batch.add(c.failLocked("", &Error{Kind: ErrorEncoding, Err: err}))
		batch.add(c.setStatusLocked(StatusListening))
		return transport.Turn{}, false
	}

	turn := transport.NewTurn(utterance)
	turn.SessionID = c.sessionID
	turn.Participants = c.participants
	turn.Forced = forced
	turn.SampleRate = c.sampleRate
	if turn.SampleRate == 0 && rec != nil {
		turn.SampleRate = rec.SampleRate
	}

	var utteranceID uint64
	if rec != nil {
		utteranceID = rec.ID
	}
	c.log.addf(DebugTransport, "Sending %s", kilobytes(len(utterance.Data)))
	batch.add(events.NewUserSpeechEnded(utteranceID, len(utterance.Data), forced))
	batch.add(c.setStatusLocked(StatusWaiting))
	batch.add(events.NewTurnSent(turn.ID, len(utterance.Data), forced))
	return turn, true
}

func (c *Coordinator) exchange(ctx context.Context, gen uint64, turn transport.Turn) {
	var batch pendingEvents
	defer func() { c.deliver(batch) }()

	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("turn_id", turn.ID),
		attribute.Bool("forced", turn.Forced),
		attribute.Int("audio_bytes", len(turn.Utterance.Data)),
	))
	defer span.End()

	if c.instruments.sent != nil {
		c.instruments.sent.Add(ctx, 1, metric.WithAttributes(attribute.Bool("forced", turn.Forced)))
	}

	// Wait out any live chunk still being pushed so the backend sees all of
	// the utterance's audio before the turn boundary.
	c.pushMu.Lock()
	c.pushMu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, c.turnTimeout)
	started := time.Now()
	reply, err := c.transport.SendTurn(sendCtx, turn)
	timedOut := errors.Is(sendCtx.Err(), context.DeadlineExceeded)
	cancel()
	if c.instruments.latency != nil {
		c.instruments.latency.Record(ctx, float64(time.Since(started).Milliseconds()),
			metric.WithAttributes(attribute.Bool("ok", err == nil)))
	}

	c.mu.Lock()
	if !c.isCurrent(gen) {
		c.mu.Unlock()
		span.AddEvent("discarded after stop")
		return
	}

	if err == nil && reply == nil {
		err = errors.New("transport returned no reply")
	}
	if err != nil {
		if timedOut {
			err = fmt.Errorf("no reply within %s: %w", c.turnTimeout, err)
		}
		batch.add(c.failLocked(turn.ID, &Error{Kind: ErrorTransport, Err: err}))
		batch.add(c.setStatusLocked(StatusListening))
		c.pending.Store(false)
		c.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.instruments.failed != nil {
			c.instruments.failed.Add(ctx, 1)
		}
		return
	}

	if c.sessionID == "" && reply.SessionID != "" {
		c.sessionID = reply.SessionID
		c.log.addf(DebugInfo, "Session %s", reply.SessionID)
		batch.add(events.NewSessionStarted(reply.SessionID))
	}
	c.log.addf(DebugTransport, "Reply received (%s audio)", kilobytes(len(reply.Audio)))
	batch.add(events.NewTurnCompleted(turn.ID, c.sessionID, reply.Text, len(reply.Audio)))

	if !reply.HasAudio() {
		batch.add(c.setStatusLocked(StatusListening))
		c.pending.Store(false)
		c.mu.Unlock()
		return
	}

	batch.add(c.setStatusLocked(StatusAISpeaking))
	batch.add(events.NewAssistantPlaybackStarted(turn.ID, reply.MimeType))
	playCtx := c.runCtx
	c.mu.Unlock()

	// Playback may complete on another goroutine as soon as it starts, and
	// its return to listening must be delivered after ai_speaking.
	c.deliver(batch)
	batch = nil

	c.player.Flush()
	if err := c.player.PlayResponse(playCtx, reply.Audio, reply.MimeType, func() { c.onPlaybackComplete(gen, turn.ID) }); err != nil {
		c.mu.Lock()
		if c.isCurrent(gen) {
			batch.add(c.failLocked(turn.ID, &Error{Kind: ErrorEncoding, Err: err}))
		}
		c.mu.Unlock()
	}
}

// onSpeechAudio streams live input to the backend while the user is speaking
// and the backend, not a custom handler, will receive the turn.
func (c *Coordinator) onSpeechAudio(gen uint64, pcm []byte) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	push := c.isCurrent(gen) && c.status == StatusUserSpeaking && !c.handler.IsCustom()
	tr := c.transport
	c.mu.Unlock()
	if !push {
		return
	}

	if err := tr.PushAudio(pcm); err != nil {
		if !c.pushFailing.Swap(true) {
			logger.Warn("failed to push live audio", "error", err)
		}
		return
	}
	c.pushFailing.Store(false)
}

func (c *Coordinator) onPlaybackComplete(gen uint64, turnID string) {
	var batch pendingEvents
	defer func() { c.deliver(batch) }()

	c.mu.Lock()
	if !c.isCurrent(gen) {
		c.mu.Unlock()
		return
	}
	c.log.add(DebugInfo, "Reply finished")
	batch.add(events.NewAssistantPlaybackEnded(turnID))
	if c.status == StatusAISpeaking {
		batch.add(c.setStatusLocked(StatusListening))
	}
	c.pending.Store(false)
	c.mu.Unlock()
}

func (c *Coordinator) transportListener(gen uint64) transport.Listener {
	return transport.Listener{
		OnEvent: func(event transport.Event) {
			c.mu.Lock()
			if !c.isCurrent(gen) {
				c.mu.Unlock()
				return
			}
			c.gameEvent = &GameEvent{Type: event.Type, Question: event.Question, Choices: event.Choices}
			c.log.addf(DebugEvent, "Game event: %s", event.Type)
			c.mu.Unlock()
			c.emit(events.NewGameEventReceived(event.Type, event.Question, event.Choices))
		},
		OnAudio: func(reply transport.Reply) {
			c.mu.Lock()
			if !c.isCurrent(gen) {
				c.mu.Unlock()
				return
			}
			c.log.addf(DebugTransport, "Extra audio (%s)", kilobytes(len(reply.Audio)))
			ctx := c.runCtx
			c.mu.Unlock()
			if err := c.player.PlayResponse(ctx, reply.Audio, reply.MimeType, nil); err != nil {
				logger.Warn("failed to play extra audio", "error", err)
			}
		},
		OnError: func(err error) {
			c.mu.Lock()
			var failed events.Event
			if c.isCurrent(gen) {
				failed = c.failLocked("", &Error{Kind: ErrorTransport, Err: err})
			}
			c.mu.Unlock()
			if failed != nil {
				c.emit(failed)
			}
		},
		OnConnectionStatus: func(status transport.ConnectionStatus) {
			c.mu.Lock()
			if c.generation != gen {
				c.mu.Unlock()
				return
			}
			c.connection = status
			c.mu.Unlock()
			c.emit(events.NewConnectionStatusChanged(string(status)))
		},
	}
}
