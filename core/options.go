package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/transport"
	"github.com/koscakluka/ema-voice/core/vad"
)

const DefaultTurnTimeout = 30 * time.Second

type CoordinatorOption func(*Coordinator)

// SpeechSource produces utterance boundaries. *vad.Segmenter implements it.
type SpeechSource interface {
	Start(ctx context.Context, callbacks vad.Callbacks) error
	Pause() error
	// Commit cuts the utterance in progress short, returning nil when there is
	// none.
	Commit() *vad.Recording
}

func WithSpeechSource(source SpeechSource) CoordinatorOption {
	return func(c *Coordinator) { c.speech.Set(source) }
}

// ReplyPlayer plays reply audio. *playback.Queue implements it.
type ReplyPlayer interface {
	PlayResponse(ctx context.Context, payload []byte, mimeType string, onComplete func()) error
	Flush()
	Close() error
	Reopen()
}

func WithReplyPlayer(player ReplyPlayer) CoordinatorOption {
	return func(c *Coordinator) { c.player.Set(player) }
}

func WithTransport(t transport.Transport) CoordinatorOption {
	return func(c *Coordinator) { c.transport = t }
}

// WithParticipants sets the ids sent with turns until the backend issues a
// session.
func WithParticipants(userID, partnerUserID string) CoordinatorOption {
	return func(c *Coordinator) {
		c.participants = transport.Participants{UserID: userID, PartnerUserID: partnerUserID}
	}
}

// WithTurnTimeout bounds each exchange with the backend. Zero or negative
// durations keep the default.
func WithTurnTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.turnTimeout = timeout
		}
	}
}

// WithEventHandler receives every coordinator event. It is called outside
// the coordinator's lock, possibly from several goroutines.
func WithEventHandler(handler func(events.Event)) CoordinatorOption {
	return func(c *Coordinator) {
		if handler != nil {
			c.emit = handler
		}
	}
}

// WithSampleRate is reported to the backend with each turn.
func WithSampleRate(sampleRate int) CoordinatorOption {
	return func(c *Coordinator) { c.sampleRate = sampleRate }
}
