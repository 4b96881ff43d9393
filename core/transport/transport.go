// Package transport defines how captured turns reach the conversational
// backend and how replies come back.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Participants identify the two users before the backend has issued a
// session.
type Participants struct {
	UserID        string
	PartnerUserID string
}

func (p Participants) IsZero() bool { return p.UserID == "" && p.PartnerUserID == "" }

// Turn is one user utterance on its way to the backend.
type Turn struct {
	ID        string
	Utterance audio.Utterance
	// SessionID is empty until the backend has issued one; Participants are
	// sent instead in that case.
	SessionID    string
	Participants Participants
	// Forced marks turns committed by the user rather than by end of speech.
	Forced     bool
	SampleRate int
}

func NewTurn(utterance audio.Utterance) Turn {
	return Turn{ID: uuid.NewString(), Utterance: utterance}
}

// Reply is the backend's answer to a Turn.
type Reply struct {
	TurnID    string
	Text      string
	Audio     []byte
	MimeType  string
	SessionID string
}

func (r Reply) HasAudio() bool { return len(r.Audio) > 0 }

// Event is an out-of-band message from the backend, such as a mini game
// prompt.
type Event struct {
	Type     string
	Question string
	Choices  []string
}

type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
)

// Listener receives everything a transport delivers outside of SendTurn.
// Any field may be nil.
type Listener struct {
	OnEvent            func(Event)
	OnAudio            func(Reply)
	OnError            func(error)
	OnConnectionStatus func(ConnectionStatus)
}

func (l Listener) Event(e Event) {
	if l.OnEvent != nil {
		l.OnEvent(e)
	}
}

func (l Listener) Audio(r Reply) {
	if l.OnAudio != nil {
		l.OnAudio(r)
	}
}

func (l Listener) Error(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}

func (l Listener) ConnectionStatus(status ConnectionStatus) {
	if l.OnConnectionStatus != nil {
		l.OnConnectionStatus(status)
	}
}

// Transport exchanges turns with the backend. SendTurn is never called
// concurrently by the coordinator.
type Transport interface {
	Connect(ctx context.Context, listener Listener) error
	// PushAudio forwards live microphone PCM. Transports that only deal in
	// whole utterances ignore it.
	PushAudio(pcm []byte) error
	SendTurn(ctx context.Context, turn Turn) (*Reply, error)
	Close() error
}

var ErrClosed = errors.New("transport closed")

// ErrEmptyUtterance rejects turns that carry no audio.
var ErrEmptyUtterance = errors.New("utterance has no audio")

// Error is a failed exchange with the backend.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
