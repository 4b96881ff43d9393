package events

const (
	// KindStatusChanged identifies a coordinator status transition.
	KindStatusChanged Kind = "turn_state.status_changed"
	// KindTurnSent identifies a turn leaving for the backend.
	KindTurnSent Kind = "turn_state.sent"
	// KindTurnDropped identifies a turn discarded because another was in flight.
	KindTurnDropped Kind = "turn_state.dropped"
	// KindTurnCompleted identifies a backend reply.
	KindTurnCompleted Kind = "turn_state.completed"
	// KindTurnFailed identifies a failure.
	KindTurnFailed Kind = "turn_state.failed"
)

// StatusChanged carries the previous and current coordinator status.
type StatusChanged struct {
	Base
	From string
	To   string
}

// NewStatusChanged creates a status changed event.
func NewStatusChanged(from, to string) StatusChanged {
	return StatusChanged{Base: NewBase(KindStatusChanged), From: from, To: to}
}

// TurnSent describes a turn handed to the transport.
type TurnSent struct {
	Base
	TurnID string
	Bytes  int
	Forced bool
}

// NewTurnSent creates a turn sent event.
func NewTurnSent(turnID string, bytes int, forced bool) TurnSent {
	return TurnSent{Base: NewBase(KindTurnSent), TurnID: turnID, Bytes: bytes, Forced: forced}
}

// TurnDropped names why a turn boundary was ignored.
type TurnDropped struct {
	Base
	Reason string
}

// NewTurnDropped creates a turn dropped event.
func NewTurnDropped(reason string) TurnDropped {
	return TurnDropped{Base: NewBase(KindTurnDropped), Reason: reason}
}

// TurnCompleted carries the backend reply summary.
type TurnCompleted struct {
	Base
	TurnID     string
	SessionID  string
	Text       string
	AudioBytes int
}

// NewTurnCompleted creates a turn completed event.
func NewTurnCompleted(turnID, sessionID, text string, audioBytes int) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), TurnID: turnID, SessionID: sessionID, Text: text, AudioBytes: audioBytes}
}

// TurnFailed carries the failure and its category.
type TurnFailed struct {
	Base
	TurnID    string
	ErrorKind string
	Err       error
}

// NewTurnFailed creates a turn failed event. turnID is empty for failures
// outside a turn, such as microphone initialization.
func NewTurnFailed(turnID, errorKind string, err error) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed), TurnID: turnID, ErrorKind: errorKind, Err: err}
}
