package events

const (
	KindSessionStarted Kind = "session.started"
	KindSessionEnded   Kind = "session.ended"
)

type SessionStarted struct {
	Base
	SessionID string
}

func NewSessionStarted(sessionID string) SessionStarted {
	return SessionStarted{Base: NewBase(KindSessionStarted), SessionID: sessionID}
}

type SessionEnded struct {
	Base
	SessionID string
}

func NewSessionEnded(sessionID string) SessionEnded {
	return SessionEnded{Base: NewBase(KindSessionEnded), SessionID: sessionID}
}
