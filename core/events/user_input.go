package events

const (
	// KindUserSpeechStarted identifies the start of user speech.
	KindUserSpeechStarted Kind = "user_input.speech_started"
	// KindUserSpeechEnded identifies a captured utterance.
	KindUserSpeechEnded Kind = "user_input.speech_ended"
	// KindUserSpeechMisfire identifies a segment too short to be speech.
	KindUserSpeechMisfire Kind = "user_input.speech_misfire"
)

// UserSpeechStarted marks the start of user speech.
type UserSpeechStarted struct{ Base }

// NewUserSpeechStarted creates a user speech started event.
func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

// UserSpeechEnded carries the size of the captured utterance.
type UserSpeechEnded struct {
	Base
	UtteranceID uint64
	Bytes       int
	Forced      bool
}

// NewUserSpeechEnded creates a user speech ended event.
func NewUserSpeechEnded(utteranceID uint64, bytes int, forced bool) UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded), UtteranceID: utteranceID, Bytes: bytes, Forced: forced}
}

// UserSpeechMisfire marks a dropped, too short segment.
type UserSpeechMisfire struct{ Base }

// NewUserSpeechMisfire creates a user speech misfire event.
func NewUserSpeechMisfire() UserSpeechMisfire {
	return UserSpeechMisfire{Base: NewBase(KindUserSpeechMisfire)}
}
