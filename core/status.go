package orchestration

// Status is the coordinator's position in the conversation. Exactly one holds
// at a time.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusListening    Status = "listening"
	StatusUserSpeaking Status = "user_speaking"
	// StatusWaiting covers the time a turn is in flight.
	StatusWaiting    Status = "waiting"
	StatusAISpeaking Status = "ai_speaking"
)

// AvatarState is the coarser state a UI animates.
type AvatarState string

const (
	AvatarIdle      AvatarState = "idle"
	AvatarListening AvatarState = "listening"
	AvatarSpeaking  AvatarState = "speaking"
	AvatarThinking  AvatarState = "thinking"
)

func (s Status) AvatarState() AvatarState {
	switch s {
	case StatusListening, StatusUserSpeaking:
		return AvatarListening
	case StatusAISpeaking:
		return AvatarSpeaking
	case StatusWaiting:
		return AvatarThinking
	}
	return AvatarIdle
}

func (s Status) String() string { return string(s) }

// acceptsCommit reports whether a forced commit is meaningful in s.
func (s Status) acceptsCommit() bool {
	return s == StatusListening || s == StatusUserSpeaking
}
