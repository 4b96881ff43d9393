package events

const (
	// KindAssistantPlaybackStarted identifies queued reply audio.
	KindAssistantPlaybackStarted Kind = "assistant_playback.started"
	// KindAssistantPlaybackEnded identifies the playback completion milestone.
	KindAssistantPlaybackEnded Kind = "assistant_playback.ended"
)

// AssistantPlaybackStarted marks reply audio being queued.
type AssistantPlaybackStarted struct {
	Base
	TurnID   string
	MimeType string
}

// NewAssistantPlaybackStarted creates an assistant playback started event.
func NewAssistantPlaybackStarted(turnID, mimeType string) AssistantPlaybackStarted {
	return AssistantPlaybackStarted{Base: NewBase(KindAssistantPlaybackStarted), TurnID: turnID, MimeType: mimeType}
}

// AssistantPlaybackEnded marks the end of reply audio.
type AssistantPlaybackEnded struct {
	Base
	TurnID string
}

// NewAssistantPlaybackEnded creates an assistant playback ended event.
func NewAssistantPlaybackEnded(turnID string) AssistantPlaybackEnded {
	return AssistantPlaybackEnded{Base: NewBase(KindAssistantPlaybackEnded), TurnID: turnID}
}
