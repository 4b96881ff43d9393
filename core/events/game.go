package events

const (
	KindGameEventReceived  Kind = "game.received"
	KindGameEventDismissed Kind = "game.dismissed"
)

// GameEventReceived carries a mini game prompt pushed by the backend, one of
// quiz, psych or balance.
type GameEventReceived struct {
	Base
	Type     string
	Question string
	Choices  []string
}

func NewGameEventReceived(eventType, question string, choices []string) GameEventReceived {
	return GameEventReceived{Base: NewBase(KindGameEventReceived), Type: eventType, Question: question, Choices: choices}
}

type GameEventDismissed struct{ Base }

func NewGameEventDismissed() GameEventDismissed {
	return GameEventDismissed{Base: NewBase(KindGameEventDismissed)}
}
