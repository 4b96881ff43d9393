package orchestration

import "github.com/koscakluka/ema-voice/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// pendingEvents collects events raised while the coordinator holds its lock so
// they can be delivered after it is released.
type pendingEvents []events.Event

func (p *pendingEvents) add(event events.Event) {
	if event != nil {
		*p = append(*p, event)
	}
}

func (c *Coordinator) deliver(batch pendingEvents) {
	for _, event := range batch {
		c.emit(event)
	}
}
