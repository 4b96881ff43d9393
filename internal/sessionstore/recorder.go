package sessionstore

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
)

const writeTimeout = 2 * time.Second

// Recorder persists the session lifecycle from coordinator events. Write
// failures are logged; the conversation never waits on the store.
type Recorder struct {
	store         *Store
	userID        string
	partnerUserID string
}

func NewRecorder(store *Store, userID, partnerUserID string) *Recorder {
	return &Recorder{store: store, userID: userID, partnerUserID: partnerUserID}
}

func (r *Recorder) Handle(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e := event.(type) {
	case events.SessionStarted:
		err = r.store.StartSession(ctx, e.SessionID, r.userID, r.partnerUserID)
	case events.TurnCompleted:
		if e.SessionID == "" {
			return
		}
		err = r.store.AppendTurn(ctx, Turn{
			SessionID:  e.SessionID,
			TurnID:     e.TurnID,
			Reply:      e.Text,
			AudioBytes: e.AudioBytes,
			CreatedAt:  e.Timestamp(),
		})
	case events.SessionEnded:
		err = r.store.EndSession(ctx, e.SessionID)
	default:
		return
	}
	if err != nil {
		logger.Warn("failed to persist session event", "kind", event.Kind(), "error", err)
	}
}
