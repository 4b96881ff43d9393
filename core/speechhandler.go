package orchestration

import (
	"context"

	"github.com/koscakluka/ema-voice/core/audio"
)

// SpeechHandler decides what happens to a finished utterance. The zero value
// sends it to the backend; a custom handler takes it over entirely.
type SpeechHandler struct {
	custom func(ctx context.Context, utterance audio.Utterance) error
}

func DefaultSpeechHandler() SpeechHandler { return SpeechHandler{} }

// CustomSpeechHandler routes utterances to fn instead of the backend. A nil fn
// is the default handler.
func CustomSpeechHandler(fn func(ctx context.Context, utterance audio.Utterance) error) SpeechHandler {
	return SpeechHandler{custom: fn}
}

func (h SpeechHandler) IsCustom() bool { return h.custom != nil }
