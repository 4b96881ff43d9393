package orchestration

import (
	"context"
	"errors"
	"reflect"

	"github.com/koscakluka/ema-voice/core/vad"
)

var errNoSpeechSource = errors.New("no speech source configured")

// speechInput wraps the optional speech source so the coordinator never has
// to nil check it. Typed-nil sources count as unconfigured.
type speechInput struct {
	source SpeechSource
}

func (s *speechInput) Set(source SpeechSource) {
	s.source = nil
	if isNilInterface(source) {
		return
	}
	s.source = source
}

func (s *speechInput) IsConfigured() bool { return s != nil && s.source != nil }

func (s *speechInput) Start(ctx context.Context, callbacks vad.Callbacks) error {
	if !s.IsConfigured() {
		return errNoSpeechSource
	}
	return s.source.Start(ctx, callbacks)
}

func (s *speechInput) Pause() error {
	if !s.IsConfigured() {
		return nil
	}
	return s.source.Pause()
}

func (s *speechInput) Commit() *vad.Recording {
	if !s.IsConfigured() {
		return nil
	}
	return s.source.Commit()
}

func isNilInterface(client any) bool {
	if client == nil {
		return true
	}

	v := reflect.ValueOf(client)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	}
	return false
}
