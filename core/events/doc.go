// Package events defines the typed event contract the turn coordinator
// publishes to its observers.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - turn_state.*
//   - assistant_playback.*
//   - session.*
//   - game.*
//   - connection.*
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): the detector heard speech.
//   - UserSpeechEnded (user_input.speech_ended): an utterance was captured and
//     is about to be sent.
//   - UserSpeechMisfire (user_input.speech_misfire): a segment was too short to
//     count as speech and was dropped.
//
// turn_state events
//
//   - StatusChanged (turn_state.status_changed): the coordinator moved between
//     idle, listening, user_speaking, waiting and ai_speaking.
//   - TurnSent (turn_state.sent): a turn left for the backend.
//   - TurnDropped (turn_state.dropped): a turn boundary arrived while another
//     turn was in flight and was discarded.
//   - TurnCompleted (turn_state.completed): the backend replied.
//   - TurnFailed (turn_state.failed): the turn, or the coordinator itself,
//     failed; carries the error kind.
//
// assistant_playback events
//
//   - AssistantPlaybackStarted (assistant_playback.started): reply audio was
//     queued.
//   - AssistantPlaybackEnded (assistant_playback.ended): reply audio finished
//     or was cut off.
//
// session events
//
//   - SessionStarted (session.started): the backend issued a session id.
//   - SessionEnded (session.ended): the coordinator stopped and forgot it.
//
// game events
//
//   - GameEventReceived (game.received): the backend pushed a mini game prompt.
//   - GameEventDismissed (game.dismissed): the prompt was dismissed.
//
// connection events
//
//   - ConnectionStatusChanged (connection.status_changed): transport link
//     status changed.
package events
