package audio

import "errors"

// ErrPermissionDenied is wrapped by device clients when the operating system
// refuses access to the microphone.
var ErrPermissionDenied = errors.New("microphone permission denied")
