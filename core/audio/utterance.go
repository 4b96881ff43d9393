package audio

import "time"

// ForceCommitPlaceholderDuration is the length of the silent clip sent when a
// turn is committed with nothing captured.
const ForceCommitPlaceholderDuration = 500 * time.Millisecond

// Utterance is a finished user turn ready to be sent.
type Utterance struct {
	Data     []byte
	MimeType string
	Filename string
}

func (u Utterance) IsEmpty() bool { return len(u.Data) == 0 }

// NewWAVUtterance wraps encoded WAV bytes.
func NewWAVUtterance(data []byte) Utterance {
	return Utterance{Data: data, MimeType: MimeWAV, Filename: "audio.wav"}
}

// SilentUtterance is the placeholder for a forced commit with no captured
// audio: half a second of silence at DefaultSampleRate.
func SilentUtterance() Utterance {
	data, _ := EncodeWAV(Silence(ForceCommitPlaceholderDuration, DefaultSampleRate), DefaultSampleRate)
	return NewWAVUtterance(data)
}

// FilenameFor picks the upload filename for a mime type.
func FilenameFor(mimeType string) string {
	switch {
	case IsWAV(mimeType):
		return "audio.wav"
	case MediaType(mimeType) == MimeWebM:
		return "audio.webm"
	case IsMP3(mimeType):
		return "audio.mp3"
	}
	return "audio.bin"
}
