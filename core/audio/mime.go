package audio

import (
	"mime"
	"strconv"
	"strings"
)

const (
	MimeWAV  = "audio/wav"
	MimeWebM = "audio/webm"
	MimeMP3  = "audio/mpeg"
)

// SampleRateFromMime reads the "rate" parameter of a mime type such as
// "audio/pcm;rate=24000", returning fallback when absent or invalid.
func SampleRateFromMime(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		// tolerate sloppy values like "audio/pcm; rate = 8000"
		params = map[string]string{}
		for _, part := range strings.Split(mimeType, ";")[1:] {
			k, v, ok := strings.Cut(part, "=")
			if ok {
				params[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
			}
		}
	}

	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// MediaType returns the lower-cased type/subtype without parameters.
func MediaType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// IsWAV reports whether mimeType names a WAV container.
func IsWAV(mimeType string) bool {
	switch MediaType(mimeType) {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}

// IsMP3 reports whether mimeType names an MPEG audio stream.
func IsMP3(mimeType string) bool {
	switch MediaType(mimeType) {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return true
	}
	return false
}
