package orchestration

import (
	"fmt"
	"time"
)

const debugLogCapacity = 40

// DebugCategory tags a debug log entry for display.
type DebugCategory string

const (
	DebugInfo      DebugCategory = "info"
	DebugSpeech    DebugCategory = "speech"
	DebugTransport DebugCategory = "transport"
	DebugError     DebugCategory = "error"
	DebugEvent     DebugCategory = "event"
)

// Color is the display color for the category.
func (c DebugCategory) Color() string {
	switch c {
	case DebugInfo:
		return "#22c55e"
	case DebugSpeech:
		return "#eab308"
	case DebugTransport:
		return "#3b82f6"
	case DebugError:
		return "#ef4444"
	case DebugEvent:
		return "#a855f7"
	}
	return "#9ca3af"
}

type DebugEntry struct {
	Time     time.Time
	Label    string
	Category DebugCategory
}

// debugLog keeps the newest entries first. It is purely observational.
type debugLog struct {
	entries []DebugEntry
}

func (l *debugLog) add(category DebugCategory, label string) {
	entry := DebugEntry{Time: time.Now(), Label: label, Category: category}
	l.entries = append([]DebugEntry{entry}, l.entries...)
	if len(l.entries) > debugLogCapacity {
		l.entries = l.entries[:debugLogCapacity]
	}
}

func (l *debugLog) addf(category DebugCategory, format string, args ...any) {
	l.add(category, fmt.Sprintf(format, args...))
}

func (l *debugLog) snapshot() []DebugEntry {
	out := make([]DebugEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func kilobytes(n int) string {
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}
