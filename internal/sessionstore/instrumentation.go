package sessionstore

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-voice/internal/sessionstore"

var logger = otelslog.NewLogger(scopeName)
