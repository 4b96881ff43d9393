package eventbus

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-voice/internal/eventbus"

var logger = otelslog.NewLogger(scopeName)
