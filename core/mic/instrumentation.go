package mic

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-avatar/core/mic"

var logger = otelslog.NewLogger(scopeName)
