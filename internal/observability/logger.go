package observability

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the session logger on w. Verbosity 0 logs warnings and
// above as JSON; 1 or more switches to the console encoder at debug level.
func NewLogger(verbose int, w io.Writer) *zap.Logger {
	if w == nil {
		return zap.NewNop()
	}

	var enc zapcore.Encoder
	level := zapcore.WarnLevel
	if verbose > 0 {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.TimeKey = ""
		enc = zapcore.NewConsoleEncoder(cfg)
		level = zapcore.DebugLevel
	} else {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core).Named("taxdesk")
}
