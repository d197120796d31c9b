// Package zerologadapter provides a logger that writes to a github.com/rs/zerolog.
package zerologadapter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jackc/pglynx"
)

type Logger struct {
	logger zerolog.Logger
}

// NewLogger accepts a zerolog.Logger as input and returns a new custom pglynx
// logging facade as output.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("module", "pglynx").Logger(),
	}
}

func (pl *Logger) Log(ctx context.Context, level pglynx.LogLevel, msg string, data map[string]interface{}) {
	var zlevel zerolog.Level
	switch level {
	case pglynx.LogLevelNone:
		zlevel = zerolog.NoLevel
	case pglynx.LogLevelError:
		zlevel = zerolog.ErrorLevel
	case pglynx.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case pglynx.LogLevelInfo:
		zlevel = zerolog.InfoLevel
	case pglynx.LogLevelDebug, pglynx.LogLevelTrace:
		zlevel = zerolog.DebugLevel
	default:
		zlevel = zerolog.DebugLevel
	}

	pl.logger.WithLevel(zlevel).Fields(data).Msg(msg)
}
