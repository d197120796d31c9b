// Package kitlogadapter provides a logger that writes to a github.com/go-kit/log.Logger.
package kitlogadapter

import (
	"context"

	"github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"

	"github.com/jackc/pglynx"
)

type Logger struct {
	l log.Logger
}

func NewLogger(l log.Logger) *Logger {
	return &Logger{l: l}
}

func (l *Logger) Log(ctx context.Context, level pglynx.LogLevel, msg string, data map[string]interface{}) {
	logger := l.l
	for k, v := range data {
		logger = log.With(logger, k, v)
	}

	switch level {
	case pglynx.LogLevelTrace:
		logger.Log("PGLYNX_LOG_LEVEL", level, "msg", msg)
	case pglynx.LogLevelDebug:
		kitlevel.Debug(logger).Log("msg", msg)
	case pglynx.LogLevelInfo:
		kitlevel.Info(logger).Log("msg", msg)
	case pglynx.LogLevelWarn:
		kitlevel.Warn(logger).Log("msg", msg)
	case pglynx.LogLevelError:
		kitlevel.Error(logger).Log("msg", msg)
	default:
		logger.Log("INVALID_PGLYNX_LOG_LEVEL", level, "error", msg)
	}
}
