// Package log15adapter provides a logger that writes to a github.com/inconshreveable/log15.Logger.
package log15adapter

import (
	"context"

	log15 "gopkg.in/inconshreveable/log15.v2"

	"github.com/jackc/pglynx"
)

// Logger is a pglynx Logger that writes to a log15.Logger.
type Logger struct {
	l log15.Logger
}

func NewLogger(l log15.Logger) *Logger {
	return &Logger{l: l}
}

func (l *Logger) Log(ctx context.Context, level pglynx.LogLevel, msg string, data map[string]interface{}) {
	logArgs := make([]interface{}, 0, len(data)*2)
	for k, v := range data {
		logArgs = append(logArgs, k, v)
	}

	switch level {
	case pglynx.LogLevelTrace:
		logArgs = append(logArgs, "PGLYNX_LOG_LEVEL", level)
		l.l.Debug(msg, logArgs...)
	case pglynx.LogLevelDebug:
		l.l.Debug(msg, logArgs...)
	case pglynx.LogLevelInfo:
		l.l.Info(msg, logArgs...)
	case pglynx.LogLevelWarn:
		l.l.Warn(msg, logArgs...)
	case pglynx.LogLevelError:
		l.l.Error(msg, logArgs...)
	default:
		logArgs = append(logArgs, "INVALID_PGLYNX_LOG_LEVEL", level)
		l.l.Error(msg, logArgs...)
	}
}
