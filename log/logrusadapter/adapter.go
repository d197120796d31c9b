// Package logrusadapter provides a logger that writes to a github.com/sirupsen/logrus.Logger.
package logrusadapter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jackc/pglynx"
)

type Logger struct {
	l logrus.FieldLogger
}

func NewLogger(l logrus.FieldLogger) *Logger {
	return &Logger{l: l}
}

func (l *Logger) Log(ctx context.Context, level pglynx.LogLevel, msg string, data map[string]interface{}) {
	var logger logrus.FieldLogger
	if data != nil {
		logger = l.l.WithFields(data)
	} else {
		logger = l.l
	}

	switch level {
	case pglynx.LogLevelTrace:
		logger.WithField("PGLYNX_LOG_LEVEL", level).Debug(msg)
	case pglynx.LogLevelDebug:
		logger.Debug(msg)
	case pglynx.LogLevelInfo:
		logger.Info(msg)
	case pglynx.LogLevelWarn:
		logger.Warn(msg)
	case pglynx.LogLevelError:
		logger.Error(msg)
	default:
		logger.WithField("INVALID_PGLYNX_LOG_LEVEL", level).Error(msg)
	}
}
