// Package zapadapter provides a logger that writes to a go.uber.org/zap.Logger.
package zapadapter

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jackc/pglynx"
)

type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (pl *Logger) Log(ctx context.Context, level pglynx.LogLevel, msg string, data map[string]interface{}) {
	fields := make([]zapcore.Field, len(data))
	i := 0
	for k, v := range data {
		fields[i] = zap.Any(k, v)
		i++
	}

	switch level {
	case pglynx.LogLevelTrace:
		pl.logger.Debug(msg, append(fields, zap.Stringer("PGLYNX_LOG_LEVEL", level))...)
	case pglynx.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pglynx.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pglynx.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pglynx.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("PGLYNX_LOG_LEVEL", level))...)
	}
}
