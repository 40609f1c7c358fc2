package syncrun

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level log level
type Level int8

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
)

// Logger is the logging interface used across syncrun. Correlation fields
// (runId, tenantId, platform...) are bound once with WithFields and carried
// by the returned child logger.
type Logger interface {
	WithFields(kv ...interface{}) Logger
	Trace(ctx context.Context, format string, args ...interface{})
	Debug(ctx context.Context, format string, args ...interface{})
	Info(ctx context.Context, format string, args ...interface{})
	Warn(ctx context.Context, format string, args ...interface{})
	Error(ctx context.Context, format string, args ...interface{})
}

// NewLogger builds the default zap-backed Logger writing JSON lines to w.
func NewLogger(w io.Writer, level Level) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zapLevel(level))
	return &zapLogger{
		sugar: zap.New(core).Sugar(),
		trace: level <= Trace,
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case Trace, Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

type zapLogger struct {
	sugar *zap.SugaredLogger
	// zap has no trace level; trace records are emitted as debug when enabled
	trace bool
}

func (l *zapLogger) WithFields(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...), trace: l.trace}
}

func (l *zapLogger) Trace(_ context.Context, format string, args ...interface{}) {
	if l.trace {
		l.sugar.Debugf(format, args...)
	}
}

func (l *zapLogger) Debug(_ context.Context, format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *zapLogger) Info(_ context.Context, format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *zapLogger) Warn(_ context.Context, format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *zapLogger) Error(_ context.Context, format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}
