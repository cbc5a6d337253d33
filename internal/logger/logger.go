package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// zapLogger wraps a *zap.SugaredLogger and implements Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Ensure zapLogger satisfies Logger.
var _ Logger = (*zapLogger)(nil)

// Debug logs at DebugLevel. keysAndValues are alternating key/value pairs.
func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs at InfoLevel.
func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs at WarnLevel.
func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs at ErrorLevel.
func (l *zapLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// globalSugar holds the SugaredLogger for easy global use.
var globalSugar *zap.SugaredLogger

// Init creates a Zap logger, wraps it, and returns the Logger interface.
// Call this once at startup.
func Init() (Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	zapLog, err := cfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	if err != nil {
		return nil, err
	}

	sugar := zapLog.Sugar()
	globalSugar = sugar

	return &zapLogger{sugar: sugar}, nil
}

// Cleanup flushes any buffered log entries. Call at program exit.
func Cleanup() {
	if globalSugar != nil {
		_ = globalSugar.Sync()
	}
}

// Global returns the Logger created by Init(), for use in libraries.
func Global() Logger {
	if globalSugar == nil {
		zapLog := zap.Must(zap.NewDevelopment())
		globalSugar = zapLog.Sugar()
	}
	return &zapLogger{sugar: globalSugar}
}

// Nop returns a Logger that discards everything, for tests and library callers
// that do not want output.
func Nop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}
