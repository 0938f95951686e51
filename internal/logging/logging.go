package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. format is "json" (production encoder) or
// "console" (development encoder).
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// CronLogger adapts a zap logger to the cron.Logger interface.
type CronLogger struct {
	Log *zap.SugaredLogger
}

// NewCronLogger wraps log for use with cron.WithLogger.
func NewCronLogger(log *zap.Logger) CronLogger {
	return CronLogger{Log: log.Named("cron").Sugar()}
}

// Info logs routine scheduler messages at debug level; cron is chatty.
func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Log.Debugw(msg, keysAndValues...)
}

// Error logs scheduler errors.
func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Log.Errorw(msg, append(keysAndValues, "error", err)...)
}
