// Package zaplog adapts a zap logger to outbox.Logger.
package zaplog

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	outbox "github.com/velmie/txoutbox"
)

// Logger forwards key/value logs to a zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ outbox.Logger = (*Logger)(nil)

// Wrap adapts logger. A nil logger discards everything.
func Wrap(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Logger{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Config selects the encoder profile and level of New.
type Config struct {
	// Development enables the development profile (debug level by default).
	Development bool
	// Level overrides the profile level, e.g. "warn".
	Level string
}

// New builds a JSON zap logger. It returns the logger and a handle to change the level at
// runtime.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	base := zap.NewProductionConfig()
	if cfg.Development {
		base = zap.NewDevelopmentConfig()
	}
	base.Encoding = "json"
	base.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	base.DisableStacktrace = true

	if strings.TrimSpace(cfg.Level) != "" {
		var level zapcore.Level
		if err := level.Set(cfg.Level); err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("zaplog: invalid level %q: %w", cfg.Level, err)
		}
		base.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := base.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("zaplog: build logger: %w", err)
	}

	return logger, base.Level, nil
}
