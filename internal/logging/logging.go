// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects log outputs.
type Config struct {
	// Level is a zap level name: debug, info, warn, error (default: info).
	Level string

	// File enables JSON logs in a rotating file when non-empty.
	File string

	// Console writes human-readable logs to Stderr. When File is empty,
	// console output is used regardless.
	Console bool

	// Stderr overrides the console writer (default: os.Stderr).
	Stderr io.Writer

	// Rotation limits for File.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig returns console logging at info level with 10MB x 3 rotation.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// New creates a logger. The returned close func flushes and releases the
// log file; call it before exit.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	atomic := zap.NewAtomicLevelAt(level)

	var cores []zapcore.Core
	var closers []io.Closer

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		closers = append(closers, rotator)

		encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), atomic))
	}

	if cfg.Console || cfg.File == "" {
		out := cfg.Stderr
		if out == nil {
			out = os.Stderr
		}
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), atomic))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))

	closeFn := func() {
		_ = logger.Sync()
		for _, c := range closers {
			_ = c.Close()
		}
	}
	return logger, closeFn, nil
}
