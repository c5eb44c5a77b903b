// Package logging builds the process loggers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the rotated log file written when a directory is set.
const LogFileName = "platesync.log"

// Config holds logger configuration.
type Config struct {
	Level   string // debug, info, warn or error; empty means info
	Dir     string // when set, JSON logs also rotate into Dir/platesync.log
	Console bool   // human-readable console encoding on stderr

	MaxSizeMB  int // rotate after this size (default 10)
	MaxBackups int // rotated files to keep (default 3)
	MaxAgeDays int // prune rotated files older than this (default 28)
}

// New builds the root logger. Components derive their own with Named();
// the logger is injected, never looked up through package state.
func New(config *Config) (*zap.Logger, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Level == "" {
		config.Level = "info"
	}
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	var encoder zapcore.Encoder
	if config.Console {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}

	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(config.Dir, LogFileName),
			MaxSize:    defaultInt(config.MaxSizeMB, 10),
			MaxBackups: defaultInt(config.MaxBackups, 3),
			MaxAge:     defaultInt(config.MaxAgeDays, 28),
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), fileSink, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
