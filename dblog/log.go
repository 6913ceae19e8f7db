// Package dblog is the engine's shared structured logger: zap fronted by a
// rotating lumberjack sink, built once and handed down to every component
// instead of each package calling log.Printf on its own.
package dblog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	once   sync.Once
	global *zap.Logger
)

// Options configures the rotating sink. A zero value logs to stderr only
// (used by tests so they don't litter the filesystem).
type Options struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init builds the process-wide logger. Safe to call multiple times; only
// the first call takes effect, matching the teacher's process-scoped
// singleton convention for the buffer pool and disk scheduler.
func Init(opts Options) *zap.Logger {
	once.Do(func() {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "ts"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		cores := []zapcore.Core{
			zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), zap.DebugLevel),
		}
		if opts.Filename != "" {
			rotate := &lumberjack.Logger{
				Filename:   opts.Filename,
				MaxSize:    maxOr(opts.MaxSizeMB, 64),
				MaxBackups: maxOr(opts.MaxBackups, 3),
				MaxAge:     maxOr(opts.MaxAgeDays, 28),
			}
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotate), zap.DebugLevel))
		}
		global = zap.New(zapcore.NewTee(cores...))
	})
	return global
}

// L returns the global logger, initializing a stderr-only one on first use
// so packages can log without every test wiring Init explicitly.
func L() *zap.Logger {
	if global == nil {
		return Init(Options{})
	}
	return global
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
