// File: internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/flowreplay/internal/config"
)

var (
	current  atomic.Pointer[zap.Logger]
	initOnce sync.Once
)

const ansiReset = "\x1b[0m"

// ansiColors maps the color names accepted in logger.colors.
var ansiColors = map[string]string{
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// Initialize builds the process logger: one core writing to console in the
// configured format, plus a JSON core on the rotating log file when one is
// set. Only the first call has an effect until ResetForTest.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	initOnce.Do(func() {
		level := zap.NewAtomicLevelAt(zap.InfoLevel)
		if cfg.Level != "" {
			if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
				level.SetLevel(zap.InfoLevel)
			}
		}

		tee := []zapcore.Core{zapcore.NewCore(newEncoder(cfg.Format, cfg.Colors), console, level)}
		if path := LogFilePath(cfg); path != "" {
			// `flowreplay logs` reads this file, so it is JSON whatever the console format.
			rotating := &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			tee = append(tee, zapcore.NewCore(newEncoder("json", config.ColorConfig{}), zapcore.AddSync(rotating), level))
		}

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}
		logger := zap.New(zapcore.NewTee(tee...), opts...).Named(cfg.ServiceName)

		current.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger logs to stderr, leaving stdout to command output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest drops the process logger so the next Initialize takes effect.
func ResetForTest() {
	current.Store(nil)
	initOnce = sync.Once{}
}

// LogFilePath resolves the configured log file, expanding a leading "~".
func LogFilePath(cfg config.LoggerConfig) string {
	if cfg.LogFile == "" {
		return ""
	}
	if path, err := homedir.Expand(cfg.LogFile); err == nil {
		return path
	}
	return cfg.LogFile
}

func newEncoder(format string, colors config.ColorConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format != "console" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}

	ec.EncodeLevel = levelEncoder(colors)
	// "flowreplay.player." reads as a prefix in front of the message.
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

func levelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  ansiColors[colors.Debug],
		zapcore.InfoLevel:   ansiColors[colors.Info],
		zapcore.WarnLevel:   ansiColors[colors.Warn],
		zapcore.ErrorLevel:  ansiColors[colors.Error],
		zapcore.DPanicLevel: ansiColors[colors.DPanic],
		zapcore.PanicLevel:  ansiColors[colors.Panic],
		zapcore.FatalLevel:  ansiColors[colors.Fatal],
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := l.CapitalString()
		if c := byLevel[l]; c != "" {
			name = c + name + ansiReset
		}
		enc.AppendString(name)
	}
}

// GetLogger returns the process logger, or a development logger when
// Initialize has not run yet.
func GetLogger() *zap.Logger {
	if logger := current.Load(); logger != nil {
		return logger
	}
	fallback, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	fallback = fallback.Named("fallback")
	fallback.Warn("Logger used before initialization.")
	return fallback
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	logger := current.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncable(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// unsyncable matches the errors fsync returns for terminals and pipes.
func unsyncable(err error) bool {
	if errors.Is(err, syscall.EINVAL) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/std") || strings.Contains(msg, "operation not supported")
}
