// Package logging builds the zap logger shared by the CLI, web and MCP
// binaries.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger. level is any zap level name; format is "json" or
// "console"; output is "stdout", "stderr" (or empty) or a file path opened
// for appending. The returned cleanup flushes the logger and closes the log
// file; call it once the logger is no longer used.
func New(level, format, output string) (*zap.Logger, func(), error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (want json or console)", format)
	}

	var ws zapcore.WriteSyncer
	closeOutput := func() error { return nil }
	switch output {
	case "stdout":
		ws = zapcore.Lock(os.Stdout)
	case "", "stderr":
		ws = zapcore.Lock(os.Stderr)
	default:
		file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		ws = zapcore.AddSync(file)
		closeOutput = file.Close
	}

	core := zapcore.NewCore(encoder, ws, zapLevel)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			logger.Sync()
			closeOutput()
		})
	}
	return logger, cleanup, nil
}
