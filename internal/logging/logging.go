// Package logging wraps zap.Logger with the field/encoder conventions used
// throughout the recorder: JSON in production-like environments, console
// output otherwise, with a process-wide default accessible without plumbing
// a logger through every constructor.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the default logger is constructed.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Logger wraps a *zap.Logger, carrying a set of fields applied to every
// subsequent log call made through WithFields derivatives.
type Logger struct {
	zap    *zap.Logger
	sugar  *zap.SugaredLogger
	fields []zap.Field
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide logger, building it from the environment
// on first use if nothing has called SetDefault yet.
func Default() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger == nil {
			l, err := NewLogger(Config{Level: "info", Format: detectFormat()})
			if err != nil {
				l = &Logger{zap: zap.NewNop()}
			}
			defaultLogger = l
		}
	})
	return defaultLogger
}

// SetDefault overrides the process-wide logger. Intended to be called once
// at startup after config has been loaded.
func SetDefault(l *Logger) {
	defaultOnce.Do(func() {})
	defaultLogger = l
}

func detectFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := strings.ToLower(os.Getenv("RECORDER_ENV")); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// NewLogger builds a Logger from Config.
func NewLogger(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	format := strings.ToLower(cfg.Format)
	if format == "console" || format == "text" || format == "" {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(consoleCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	writer, err := openWriteSyncer(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, writer, level)
	zl := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{zap: zl, sugar: zl.Sugar()}, nil
}

func openWriteSyncer(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return zapcore.AddSync(f), nil
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithFields returns a derived Logger that always includes the given fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	merged := make([]zap.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{zap: l.zap, sugar: l.sugar, fields: merged}
}

// WithError returns a derived Logger with an "error" field attached.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// WithRecording returns a derived Logger tagged with a recording id.
func (l *Logger) WithRecording(recordingID string) *Logger {
	return l.WithFields(zap.String("recording_id", recordingID))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, append(l.fields, fields...)...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, append(l.fields, fields...)...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, append(l.fields, fields...)...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, append(l.fields, fields...)...)
}

func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, append(l.fields, fields...)...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Zap exposes the underlying *zap.Logger for callers that need the native API.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}
