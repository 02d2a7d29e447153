// Package logging adapts zap to the runtime's core.Logger interface,
// with optional file rotation.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log output. An empty FilePath logs to stderr only.
type Config struct {
	Level      string `yaml:"level"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// DefaultConfig returns stderr-only logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 14,
		Console:    true,
	}
}

// ZapLogger implements core.Logger on a zap.SugaredLogger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger from config.
func New(cfg Config) *ZapLogger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level = parsed
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if cfg.Console || cfg.FilePath == "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}
	if cfg.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(writer),
			level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return &ZapLogger{sugar: logger.Sugar()}
}

// NewDevelopment returns a debug-level console logger for tests and
// local runs.
func NewDevelopment() *ZapLogger {
	logger, _ := zap.NewDevelopment()
	return &ZapLogger{sugar: logger.Sugar()}
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.sugar.Infow(msg, flatten(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	l.sugar.Errorw(msg, flatten(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.sugar.Warnw(msg, flatten(fields)...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.sugar.Debugw(msg, flatten(fields)...)
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error { return l.sugar.Sync() }

func flatten(fields map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}
