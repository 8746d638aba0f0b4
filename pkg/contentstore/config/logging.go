package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls the logger returned by NewLogger
type LogConfig struct {
	Level      string `yaml:"level" json:"level" toml:"level" env:"CONTENT_LOG_LEVEL" env-description:"debug, info, warn or error"`
	File       string `yaml:"file" json:"file" toml:"file" env:"CONTENT_LOG_FILE" env-description:"log file path; empty logs to stderr"`
	JSON       bool   `yaml:"json" json:"json" toml:"json" env:"CONTENT_LOG_JSON" env-description:"JSON output on stderr"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" toml:"max_size_mb" env:"CONTENT_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" toml:"max_backups" env:"CONTENT_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" toml:"max_age_days" env:"CONTENT_LOG_MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" json:"compress" toml:"compress" env:"CONTENT_LOG_COMPRESS"`
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// NewLogger builds a zap logger. With File set, entries are written as JSON
// to a size-rotated file; otherwise to stderr.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var core zapcore.Core
	if c.Log.File != "" {
		writer, err := c.fileWriter()
		if err != nil {
			return nil, err
		}
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, zap.NewAtomicLevelAt(level))
	} else {
		encoder := zapcore.NewConsoleEncoder(encoderConfig)
		if c.Log.JSON {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		}
		core = zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(level))
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func (c *Config) fileWriter() (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(c.Log.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    c.Log.MaxSizeMB, // megabytes
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAgeDays, // days
		Compress:   c.Log.Compress,
	}), nil
}
