// Package logging builds the application's zap logger: JSON to a rotated
// file, with an optional human-readable console tee for development.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/donsn/CryptoTradingFramework/internal/config"
)

// New constructs the logger described by cfg. The log level comes from the
// LOG_LEVEL environment variable and defaults to info.
func New(cfg config.LogConfig) *zap.Logger {
	fileHandler := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	level := zap.InfoLevel
	if levelEnv := os.Getenv("LOG_LEVEL"); levelEnv != "" {
		if parsed, err := zapcore.ParseLevel(levelEnv); err == nil {
			level = parsed
		}
	}
	logLevel := zap.NewAtomicLevelAt(level)

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.TimeKey = "timestamp"
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(fileHandler), logLevel),
	}
	if cfg.Console {
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stdout), logLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
