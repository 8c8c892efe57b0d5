// Package logger builds the process wide zap logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "fhebridge"

// Config selects the encoder and level
type Config struct {
	Stage      string // "prod" gives JSON output, anything else a console encoder
	Level      string // debug, info, warn, error
	EnableJSON bool   // force JSON outside prod
}

// Init builds a logger for stage at level
func Init(stage, level string) (*zap.Logger, error) {
	return New(Config{Stage: stage, Level: level})
}

// New builds a logger from cfg
func New(cfg Config) (*zap.Logger, error) {
	lvl := ParseLevel(cfg.Level)

	var zc zap.Config
	if cfg.Stage == "prod" || cfg.EnableJSON {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.InitialFields = map[string]interface{}{
			"service": serviceName,
			"stage":   cfg.Stage,
		}
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	return zc.Build()
}

// ParseLevel maps a level name to a zap level, defaulting to info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
