package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger at the configured level.
func (l Log) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if l.Dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}

// Tee returns a logger writing to logger's core and to every extra core.
func Tee(logger *zap.Logger, extra ...zapcore.Core) *zap.Logger {
	if len(extra) == 0 {
		return logger
	}
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(append([]zapcore.Core{core}, extra...)...)
	}))
}
