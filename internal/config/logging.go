package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the service logger from the logging section.
func NewLogger(c *Config) (*zap.Logger, error) {
	var zc zap.Config
	if c.Observability.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Observability.Logging.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Observability.Logging.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
