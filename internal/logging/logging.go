// Package logging builds the service's structured logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component logger names.
const (
	Pipeline = "pipeline"
	Submit   = "submit"
	Audit    = "audit"
	Ops      = "ops"
)

// Config selects level and encoding.
type Config struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	Outputs     []string `yaml:"outputs"`
}

// New builds a logger and returns it with its runtime-adjustable level.
// Production uses the JSON encoder with ISO8601 timestamps; development uses
// the console encoder.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := resolveLevel(cfg)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	var base zap.Config
	if cfg.Development {
		base = zap.NewDevelopmentConfig()
	} else {
		base = zap.NewProductionConfig()
		base.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		base.Sampling = nil
	}
	base.Level = level
	base.DisableStacktrace = !cfg.Development
	if len(cfg.Outputs) > 0 {
		base.OutputPaths = cfg.Outputs
	}

	logger, err := base.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return logger, level, nil
}

func resolveLevel(cfg Config) (zap.AtomicLevel, error) {
	if strings.TrimSpace(cfg.Level) == "" {
		if cfg.Development {
			return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
		}
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	var parsed zapcore.Level
	if err := parsed.Set(cfg.Level); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	return zap.NewAtomicLevelAt(parsed), nil
}
