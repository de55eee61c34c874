package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func NewDefaultConfig() *Config {
	return &Config{Level: "info", Format: "console"}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("logging config is nil")
	}
	if _, err := c.zapLevel(); err != nil {
		return err
	}
	switch c.Format {
	case "", "json", "console":
		return nil
	default:
		return fmt.Errorf("unsupported log format %q (want json or console)", c.Format)
	}
}

func (c *Config) zapLevel() (zapcore.Level, error) {
	if c.Level == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}
