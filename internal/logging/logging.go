// Package logging constructs the zap loggers used across the controller.
// Subsystems get a child logger scoped with a fixed component field via
// Component (zap's With), rather than the
// string-interpolated "dvr[%s]: ..." prefixes this is patterned on.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root logger. Development mode uses zap's human-readable
// console encoder at debug level; production mode uses JSON at info level.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Component returns a child logger scoped to a named subsystem, e.g.
// Component(log, "phase-machine") or with extra fields via .With(...).
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
