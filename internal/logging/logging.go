// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production logger at level, or a development logger when
// debug is set. Unknown levels fall back to info, or debug in debug mode.
func New(level string, debug bool) (*zap.Logger, error) {
	fallback := zapcore.InfoLevel
	cfg := zap.NewProductionConfig()
	if debug {
		fallback = zapcore.DebugLevel
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil || strings.TrimSpace(level) == "" {
		lvl = fallback
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = !debug
	return cfg.Build()
}
