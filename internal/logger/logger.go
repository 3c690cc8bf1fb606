package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bankfeed/internal/config"
)

// New builds the process logger from config. The engine passes it around
// explicitly; nothing logs through a global. Unknown levels fall back to
// info rather than failing startup.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	if cfg.Encoding == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
	}

	var sampling *zap.SamplingConfig
	if cfg.Sampling {
		sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	return zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          cfg.Encoding,
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		Sampling:          sampling,
		EncoderConfig:     enc,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}.Build()
}
