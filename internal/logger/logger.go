package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogFile is where the daemon logs when no file is configured.
const DefaultLogFile = "/var/log/ocland.log"

func New(verbosity string) (*zap.Logger, error) {
	return NewWithFile(verbosity, "")
}

// NewWithFile logs JSON to stderr and, when file is not empty, also to file.
// Timestamps are ISO8601 so daemon logs line up with the access times of
// client sessions.
func NewWithFile(verbosity, file string) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = level.Level() > zapcore.DebugLevel
	if file != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, file)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, file)
	}
	return cfg.Build()
}
