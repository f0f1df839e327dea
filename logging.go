package main

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger. While the TUI owns the terminal, logs
// go to a file so the alt screen is not corrupted.
func newLogger(cfg Config, tui bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.DisableStacktrace = true
	if !cfg.Verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	path := cfg.LogFile
	if path == "" && tui {
		path = filepath.Join(os.TempDir(), "peeplink.log")
	}
	if path != "" {
		zc.Encoding = "json"
		zc.EncoderConfig = zap.NewProductionEncoderConfig()
		zc.OutputPaths = []string{path}
		zc.ErrorOutputPaths = []string{path}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}
	return zc.Build()
}
