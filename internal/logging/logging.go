// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: console output on stdout, debug level when
// verbose. The returned flush must be called before exit.
func New(verbose bool) (*zap.SugaredLogger, func()) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core).Sugar()
	flush := func() {
		_ = logger.Sync()
	}
	return logger, flush
}
