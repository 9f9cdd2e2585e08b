// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a logger using the Zap structured logger.
// If stdout is false, a file-based logger writing to <logDir>/<logName>.log is used.
// Otherwise a console logger is used.
//
// The logger is built once by main and passed to every component.
func NewLogger(logDir, logName string, debug, stdout bool) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.LevelKey = "lv"
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(l.CapitalString()[:2])
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.CallerKey = "call"
	}

	var sink zapcore.WriteSyncer
	if stdout {
		sink = zapcore.AddSync(os.Stdout)
	} else {
		if logDir == "" {
			logDir = os.TempDir()
		}
		if logName == "" {
			logName = filepath.Base(os.Args[0])
		}
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			return nil, err
		}

		logFile := filepath.Join(logDir, logName+".log")
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), sink, level)

	if debug {
		return zap.New(core, zap.AddCaller()), nil
	}
	return zap.New(core), nil
}
