// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log exposes the package-level logging functions used across
// conda-store. The inner logger is a zap SugaredLogger and can be swapped
// at runtime, which tests use to install a nop or observed logger.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = newDefaultLogger()
)

func newDefaultLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// The production config cannot fail to build; fall back to a nop
		// logger rather than panicking during init.
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// SetupLogger replaces the inner logger. The previous logger is returned so
// callers (mostly tests) can restore it.
func SetupLogger(l *zap.SugaredLogger) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	old := logger
	logger = l
	return old
}

// ChangeLogLevel rebuilds the inner logger at the given level.
func ChangeLogLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	SetupLogger(l.Sugar())
	return nil
}

// Flush flushes any buffered log entries.
func Flush() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debugf formats message according to format specifier and logs it at the
// debug level.
func Debugf(format string, params ...interface{}) {
	get().Debugf(format, params...)
}

// Infof formats message according to format specifier and logs it at the
// info level.
func Infof(format string, params ...interface{}) {
	get().Infof(format, params...)
}

// Warnf formats message according to format specifier and logs it at the
// warn level.
func Warnf(format string, params ...interface{}) {
	get().Warnf(format, params...)
}

// Errorf formats message according to format specifier and logs it at the
// error level.
func Errorf(format string, params ...interface{}) {
	get().Errorf(format, params...)
}

// Debug logs at the debug level.
func Debug(v ...interface{}) {
	get().Debug(v...)
}

// Info logs at the info level.
func Info(v ...interface{}) {
	get().Info(v...)
}

// Warn logs at the warn level.
func Warn(v ...interface{}) {
	get().Warn(v...)
}

// Error logs at the error level.
func Error(v ...interface{}) {
	get().Error(v...)
}
