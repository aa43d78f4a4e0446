/*******************************************************************************
* Copyright (C) 2026 the Eclipse BaSyx Authors and Fraunhofer IESE
*
* Permission is hereby granted, free of charge, to any person obtaining
* a copy of this software and associated documentation files (the
* "Software"), to deal in the Software without restriction, including
* without limitation the rights to use, copy, modify, merge, publish,
* distribute, sublicense, and/or sell copies of the Software, and to
* permit persons to whom the Software is furnished to do so, subject to
* the following conditions:
*
* The above copyright notice and this permission notice shall be
* included in all copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
* EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
* MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
* NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE
* LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION
* OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION
* WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*
* SPDX-License-Identifier: MIT
******************************************************************************/

// Package obslog provides centralized structured logging for the bridge
// daemon. Every error surfaced through internal/bridgeerr is logged with
// its category, operation, and topic/path identifier, per the error
// handling design.
package obslog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/bridgeerr"
)

var (
	mu     sync.RWMutex
	logger = mustDefault()
)

func mustDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a bare encoder rather than panicking at import time.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Configure replaces the package logger, e.g. to switch to development mode
// or console encoding for `validate`/`status` CLI output.
func Configure(development bool) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return
	}
	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// LogError logs a bridgeerr.BridgeError (or any error) with its category,
// operation, and identifier extracted when available.
func LogError(err error) {
	if err == nil {
		return
	}
	l := current()
	if kind, ok := bridgeerr.KindOf(err); ok {
		l.Errorw(err.Error(), "errorType", string(kind))
		return
	}
	l.Errorw(err.Error())
}

// LogInfo logs an informational message with structured fields.
func LogInfo(msg string, fields ...any) {
	current().Infow(msg, fields...)
}

// LogWarning logs a warning message with structured fields.
func LogWarning(msg string, fields ...any) {
	current().Warnw(msg, fields...)
}

// LogDebug logs a debug message with structured fields.
func LogDebug(msg string, fields ...any) {
	current().Debugw(msg, fields...)
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = current().Sync()
}

func init() {
	if os.Getenv("UNSBRIDGE_LOG_DEV") == "1" {
		Configure(true)
	}
}
