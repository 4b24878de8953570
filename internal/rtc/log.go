/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	pionLogging "github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

type leveledLogrusLogger struct {
	logrus.FieldLogger
	debug bool
}

func (ll *leveledLogrusLogger) Trace(msg string) {
	if ll.debug {
		ll.FieldLogger.Debug(msg)
	}
}
func (ll *leveledLogrusLogger) Tracef(format string, args ...interface{}) {
	if ll.debug {
		ll.FieldLogger.Debugf(format, args...)
	}
}
func (ll *leveledLogrusLogger) Debug(msg string) {
	if ll.debug {
		ll.FieldLogger.Debug(msg)
	}
}
func (ll *leveledLogrusLogger) Debugf(format string, args ...interface{}) {
	if ll.debug {
		ll.FieldLogger.Debugf(format, args...)
	}
}
func (ll *leveledLogrusLogger) Info(msg string) {
	ll.FieldLogger.Info(msg)
}
func (ll *leveledLogrusLogger) Warn(msg string) {
	ll.FieldLogger.Warn(msg)
}
func (ll *leveledLogrusLogger) Error(msg string) {
	ll.FieldLogger.Error(msg)
}

type loggerFactory struct {
	logger logrus.FieldLogger
	debug  bool
}

func (factory *loggerFactory) NewLogger(scope string) pionLogging.LeveledLogger {
	return &leveledLogrusLogger{
		FieldLogger: factory.logger.WithField("webrtc", scope),
		debug:       factory.debug,
	}
}

func isDebugLogger(logger logrus.FieldLogger) bool {
	switch l := logger.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.DebugLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.DebugLevel)
	}
	return false
}
