package engine

import (
	"fmt"

	"github.com/pion/logging"
	"go.uber.org/zap"
)

// workerLogScopes are the engine subsystems whose logs are forwarded.
var workerLogScopes = map[string]bool{
	"ice":  true,
	"dtls": true,
	"rtp":  true,
	"rtcp": true,
}

// zapLoggerFactory bridges the media engine's leveled loggers into zap at
// warn level, scoped to the worker log tags.
type zapLoggerFactory struct {
	log *zap.Logger
}

func newLoggerFactory(log *zap.Logger) logging.LoggerFactory {
	return &zapLoggerFactory{log: log}
}

func (f *zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapLeveledLogger{
		log:     f.log.With(zap.String("scope", scope)),
		enabled: workerLogScopes[scope],
	}
}

type zapLeveledLogger struct {
	log     *zap.Logger
	enabled bool
}

func (l *zapLeveledLogger) Trace(string)                  {}
func (l *zapLeveledLogger) Tracef(string, ...interface{}) {}
func (l *zapLeveledLogger) Debug(string)                  {}
func (l *zapLeveledLogger) Debugf(string, ...interface{}) {}
func (l *zapLeveledLogger) Info(string)                   {}
func (l *zapLeveledLogger) Infof(string, ...interface{})  {}

func (l *zapLeveledLogger) Warn(msg string) {
	if l.enabled {
		l.log.Warn(msg)
	}
}

func (l *zapLeveledLogger) Warnf(format string, args ...interface{}) {
	if l.enabled {
		l.log.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *zapLeveledLogger) Error(msg string) {
	if l.enabled {
		l.log.Error(msg)
	}
}

func (l *zapLeveledLogger) Errorf(format string, args ...interface{}) {
	if l.enabled {
		l.log.Error(fmt.Sprintf(format, args...))
	}
}
