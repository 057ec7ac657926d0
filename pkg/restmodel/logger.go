package restmodel

import (
	"github.com/go-logr/logr"
)

// Logger is the structured logging surface used across the package.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// logrLogger bridges a logr.Logger into the Logger interface.
type logrLogger struct {
	logger logr.Logger
}

// NewLogrLogger adapts a logr sink. Debug maps to V(1), Warn and Error carry
// a "level" key since logr has no dedicated severities for them.
func NewLogrLogger(logger logr.Logger) Logger {
	return &logrLogger{logger: logger}
}

func (l *logrLogger) Debug(msg string, fields map[string]interface{}) {
	l.logger.V(1).Info(msg, flatten(fields)...)
}

func (l *logrLogger) Info(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, flatten(fields)...)
}

func (l *logrLogger) Warn(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, append(flatten(fields), "level", "warn")...)
}

func (l *logrLogger) Error(msg string, fields map[string]interface{}) {
	l.logger.Error(nil, msg, flatten(fields)...)
}

func flatten(fields map[string]interface{}) []interface{} {
	flat := make([]interface{}, 0, len(fields)*2)
	for key, value := range fields {
		flat = append(flat, key, value)
	}

	return flat
}
