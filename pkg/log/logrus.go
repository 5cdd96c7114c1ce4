package log

import "github.com/sirupsen/logrus"

// LogrusLogger is an adapter for Logrus implementing the Logger interface.
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger returns a new Logger wrapping Logrus.
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{
		logger: logger,
	}
}

// Debug logs a Debug level event.
func (l *LogrusLogger) Debug(args ...interface{}) {
	l.logger.Debug(args...)
}

// Info logs an Info level event.
func (l *LogrusLogger) Info(args ...interface{}) {
	l.logger.Info(args...)
}

// Warn logs a Warn level event.
func (l *LogrusLogger) Warn(args ...interface{}) {
	l.logger.Warn(args...)
}

// Error logs an Error level event.
func (l *LogrusLogger) Error(args ...interface{}) {
	l.logger.Error(args...)
}

// Debugf formats and logs a Debug level event.
func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Infof formats and logs an Info level event.
func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Warnf formats and logs a Warn level event.
func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Errorf formats and logs an Error level event.
func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// WithField returns a LogrusLogger with the given field attached to every
// subsequent log line, handy for stamping a request ID or account name.
func (l *LogrusLogger) WithField(key string, value interface{}) *LogrusLogger {
	return &LogrusLogger{logger: l.logger.WithField(key, value)}
}
