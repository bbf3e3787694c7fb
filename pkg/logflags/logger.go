package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used by every picdbg layer.
// *logrus.Entry provides everything but WithField.
type Logger interface {
	// WithField returns a Logger adding key=value to every message.
	WithField(key string, value interface{}) Logger

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

// Fields are the key/value pairs attached to every message of a Logger.
type Fields map[string]interface{}

// LoggerFactory builds the Logger of a layer. fields and out may be nil.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory makes every Logger created afterwards come from lf
// instead of logrus.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}
