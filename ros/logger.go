package ros

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the external collaborator every subsystem logs through; the
// node runtime never assumes a particular logging framework, only this
// interface. NewDefaultLogger gives callers a ready-to-use implementation
// so they don't have to write one just to get started.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
}

// defaultLogger wraps a *logrus.Entry so withFields can keep building up
// scoped loggers from whatever point it starts at.
type defaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger returns a Logger backed by logrus, writing leveled,
// structured lines to stderr. ROS_LOG_LEVEL (debug|info|warn|error)
// overrides the default Info level.
func NewDefaultLogger() Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if lvl, err := logrus.ParseLevel(os.Getenv("ROS_LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &defaultLogger{entry: logrus.NewEntry(l)}
}

// withFields scopes subsequent log lines to a subsystem, e.g.
// logger.withFields(logrus.Fields{"topic": name}). Subsystems that want
// structured fields but were handed a plain Logger can type-assert for
// this; everyone else just uses the interface above.
func withFields(logger Logger, fields logrus.Fields) Logger {
	dl, ok := logger.(*defaultLogger)
	if !ok {
		return logger
	}
	return &defaultLogger{entry: dl.entry.WithFields(fields)}
}

func (l *defaultLogger) Debug(v ...interface{})                 { l.entry.Debug(v...) }
func (l *defaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *defaultLogger) Info(v ...interface{})                  { l.entry.Info(v...) }
func (l *defaultLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *defaultLogger) Warn(v ...interface{})                  { l.entry.Warn(v...) }
func (l *defaultLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *defaultLogger) Error(v ...interface{})                 { l.entry.Error(v...) }
func (l *defaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *defaultLogger) Fatal(v ...interface{})                 { l.entry.Fatal(v...) }
func (l *defaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }
