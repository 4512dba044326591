// Package logger builds the process logger and the GORM logger that writes
// through it.
package logger

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// New returns a JSON logger. An unknown level falls back to info and is
// reported once the logger exists.
func New(level string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		defer l.WithField("log_level", level).Warn("unknown log level, using info")
	}
	l.SetLevel(lvl)
	return l
}

// GormLevel maps a logrus level to GORM's coarser scale. SQL statements are
// traced only at debug and below.
func GormLevel(l logrus.Level) gormlogger.LogLevel {
	switch {
	case l >= logrus.DebugLevel:
		return gormlogger.Info
	case l >= logrus.WarnLevel:
		return gormlogger.Warn
	case l >= logrus.ErrorLevel:
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}

func Gorm(l *logrus.Logger) gormlogger.Interface {
	return gormlogger.New(l, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  GormLevel(l.GetLevel()),
		IgnoreRecordNotFoundError: true,
	})
}
