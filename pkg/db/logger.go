package db

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

type gormLogger struct {
	log   *logrus.Entry
	level logger.LogLevel
}

// NewLogger routes gorm's logging through logrus. SQL traces are only emitted at the trace log level.
func NewLogger(logLevel string) logger.Interface {
	level := logger.Warn
	switch logLevel {
	case "trace":
		level = logger.Info
	case "error":
		level = logger.Error
	}

	return &gormLogger{
		log:   logrus.WithField("component", "gorm"),
		level: level,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{
		log:   l.log,
		level: level,
	}
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.log.Infof(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.log.Warnf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.log.Errorf(msg, args...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		l.log.WithError(err).WithFields(logrus.Fields{
			"duration": elapsed,
			"rows":     rows,
		}).Error(sql)
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{
			"duration": elapsed,
			"rows":     rows,
		}).Warn("slow query: " + sql)
	case l.level >= logger.Info:
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{
			"duration": elapsed,
			"rows":     rows,
		}).Trace(sql)
	}
}
