package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

type gormLogger struct {
	logger   logr.Logger
	logLevel gormlogger.LogLevel
}

func newGormLogger(logger logr.Logger) gormlogger.Interface {
	return &gormLogger{
		logger:   logger.WithName("gorm"),
		logLevel: gormlogger.Warn,
	}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{logger: l.logger, logLevel: level}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Info {
		l.logger.V(1).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Warn {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Error {
		l.logger.Error(nil, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.logLevel >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error(err, "query failed", "sql", sql, "rows", rows, "duration", elapsed)
	case elapsed > slowQueryThreshold && l.logLevel >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Info("slow query", "sql", sql, "rows", rows, "duration", elapsed)
	case l.logLevel >= gormlogger.Info:
		sql, rows := fc()
		l.logger.V(2).Info("query", "sql", sql, "rows", rows, "duration", elapsed)
	}
}
