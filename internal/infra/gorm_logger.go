package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// sqlLogger 把 GORM 的日志桥接到 zap
// 入库与检索管线会高频执行小查询, 这里只关心两类信号:
// 执行错误和慢查询。record not found 在内容哈希比对等路径上是
// 正常流程, 一律不当错误记。
type sqlLogger struct {
	zl            *zap.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

func newSQLLogger(zl *zap.Logger, slowThreshold time.Duration) *sqlLogger {
	return &sqlLogger{
		zl:            zl,
		level:         gormLogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (l *sqlLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.zl.Sugar().Infof(msg, data...)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.zl.Sugar().Warnf(msg, data...)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.zl.Sugar().Errorf(msg, data...)
	}
}

func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound):
		l.zl.Error("SQL 执行错误",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		l.zl.Warn("SQL 慢查询",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", l.slowThreshold),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case l.level >= gormLogger.Info:
		l.zl.Debug("SQL 执行",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	}
}
