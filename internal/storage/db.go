package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open opens (creating if absent) the single-file sqlite database at path,
// applies AutoMigrate for every known model, and returns the handle.
func Open(path string, log *zap.Logger) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newZapGormLogger(log),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite has one writer; keep the pool small to avoid "database is locked".
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, err
	}
	return db, nil
}

// zapGormLogger adapts gorm's logger.Interface onto a zap.Logger, the same
// bridge idiom the rest of this codebase uses for third-party loggers.
type zapGormLogger struct {
	log           *zap.Logger
	slowThreshold time.Duration
}

func newZapGormLogger(log *zap.Logger) gormlogger.Interface {
	return &zapGormLogger{log: log, slowThreshold: 200 * time.Millisecond}
}

func (l *zapGormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *zapGormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	l.log.Sugar().Infof(msg, args...)
}

func (l *zapGormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	l.log.Sugar().Warnf(msg, args...)
}

func (l *zapGormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	l.log.Sugar().Errorf(msg, args...)
}

func (l *zapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, rows := fc()
	elapsed := time.Since(begin)
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err != nil:
		l.log.Debug("gorm query error", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold:
		l.log.Warn("slow gorm query", fields...)
	default:
		l.log.Debug("gorm query", fields...)
	}
}
