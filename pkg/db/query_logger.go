package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// queryLogger sends gorm's output to the service logger. Only slow statements
// and failures other than ErrRecordNotFound are reported.
type queryLogger struct {
	logg *logger.Logger
	slow time.Duration
	mode gormlogger.LogLevel
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow, mode: gormlogger.Warn}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *q
	next.mode = level
	return &next
}

func (q *queryLogger) Info(ctx context.Context, msg string, _ ...any) {
	if q.mode >= gormlogger.Info {
		q.logg.Debug(ctx, msg)
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, _ ...any) {
	if q.mode >= gormlogger.Warn {
		q.logg.Warn(ctx, msg)
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, _ ...any) {
	if q.mode >= gormlogger.Error {
		q.logg.Error(ctx, msg, nil)
	}
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.mode <= gormlogger.Silent {
		return
	}
	took := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && took > q.slow
	if !failed && !slow {
		return
	}

	query, rows := fc()
	ctx = q.logg.WithFields(ctx, map[string]any{
		"sql":         query,
		"rows":        rows,
		"duration_ms": took.Milliseconds(),
	})
	switch {
	case failed && q.mode >= gormlogger.Error:
		q.logg.Warn(q.logg.WithField(ctx, "error", err.Error()), "db.query_failed")
	case slow && q.mode >= gormlogger.Warn:
		q.logg.Warn(ctx, "db.slow_query")
	}
}
