// Package logger wraps zerolog with context-carried fields so request, order
// and delivery identifiers follow a call chain without being passed around.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinsacademy/topup-backend/pkg/env"
)

// Field names shared by every service so logs can be joined across binaries.
const (
	FieldRequestID  = "request_id"
	FieldUserID     = "user_id"
	FieldActorRole  = "actor_role"
	FieldOrderID    = "order_id"
	FieldDeliveryID = "delivery_id"
	FieldAlert      = "operator_alert"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack adds a stack trace to warnings as well as errors.
	WarnStack bool
	Output    io.Writer
	// Format is "json" or "console". Blank reads LOG_FORMAT.
	Format string
}

type Logger struct {
	root      zerolog.Logger
	warnStack bool
}

type scopeKey struct{}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = env.Get("LOG_FORMAT", "json")
	}
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	root := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{root: root, warnStack: opts.WarnStack}
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) scoped(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if zl, ok := ctx.Value(scopeKey{}).(*zerolog.Logger); ok {
			return zl
		}
	}
	return &l.root
}

func (l *Logger) extend(ctx context.Context, build func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	zl := build(l.scoped(ctx).With()).Logger()
	return context.WithValue(ctx, scopeKey{}, &zl)
}

// WithField returns a context whose log entries carry key=value.
func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields is WithField for several keys at once.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldRequestID, id)
}

func (l *Logger) WithUserID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldUserID, id)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.WithField(ctx, FieldActorRole, role)
}

func (l *Logger) WithOrderID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldOrderID, id)
}

func (l *Logger) WithDeliveryID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldDeliveryID, id)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.scoped(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.scoped(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.scoped(ctx).Warn()
	if l.warnStack {
		ev = withStack(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	withStack(l.scoped(ctx).Error().Err(err)).Msg(msg)
}

// Alert is an error that needs an operator, such as a refund that could not
// be written. Dashboards page on the operator_alert flag.
func (l *Logger) Alert(ctx context.Context, msg string, err error) {
	withStack(l.scoped(ctx).Error().Bool(FieldAlert, true).Err(err)).Msg(msg)
}

func withStack(ev *zerolog.Event) *zerolog.Event {
	return ev.Str("stack", strings.TrimSpace(string(debug.Stack())))
}
