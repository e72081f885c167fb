package redarchlog

import (
	"context"
	"fmt"

	"github.com/redarch/logging-go/config"
	"github.com/redarch/logging-go/event"
	"github.com/redarch/logging-go/transport"
)

// Logger is the fire-and-forget path: every call is one blocking delivery of
// a single-event batch, and the delivery result is returned to the caller.
// There is no queue, no retry and no disk buffer — if the endpoint is down
// the error is the caller's to handle. For anything long-running prefer
// ThreadedLogger.
type Logger struct {
	cfg      config.Config
	minLevel event.Level
	client   *transport.Client
}

// NewLogger builds a synchronous logger from cfg. Only the endpoint,
// credential and level settings are used; the queue, batch and buffer knobs
// do not apply to this path.
func NewLogger(cfg config.Config, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	minLevel, err := cfg.MinLevel()
	if err != nil {
		return nil, err
	}
	s := applyOptions(opts)

	auth := s.auth
	if auth == nil {
		auth = transport.NewJWTProvider(cfg.APIKey, cfg.TokenTTL)
	}
	tr := s.transport
	if tr == nil {
		tr = transport.NewHTTPTransport(cfg.URL, cfg.RequestTimeout, cfg.Gzip)
	}

	return &Logger{
		cfg:      cfg,
		minLevel: minLevel,
		client:   transport.NewClient(tr, auth, cfg.Service),
	}, nil
}

// Log validates, builds and delivers one event, blocking until the endpoint
// answers or ctx expires. Events below the configured level are skipped and
// return nil.
func (l *Logger) Log(ctx context.Context, level event.Level, msg string, opts ...event.Option) error {
	if level < l.minLevel {
		return nil
	}
	if l.cfg.LoggerName != "" {
		opts = append([]event.Option{event.WithLoggerName(l.cfg.LoggerName)}, opts...)
	}
	ev, err := event.New(level, l.cfg.Service, msg, opts...)
	if err != nil {
		return err
	}

	out := l.client.Send(ctx, []event.Event{ev})
	if !out.Delivered() {
		return fmt.Errorf("redarchlog: deliver event: %w", out.Err)
	}
	return nil
}

// Debug delivers a DEBUG event synchronously.
func (l *Logger) Debug(ctx context.Context, msg string, opts ...event.Option) error {
	return l.Log(ctx, event.LevelDebug, msg, opts...)
}

// Info delivers an INFO event synchronously.
func (l *Logger) Info(ctx context.Context, msg string, opts ...event.Option) error {
	return l.Log(ctx, event.LevelInfo, msg, opts...)
}

// Warn delivers a WARN event synchronously.
func (l *Logger) Warn(ctx context.Context, msg string, opts ...event.Option) error {
	return l.Log(ctx, event.LevelWarn, msg, opts...)
}

// Error delivers an ERROR event synchronously.
func (l *Logger) Error(ctx context.Context, msg string, opts ...event.Option) error {
	return l.Log(ctx, event.LevelError, msg, opts...)
}

// Fatal delivers a FATAL event synchronously.
func (l *Logger) Fatal(ctx context.Context, msg string, opts ...event.Option) error {
	return l.Log(ctx, event.LevelFatal, msg, opts...)
}
