package redarchlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redarch/logging-go/config"
	"github.com/redarch/logging-go/event"
	"github.com/redarch/logging-go/internal/buffer"
	"github.com/redarch/logging-go/internal/metrics"
	"github.com/redarch/logging-go/internal/worker"
	"github.com/redarch/logging-go/transport"
)

// ErrLoggerClosed is returned by Emit after Close, but only when
// config.StrictClose is set. By default post-close events are persisted to
// the disk buffer instead, so an ordinary logging call never fails just
// because shutdown has begun.
var ErrLoggerClosed = errors.New("redarchlog: logger closed")

// ThreadedLogger is the resilient, non-blocking logging path. One background
// worker per instance owns the in-memory queue and the per-service disk
// buffer; callers only ever touch the thread-safe enqueue side.
type ThreadedLogger struct {
	cfg      config.Config
	minLevel event.Level

	w       *worker.Worker
	buf     *buffer.Buffer
	bufPath string
	cancel  context.CancelFunc

	// mu orders Emit against Close: an emitter holds the read side across
	// its closed-check and enqueue, and Close takes the write side before
	// draining, so every accepted event is in the queue before the worker
	// stops and none can slip into a queue nobody reads.
	mu     sync.RWMutex
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, opens (and locks) the service's disk buffer, and starts
// the background worker. The worker first replays anything a previous run
// left in the buffer, then serves new events.
func New(cfg config.Config, opts ...Option) (*ThreadedLogger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	minLevel, err := cfg.MinLevel()
	if err != nil {
		return nil, err
	}
	s := applyOptions(opts)

	buf, err := buffer.Open(cfg.BufferRoot, cfg.Service, cfg.FsyncOnAppend, cfg.MaxBufferSize)
	if err != nil {
		return nil, err
	}

	auth := s.auth
	if auth == nil {
		auth = transport.NewJWTProvider(cfg.APIKey, cfg.TokenTTL)
	}
	tr := s.transport
	if tr == nil {
		tr = transport.NewHTTPTransport(cfg.URL, cfg.RequestTimeout, cfg.Gzip)
	}
	client := transport.NewClient(tr, auth, cfg.Service)

	w := worker.New(worker.Options{
		Client:         client,
		Buffer:         buf,
		Policy:         worker.RetryPolicy{Base: cfg.BackoffBase, Max: cfg.BackoffMax, MaxAttempts: cfg.MaxAttempts},
		Metrics:        metrics.New(s.registerer, cfg.Service),
		QueueSize:      cfg.QueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout,
		BatchSize:      cfg.BatchSize,
		BatchWait:      cfg.BatchWait,
		RetryInterval:  cfg.RetryInterval,
		OnReject:       s.onReject,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	slog.Info("redarchlog: logger started",
		"service", cfg.Service, "url", cfg.URL, "buffer", buf.Path())

	return &ThreadedLogger{
		cfg:      cfg,
		minLevel: minLevel,
		w:        w,
		buf:      buf,
		bufPath:  buf.Path(),
		cancel:   cancel,
	}, nil
}

// Emit enqueues an already-constructed event. It fails only on validation;
// downstream unavailability never surfaces here. It may block briefly when
// the queue is full, bounded by config.EnqueueTimeout, after which the event
// is written straight to the disk buffer.
func (l *ThreadedLogger) Emit(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	l.mu.RLock()
	if l.closed.Load() {
		l.mu.RUnlock()
		if l.cfg.StrictClose {
			return ErrLoggerClosed
		}
		l.persistLate(ev)
		return nil
	}
	l.w.Enqueue(ev)
	l.mu.RUnlock()
	return nil
}

// persistLate writes an event that arrived after Close to the disk buffer so
// the next run recovers it.
func (l *ThreadedLogger) persistLate(ev event.Event) {
	rec := buffer.Record{Event: ev, EnqueuedAt: time.Now().UTC()}
	err := l.buf.Append(rec)
	if errors.Is(err, buffer.ErrClosed) {
		// The owned handle is gone; fall back to a standalone atomic append.
		err = buffer.AppendTo(l.bufPath, rec)
	}
	if err != nil {
		slog.Error("redarchlog: post-close event lost", "service", ev.Service, "err", err)
	}
}

func (l *ThreadedLogger) log(level event.Level, msg string, opts ...event.Option) error {
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
	return l.Emit(ev)
}

// Debug emits a DEBUG event.
func (l *ThreadedLogger) Debug(msg string, opts ...event.Option) error {
	return l.log(event.LevelDebug, msg, opts...)
}

// Info emits an INFO event.
func (l *ThreadedLogger) Info(msg string, opts ...event.Option) error {
	return l.log(event.LevelInfo, msg, opts...)
}

// Warn emits a WARN event.
func (l *ThreadedLogger) Warn(msg string, opts ...event.Option) error {
	return l.log(event.LevelWarn, msg, opts...)
}

// Error emits an ERROR event.
func (l *ThreadedLogger) Error(msg string, opts ...event.Option) error {
	return l.log(event.LevelError, msg, opts...)
}

// Fatal emits a FATAL event. Unlike the standard library it does not exit
// the process; the caller decides what a fatal condition means.
func (l *ThreadedLogger) Fatal(msg string, opts ...event.Option) error {
	return l.log(event.LevelFatal, msg, opts...)
}

// Flush blocks until the disk buffer has been replayed once and the
// in-memory queue is empty — every event attempted at least once, delivered
// or parked on disk — or until ctx expires. A ctx error means the drain was
// still in progress; no data is lost either way.
func (l *ThreadedLogger) Flush(ctx context.Context) error {
	return l.w.Flush(ctx)
}

// Close flushes, stops the worker and releases the buffer lock. The flush is
// bounded by ctx, or by config.FlushTimeout when ctx carries no deadline;
// whatever could not be delivered in time is persisted to the disk buffer
// for the next run. Close returns the flush's ctx error, if any, so callers
// can tell a complete drain from a timed-out one.
func (l *ThreadedLogger) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		// The write lock waits out any emitter between its closed-check and
		// enqueue; after it, every accepted event is in the queue.
		l.mu.Lock()
		l.closed.Store(true)
		l.mu.Unlock()

		if _, hasDeadline := ctx.Deadline(); !hasDeadline && ctx.Err() == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.cfg.FlushTimeout)
			defer cancel()
		}

		flushErr := l.w.Flush(ctx)

		l.cancel()
		<-l.w.Done() // worker persists any leftovers before exiting

		if err := l.buf.Close(); err != nil {
			slog.Error("redarchlog: buffer close failed", "err", err)
		}

		if flushErr != nil {
			l.closeErr = fmt.Errorf("redarchlog: drain incomplete, undelivered events remain in %s: %w",
				l.bufPath, flushErr)
		}
		slog.Info("redarchlog: logger stopped", "service", l.cfg.Service, "complete", flushErr == nil)
	})
	return l.closeErr
}
