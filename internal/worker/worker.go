package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redarch/logging-go/event"
	"github.com/redarch/logging-go/internal/buffer"
	"github.com/redarch/logging-go/internal/metrics"
	"github.com/redarch/logging-go/transport"
)

// Sender delivers one batch and classifies the result.
// Implemented by *transport.Client; injectable for tests.
type Sender interface {
	Send(ctx context.Context, batch []event.Event) transport.Outcome
}

// State is the worker's lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRecovering
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRecovering:
		return "recovering"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Options configures a Worker. All fields are required unless noted.
type Options struct {
	Client  Sender
	Buffer  *buffer.Buffer
	Policy  RetryPolicy
	Metrics *metrics.Set

	QueueSize      int
	EnqueueTimeout time.Duration
	BatchSize      int
	BatchWait      time.Duration

	// RetryInterval is how often the disk buffer is replayed while running,
	// so parked events are redelivered without a process restart.
	RetryInterval time.Duration

	// OnReject, when set, is called with each batch the endpoint refused as
	// non-retryable, after the batch has been written to the audit file.
	OnReject func(batch []event.Event, outcome transport.Outcome)
}

// item is one queued event plus the time it entered the queue.
type item struct {
	ev event.Event
	at time.Time
}

// Worker owns the in-memory queue and the disk buffer for one logger
// instance. Exactly one goroutine (Run) consumes the queue and touches the
// delivery path.
type Worker struct {
	opts  Options
	queue chan item
	flush chan chan struct{}
	done  chan struct{}
	state atomic.Int32
}

// New builds a Worker. Run must be started in its own goroutine.
func New(opts Options) *Worker {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Worker{
		opts:  opts,
		queue: make(chan item, opts.QueueSize),
		flush: make(chan chan struct{}),
		done:  make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Done is closed once Run has fully stopped and persisted all leftovers.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Enqueue hands an event to the worker without ever blocking on network I/O.
// When the queue is full it waits up to EnqueueTimeout for space, then falls
// back to appending the event straight to the disk buffer.
func (w *Worker) Enqueue(ev event.Event) {
	it := item{ev: ev, at: time.Now().UTC()}

	select {
	case w.queue <- it:
		w.opts.Metrics.Enqueued.Inc()
		w.opts.Metrics.QueueLen.Inc()
		return
	default:
	}

	t := time.NewTimer(w.opts.EnqueueTimeout)
	defer t.Stop()
	select {
	case w.queue <- it:
		w.opts.Metrics.Enqueued.Inc()
		w.opts.Metrics.QueueLen.Inc()
	case <-t.C:
		w.opts.Metrics.QueueFull.Inc()
		w.persist([]item{it}, 0)
		slog.Warn("worker: queue full, event written to disk buffer",
			"service", ev.Service, "queue_cap", cap(w.queue))
	}
}

// Flush asks the worker to replay the disk buffer once and drain the queue
// to empty, then waits for completion or ctx expiry. A ctx error means the
// drain is still in progress, not that data was lost.
func (w *Worker) Flush(ctx context.Context) error {
	doneCh := make(chan struct{})
	select {
	case w.flush <- doneCh:
	case <-w.done:
		// Worker already stopped; everything undelivered is on disk.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-doneCh:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the worker loop until ctx is cancelled: replay the disk
// buffer left by a previous run, then serve the queue. On cancellation the
// in-flight batch and all remaining queue contents are persisted to disk
// before Run returns.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))

	w.state.Store(int32(StateRecovering))
	w.replayBuffer(ctx)

	w.state.Store(int32(StateRunning))
	w.runLoop(ctx)
}

func (w *Worker) runLoop(ctx context.Context) {
	retryTick := time.NewTicker(w.opts.RetryInterval)
	defer retryTick.Stop()

	var (
		batch []item
		timer *time.Timer
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer()
			w.persist(batch, 0)
			w.drainToDisk()
			return

		case it := <-w.queue:
			w.opts.Metrics.QueueLen.Dec()
			batch = append(batch, it)
			if len(batch) == 1 {
				timer = time.NewTimer(w.opts.BatchWait)
			}
			if len(batch) >= w.opts.BatchSize {
				stopTimer()
				w.dispatch(ctx, batch)
				batch = nil
			}

		case <-timerC:
			timer = nil
			w.dispatch(ctx, batch)
			batch = nil

		case <-retryTick.C:
			w.replayBuffer(ctx)

		case doneCh := <-w.flush:
			w.state.Store(int32(StateDraining))
			stopTimer()
			w.replayBuffer(ctx)
			batch = w.drainQueue(ctx, batch)
			close(doneCh)
			w.state.Store(int32(StateRunning))
		}
	}
}

// drainQueue empties the queue, dispatching full batches as it goes and the
// final partial batch at the end. Returns the (always empty) leftover slice.
func (w *Worker) drainQueue(ctx context.Context, batch []item) []item {
	for {
		select {
		case it := <-w.queue:
			w.opts.Metrics.QueueLen.Dec()
			batch = append(batch, it)
			if len(batch) >= w.opts.BatchSize {
				w.dispatch(ctx, batch)
				batch = nil
			}
		default:
			w.dispatch(ctx, batch)
			return nil
		}
	}
}

// drainToDisk persists everything still queued. Called on shutdown only.
func (w *Worker) drainToDisk() {
	var leftovers []item
	for {
		select {
		case it := <-w.queue:
			w.opts.Metrics.QueueLen.Dec()
			leftovers = append(leftovers, it)
		default:
			if len(leftovers) > 0 {
				w.persist(leftovers, 0)
				slog.Info("worker: persisted undelivered events on shutdown",
					"count", len(leftovers))
			}
			return
		}
	}
}

// dispatch sends one batch of fresh events through the retry policy and
// routes the survivors: delivered, rejected to audit, or parked on disk.
func (w *Worker) dispatch(ctx context.Context, batch []item) {
	if len(batch) == 0 {
		return
	}
	events := make([]event.Event, len(batch))
	for i, it := range batch {
		events[i] = it.ev
	}

	out, attempts := w.deliver(ctx, events)
	switch out.Class {
	case transport.ClassDelivered:
		w.opts.Metrics.Delivered.Add(float64(len(batch)))

	case transport.ClassRejected:
		w.reject(batch, out)

	case transport.ClassTransient:
		w.persist(batch, attempts)
		slog.Warn("worker: delivery attempts exhausted, batch parked on disk",
			"events", len(batch), "attempts", attempts, "outcome", out.String())
	}
}

// deliver runs one batch through Send with backoff until delivered, rejected,
// exhausted, or ctx is cancelled. Returns the final outcome and the number of
// attempts made.
func (w *Worker) deliver(ctx context.Context, events []event.Event) (transport.Outcome, int) {
	for attempt := 1; ; attempt++ {
		w.opts.Metrics.Attempts.Inc()
		out := w.opts.Client.Send(ctx, events)
		if out.Class != transport.ClassTransient {
			return out, attempt
		}
		if w.opts.Policy.Exhausted(attempt) || ctx.Err() != nil {
			return out, attempt
		}

		delay := w.opts.Policy.Delay(attempt)
		slog.Debug("worker: transient delivery failure, backing off",
			"attempt", attempt, "retry_in", delay, "outcome", out.String())
		select {
		case <-ctx.Done():
			return out, attempt
		case <-time.After(delay):
		}
	}
}

// persist appends each item to the disk buffer with the given attempt count.
func (w *Worker) persist(batch []item, attempts int) {
	for _, it := range batch {
		rec := buffer.Record{Event: it.ev, EnqueuedAt: it.at, AttemptCount: attempts}
		if err := w.opts.Buffer.Append(rec); err != nil {
			slog.Error("worker: disk buffer append failed, event lost",
				"service", it.ev.Service, "err", err)
			continue
		}
		w.opts.Metrics.Buffered.Inc()
	}
}

// reject writes a refused batch to the audit file and notifies the hook.
func (w *Worker) reject(batch []item, out transport.Outcome) {
	events := make([]event.Event, len(batch))
	for i, it := range batch {
		events[i] = it.ev
		rec := buffer.Record{Event: it.ev, EnqueuedAt: it.at, AttemptCount: 1}
		if err := w.opts.Buffer.AppendRejected(rec); err != nil {
			slog.Error("worker: rejected-audit append failed",
				"service", it.ev.Service, "err", err)
		}
	}
	w.opts.Metrics.Rejected.Add(float64(len(batch)))
	slog.Warn("worker: endpoint rejected batch", "events", len(batch), "outcome", out.String())
	if w.opts.OnReject != nil {
		w.opts.OnReject(events, out)
	}
}

// replayBuffer redelivers every record currently on disk, rotated archives
// first (they predate the active file), then the active file oldest-first.
// Delivered and rejected records are compacted away; records that fail
// transiently again are re-appended with their attempt count advanced and
// their old line compacted, so a repeated replay never duplicates an event.
func (w *Worker) replayBuffer(ctx context.Context) {
	w.replayArchives(ctx)

	recs, corrupt, err := w.opts.Buffer.ReadAll()
	if err != nil {
		slog.Error("worker: disk buffer read failed", "err", err)
		return
	}
	if corrupt > 0 {
		w.opts.Metrics.Dropped.Add(float64(corrupt))
	}
	if len(recs) == 0 {
		if corrupt > 0 {
			// Nothing to replay, but scrub the torn lines.
			if err := w.opts.Buffer.Compact(nil); err != nil {
				slog.Error("worker: compaction failed", "err", err)
			}
		}
		return
	}

	slog.Info("worker: replaying disk buffer", "records", len(recs), "corrupt", corrupt)

	drop := make(map[uint64]struct{})
	for start := 0; start < len(recs); start += w.opts.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + w.opts.BatchSize
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]

		events := make([]event.Event, len(chunk))
		for i, rec := range chunk {
			events[i] = rec.Event
		}

		out, attempts := w.deliver(ctx, events)
		switch out.Class {
		case transport.ClassDelivered:
			for _, rec := range chunk {
				drop[rec.Seq()] = struct{}{}
			}
			w.opts.Metrics.Recovered.Add(float64(len(chunk)))

		case transport.ClassRejected:
			for _, rec := range chunk {
				if err := w.opts.Buffer.AppendRejected(rec); err != nil {
					slog.Error("worker: rejected-audit append failed", "err", err)
					continue
				}
				drop[rec.Seq()] = struct{}{}
			}
			w.opts.Metrics.Rejected.Add(float64(len(chunk)))
			if w.opts.OnReject != nil {
				w.opts.OnReject(events, out)
			}

		case transport.ClassTransient:
			// Park the chunk again with the attempt count advanced. The old
			// line is dropped only once the replacement is durably appended.
			for _, rec := range chunk {
				next := rec
				next.AttemptCount += attempts
				if err := w.opts.Buffer.Append(next); err != nil {
					slog.Error("worker: buffer re-append failed", "err", err)
					continue
				}
				drop[rec.Seq()] = struct{}{}
			}
		}
	}

	if err := w.opts.Buffer.Compact(drop); err != nil {
		slog.Error("worker: compaction failed", "err", err)
	}
}

// replayArchives drains rotated buffer files oldest-first. A fully handled
// archive is deleted; when a chunk fails transiently the failed chunk and
// everything after it move to the active buffer with their attempt counts
// advanced, the archive is deleted, and the pass stops (the endpoint is
// down, so later archives can wait for the next tick).
func (w *Worker) replayArchives(ctx context.Context) {
	paths, err := w.opts.Buffer.Archives()
	if err != nil {
		slog.Error("worker: archive listing failed", "err", err)
		return
	}

	for _, path := range paths {
		recs, corrupt, err := w.opts.Buffer.ReadArchive(path)
		if err != nil {
			slog.Error("worker: archive read failed", "path", path, "err", err)
			continue
		}
		if corrupt > 0 {
			w.opts.Metrics.Dropped.Add(float64(corrupt))
		}
		slog.Info("worker: replaying archive", "path", path, "records", len(recs), "corrupt", corrupt)

		carryFrom := -1 // index of the first record to move to the active buffer
		carryBump := 0
		for start := 0; start < len(recs); start += w.opts.BatchSize {
			if ctx.Err() != nil {
				carryFrom = start
				break
			}
			end := start + w.opts.BatchSize
			if end > len(recs) {
				end = len(recs)
			}
			chunk := recs[start:end]

			events := make([]event.Event, len(chunk))
			for i, rec := range chunk {
				events[i] = rec.Event
			}

			out, attempts := w.deliver(ctx, events)
			switch out.Class {
			case transport.ClassDelivered:
				w.opts.Metrics.Recovered.Add(float64(len(chunk)))

			case transport.ClassRejected:
				for _, rec := range chunk {
					if err := w.opts.Buffer.AppendRejected(rec); err != nil {
						slog.Error("worker: rejected-audit append failed", "err", err)
					}
				}
				w.opts.Metrics.Rejected.Add(float64(len(chunk)))
				if w.opts.OnReject != nil {
					w.opts.OnReject(events, out)
				}

			case transport.ClassTransient:
				carryFrom = start
				carryBump = attempts
			}
			if carryFrom >= 0 {
				break
			}
		}

		moved := true
		if carryFrom >= 0 {
			for i, rec := range recs[carryFrom:] {
				next := rec
				if i < w.opts.BatchSize {
					next.AttemptCount += carryBump
				}
				if err := w.opts.Buffer.Append(next); err != nil {
					slog.Error("worker: archive carry-over append failed", "err", err)
					moved = false
				}
			}
		}
		// Deleting a partially moved archive would lose records; keeping it
		// risks only re-delivery, which recovery already tolerates.
		if moved {
			if err := w.opts.Buffer.RemoveArchive(path); err != nil {
				slog.Error("worker: archive remove failed", "path", path, "err", err)
			}
		}
		if carryFrom >= 0 {
			return
		}
	}
}
