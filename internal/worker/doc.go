// Package worker runs the single background delivery loop behind a
// ThreadedLogger: one goroutine per logger instance that exclusively owns the
// in-memory queue and the disk buffer.
//
// Lifecycle: Starting → Recovering → Running → Draining → Stopped.
// On start the worker replays every record left on disk by a previous run —
// rotated archives first, then the active buffer file, oldest first, before
// any newly enqueued event — preserving per-service FIFO across restarts. While Running it batches queued events
// (up to BatchSize or BatchWait, whichever first) and hands each batch to the
// delivery client under the RetryPolicy: transient failures back off and
// retry up to MaxAttempts, then the whole batch is persisted to disk and the
// loop moves on, so one unreachable endpoint never starves newer events of
// durable capture. A periodic tick replays the disk buffer so events parked
// there are redelivered without waiting for a restart.
//
// Flush drains the queue to empty (every event attempted at least once, to
// the endpoint or to disk). Cancelling the run context persists the in-flight
// batch and any remaining queue contents before the goroutine exits; nothing
// is dropped on shutdown.
//
// All delivery-path errors are absorbed here. Enqueue never fails because
// the endpoint is down: a full queue falls back to a direct disk append
// after EnqueueTimeout.
package worker
