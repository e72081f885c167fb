// Package buffer implements the crash-recoverable disk overflow for
// undelivered log events: one append-only JSONL file per service at
// <root>/<service>/buffer.jsonl.
//
// Each line is one Record — the event's wire fields plus enqueued_at and
// attempt_count. A line is removed only by Compact, which streams surviving
// lines to a temporary file and atomically renames it over the original;
// the buffer file is never rewritten in place.
//
// The active file is bounded: when an append would push it past the
// configured size cap it is rotated to a timestamped buffer-*.jsonl archive
// and a fresh active file starts. Archives hold strictly older records than
// the active file and are drained oldest-first by the worker's replay pass,
// so a capped buffer still loses nothing.
//
// Exactly one Buffer may own a service directory at a time, enforced with an
// exclusive flock on <dir>/buffer.lock. Open fails with ErrLocked when
// another process (or another logger instance in this process) already holds
// the directory. Append is mutex-guarded because the facade's overflow path
// may append while the owning worker reads or compacts.
//
// Non-retryable batches are recorded once in rejected.jsonl for operator
// inspection; that file is never replayed.
package buffer
