// Package redarchlog is the Go client for the redarch log collection
// endpoint: structured log events are POSTed as JSON batches with a signed
// bearer credential, and the resilient path guarantees no event is lost to a
// network outage or a process restart.
//
// Two entry points:
//
//   - ThreadedLogger — the resilient path. Emit never blocks on network I/O:
//     events go onto a bounded in-memory queue served by one background
//     worker that batches, retries with backoff, and parks undeliverable
//     events in a per-service JSONL buffer on disk. On the next start the
//     buffer is replayed before new traffic, so delivery order per service
//     survives restarts.
//
//   - Logger — fire and forget. One blocking delivery per call, no queue, no
//     disk buffer; the delivery error is returned to the caller. Use it for
//     short-lived tools where a background worker is not worth carrying.
//
// Minimal use:
//
//	cfg := config.FromEnv()
//	cfg.Service = "billing"
//	log, err := redarchlog.New(cfg)
//	if err != nil { ... }
//	defer log.Close(context.Background())
//
//	log.Error("payment failed",
//		event.WithRequestID(reqID),
//		event.WithContext(map[string]any{"amount": 99.95}))
package redarchlog
