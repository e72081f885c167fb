// Command logship forwards JSONL log events to the redarch collection
// endpoint. It reads one JSON event per line from stdin or a file, stamps
// each with the configured service name, and ships through the resilient
// path: anything undeliverable when the input ends is left in the disk
// buffer for the next run.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	redarchlog "github.com/redarch/logging-go"
	"github.com/redarch/logging-go/config"
	"github.com/redarch/logging-go/event"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	inputPath := flag.String("input", "-", "JSONL file to ship, - for stdin")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("logship starting", "config", *configPath, "input", *inputPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded", "service", cfg.Service, "url", cfg.URL, "level", cfg.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ship, err := redarchlog.New(cfg)
	if err != nil {
		slog.Error("failed to start logger", "err", err)
		os.Exit(1)
	}

	// The minimum level is the one knob worth hot-reloading: turning DEBUG
	// shipping on and off without restarting the forwarder.
	var minLevel atomic.Int32
	initial, _ := cfg.MinLevel()
	minLevel.Store(int32(initial))

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated config.Config) {
			lvl, err := updated.MinLevel()
			if err != nil {
				slog.Error("ignoring reloaded level", "err", err)
				return
			}
			minLevel.Store(int32(lvl))
			slog.Info("minimum level updated", "level", lvl.String())
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	in := os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			slog.Error("failed to open input", "path", *inputPath, "err", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	shipped, skipped := forward(ctx, ship, in, cfg.Service, &minLevel)

	if err := ship.Close(context.Background()); err != nil {
		// Not a failure: the leftovers are on disk and the next run recovers them.
		slog.Warn("drain incomplete", "err", err)
	}
	slog.Info("logship done", "shipped", shipped, "skipped", skipped)
}

// forward reads JSONL events from in and enqueues them until EOF or ctx
// cancellation. Lines that fail to parse or validate are counted and skipped;
// one bad line never stops the stream.
func forward(ctx context.Context, ship *redarchlog.ThreadedLogger, in *os.File, service string, minLevel *atomic.Int32) (shipped, skipped int) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev event.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			skipped++
			slog.Warn("skipping unparseable line", "err", err)
			continue
		}
		if ev.Level < event.Level(minLevel.Load()) {
			skipped++
			continue
		}
		ev.Service = service
		if ev.LoggerName == "" {
			ev.LoggerName = service
		}
		if ev.RequestID == "" {
			ev.RequestID = uuid.NewString()
		}
		if ev.ClientLogDatetime.IsZero() {
			ev.ClientLogDatetime = time.Now().UTC()
		}

		if err := ship.Emit(ev); err != nil {
			skipped++
			slog.Warn("skipping invalid event", "err", err)
			continue
		}
		shipped++
	}
	if err := sc.Err(); err != nil {
		slog.Error("input read failed", "err", err)
	}
	return shipped, skipped
}
