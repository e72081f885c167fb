package buffer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/redarch/logging-go/event"
)

const (
	bufferName    = "buffer.jsonl"
	rejectedName  = "rejected.jsonl"
	lockName      = "buffer.lock"
	archivePrefix = "buffer-"
	archiveSuffix = ".jsonl"
)

// ErrLocked is returned by Open when another logger instance already owns
// the service's buffer directory.
var ErrLocked = errors.New("buffer: directory locked by another logger instance")

// ErrClosed is returned by methods called after Close.
var ErrClosed = errors.New("buffer: closed")

// Record is one buffered event plus delivery metadata. The event fields are
// inlined in the JSON line, so a buffered line is the wire payload with
// enqueued_at and attempt_count added.
type Record struct {
	event.Event

	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`

	// seq is the physical line index within the file at ReadAll time.
	// Zero-based; corrupt lines occupy a seq but are not returned.
	seq uint64
}

// Seq returns the record's physical line index, used to address it in Compact.
func (r Record) Seq() uint64 { return r.seq }

// Buffer is the single-owner disk buffer for one service. The active file is
// capped at maxSize bytes: when an append would push it past the cap the file
// is rotated to a timestamped archive and a fresh active file is started, so
// a prolonged outage cannot grow one file without bound. Archives are drained
// by the worker's replay pass.
type Buffer struct {
	dir     string
	path    string
	fsync   bool
	maxSize int64

	mu     sync.Mutex
	f      *os.File
	size   int64
	lock   *flock.Flock
	closed bool
}

// Open creates (if needed) <root>/<service>/, takes the exclusive directory
// lock and opens the buffer file for appending. fsync controls whether each
// append is synced to stable storage before returning; maxSize caps the
// active file in bytes (0 disables rotation).
func Open(root, service string, fsync bool, maxSize int64) (*Buffer, error) {
	dir := filepath.Join(root, service)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("buffer: create dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("buffer: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	path := filepath.Join(dir, bufferName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("buffer: open %s: %w", path, err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	return &Buffer{dir: dir, path: path, fsync: fsync, maxSize: maxSize, f: f, size: size, lock: lock}, nil
}

// Path returns the active buffer file path.
func (b *Buffer) Path() string { return b.path }

// Append writes one record as a single JSON line. The write goes through one
// O_APPEND syscall, so concurrent appenders cannot interleave partial lines.
// When the line would push the active file past the size cap, the file is
// rotated to an archive first.
func (b *Buffer) Append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("buffer: marshal record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	n := int64(len(line) + 1)
	if b.maxSize > 0 && b.size > 0 && b.size+n > b.maxSize {
		if err := b.rotate(); err != nil {
			// Keep appending to the oversized file rather than lose the event.
			slog.Error("buffer: rotation failed", "path", b.path, "err", err)
		}
	}

	if _, err := b.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("buffer: append: %w", err)
	}
	b.size += n
	if b.fsync {
		if err := b.f.Sync(); err != nil {
			return fmt.Errorf("buffer: fsync: %w", err)
		}
	}
	return nil
}

// rotate renames the active file to a timestamped archive and starts a fresh
// one. Caller holds b.mu.
func (b *Buffer) rotate() error {
	archive := filepath.Join(b.dir, fmt.Sprintf("%s%020d%s", archivePrefix, time.Now().UnixNano(), archiveSuffix))
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("close active: %w", err)
	}
	if err := os.Rename(b.path, archive); err != nil {
		// Reopen the old file so appends keep working.
		f, oerr := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if oerr != nil {
			return fmt.Errorf("rename: %v, reopen: %w", err, oerr)
		}
		b.f = f
		return fmt.Errorf("rename: %w", err)
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open fresh active: %w", err)
	}
	b.f = f
	b.size = 0
	slog.Info("buffer: active file rotated", "archive", archive)
	return nil
}

// AppendRejected records a non-retryable event in rejected.jsonl. Rejected
// events are kept for inspection only and never re-enter the delivery loop.
func (b *Buffer) AppendRejected(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return AppendTo(filepath.Join(b.dir, rejectedName), rec)
}

// scanRecords parses the JSONL file at path. Corrupt lines are skipped (and
// logged) but still advance the seq counter so Compact can address the
// survivors correctly; the skipped count is returned. A missing file is an
// empty buffer, not an error.
func scanRecords(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("buffer: open for read: %w", err)
	}
	defer f.Close()

	var (
		records []Record
		corrupt int
		seq     uint64
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			seq++
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			corrupt++
			slog.Warn("buffer: skipping corrupt line", "path", path, "line", seq, "err", err)
			seq++
			continue
		}
		rec.seq = seq
		records = append(records, rec)
		seq++
	}
	if err := sc.Err(); err != nil {
		return records, corrupt, fmt.Errorf("buffer: scan: %w", err)
	}
	return records, corrupt, nil
}

// ReadAll returns every parseable record in the active file in file order,
// oldest first, plus the count of corrupt lines skipped.
func (b *Buffer) ReadAll() ([]Record, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, 0, ErrClosed
	}
	return scanRecords(b.path)
}

// Len returns the number of parseable records currently in the active file.
func (b *Buffer) Len() (int, error) {
	recs, _, err := b.ReadAll()
	return len(recs), err
}

// Archives returns the rotated archive files in rotation order, oldest
// first. Archive records predate everything in the active file.
func (b *Buffer) Archives() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("buffer: list archives: %w", err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(b.dir, name))
	}
	// Names embed a zero-padded nanosecond timestamp, so lexical order is
	// rotation order.
	sort.Strings(paths)
	return paths, nil
}

// ReadArchive returns the parseable records of one archive file, oldest
// first, plus the count of corrupt lines skipped.
func (b *Buffer) ReadArchive(path string) ([]Record, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, 0, ErrClosed
	}
	return scanRecords(path)
}

// RemoveArchive deletes one fully drained archive file.
func (b *Buffer) RemoveArchive(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("buffer: remove archive: %w", err)
	}
	return nil
}

// Compact removes the lines whose seq is in drop by streaming the survivors
// to buffer.jsonl.tmp and renaming it over the active file. A line survives
// only if it unmarshals into a Record — the same test ReadAll applies — so
// corrupt or alien lines are scrubbed instead of being re-counted on every
// replay. Lines appended after the ReadAll that produced drop have seqs
// beyond it and are always preserved.
func (b *Buffer) Compact(drop map[uint64]struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	src, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("buffer: open for compact: %w", err)
	}
	defer src.Close()

	tmpPath := b.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("buffer: create tmp: %w", err)
	}
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	var (
		seq     uint64
		written int64
	)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var rec Record
		keep := len(line) > 0 && json.Unmarshal(line, &rec) == nil
		if _, dropped := drop[seq]; dropped {
			keep = false
		}
		if keep {
			w.Write(line)
			w.WriteByte('\n')
			written += int64(len(line) + 1)
		}
		seq++
	}
	if err := sc.Err(); err != nil {
		tmp.Close()
		return fmt.Errorf("buffer: scan during compact: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("buffer: flush tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("buffer: sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("buffer: close tmp: %w", err)
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("buffer: replace: %w", err)
	}

	// The append handle still points at the replaced inode; reopen.
	_ = b.f.Close()
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("buffer: reopen after compact: %w", err)
	}
	b.f = f
	b.size = written
	return nil
}

// Close releases the append handle and the directory lock. Further method
// calls return ErrClosed; late writers should fall back to AppendTo.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.f.Close()
	if uerr := b.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// AppendTo appends one record to the JSONL file at path with a standalone
// open/write/close, taking no ownership of the file. Used for last-resort
// persistence after the owning Buffer has been closed: a single O_APPEND
// write is atomic, so it cannot corrupt a buffer a future run will recover.
func AppendTo(path string, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("buffer: marshal record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("buffer: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("buffer: append: %w", err)
	}
	return nil
}
