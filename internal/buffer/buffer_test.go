package buffer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redarch/logging-go/event"
)

func testRecord(t *testing.T, msg string) Record {
	t.Helper()
	ev, err := event.New(event.LevelError, "billing", msg,
		event.WithRequestID("req-"+msg),
		event.WithContext(map[string]any{"amount": 99.95}),
		event.WithTimestamp(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
	)
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	return Record{
		Event:        ev,
		EnqueuedAt:   time.Date(2025, 6, 1, 10, 0, 1, 0, time.UTC),
		AttemptCount: 3,
	}
}

func TestBuffer_AppendReadRoundTrip(t *testing.T) {
	b, err := Open(t.TempDir(), "billing", true, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	want := testRecord(t, "payment failed")
	if err := b.Append(want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, corrupt, err := b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if corrupt != 0 {
		t.Errorf("corrupt = %d, want 0", corrupt)
	}
	if len(recs) != 1 {
		t.Fatalf("len(recs) = %d, want 1", len(recs))
	}

	got := recs[0]
	if got.Message != want.Message || got.Service != want.Service || got.RequestID != want.RequestID {
		t.Errorf("identity fields changed: %+v", got.Event)
	}
	if got.Level != event.LevelError {
		t.Errorf("Level = %v, want ERROR", got.Level)
	}
	if got.Context["amount"] != 99.95 {
		t.Errorf("Context[amount] = %v, want 99.95", got.Context["amount"])
	}
	if !got.ClientLogDatetime.Equal(want.ClientLogDatetime) {
		t.Errorf("ClientLogDatetime = %v, want %v", got.ClientLogDatetime, want.ClientLogDatetime)
	}
	if !got.EnqueuedAt.Equal(want.EnqueuedAt) || got.AttemptCount != 3 {
		t.Errorf("metadata = %v/%d", got.EnqueuedAt, got.AttemptCount)
	}
}

func TestBuffer_ReadAllPreservesFileOrder(t *testing.T) {
	b, err := Open(t.TempDir(), "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	for _, msg := range []string{"first", "second", "third"} {
		if err := b.Append(testRecord(t, msg)); err != nil {
			t.Fatalf("Append(%s): %v", msg, err)
		}
	}

	recs, _, err := b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len(recs) = %d, want 3", len(recs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if recs[i].Message != want {
			t.Errorf("recs[%d].Message = %q, want %q", i, recs[i].Message, want)
		}
		if recs[i].Seq() != uint64(i) {
			t.Errorf("recs[%d].Seq() = %d, want %d", i, recs[i].Seq(), i)
		}
	}
}

func TestBuffer_CompactDropsOnlyDelivered(t *testing.T) {
	b, err := Open(t.TempDir(), "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	for _, msg := range []string{"a", "b", "c", "d"} {
		if err := b.Append(testRecord(t, msg)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, _, err := b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	// Drop "a" and "c"; an append racing with the replay must survive too.
	drop := map[uint64]struct{}{recs[0].Seq(): {}, recs[2].Seq(): {}}
	if err := b.Append(testRecord(t, "late")); err != nil {
		t.Fatalf("Append(late): %v", err)
	}
	if err := b.Compact(drop); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	after, _, err := b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll after compact: %v", err)
	}
	var msgs []string
	for _, r := range after {
		msgs = append(msgs, r.Message)
	}
	if got, want := strings.Join(msgs, ","), "b,d,late"; got != want {
		t.Errorf("surviving messages = %q, want %q", got, want)
	}

	// The append handle must target the new inode.
	if err := b.Append(testRecord(t, "post")); err != nil {
		t.Fatalf("Append after compact: %v", err)
	}
	n, err := b.Len()
	if err != nil || n != 4 {
		t.Errorf("Len = %d, %v, want 4", n, err)
	}
}

func TestBuffer_CorruptLineSkipped(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if err := b.Append(testRecord(t, "good-1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Simulate a torn write from a crash mid-append.
	f, err := os.OpenFile(b.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	f.WriteString(`{"level":"ERROR","service":"billi` + "\n")
	f.Close()
	if err := b.Append(testRecord(t, "good-2")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, corrupt, err := b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if corrupt != 1 {
		t.Errorf("corrupt = %d, want 1", corrupt)
	}
	if len(recs) != 2 || recs[0].Message != "good-1" || recs[1].Message != "good-2" {
		t.Fatalf("recs = %+v", recs)
	}
	// The corrupt line holds seq 1, so good-2 must be addressable as seq 2.
	if recs[1].Seq() != 2 {
		t.Errorf("recs[1].Seq() = %d, want 2", recs[1].Seq())
	}

	// Compaction removes the torn line even when nothing is dropped.
	if err := b.Compact(nil); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	recs, corrupt, err = b.ReadAll()
	if err != nil || corrupt != 0 || len(recs) != 2 {
		t.Errorf("after compact: recs=%d corrupt=%d err=%v", len(recs), corrupt, err)
	}
}

func TestBuffer_CompactScrubsAlienJSON(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if err := b.Append(testRecord(t, "good")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Valid JSON that is not a Record: a bare number and a record with an
	// unknown level name. Both must be treated like torn lines.
	f, err := os.OpenFile(b.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	f.WriteString("42\n")
	f.WriteString(`{"level":"LOUD","service":"billing","message":"x"}` + "\n")
	f.Close()

	recs, corrupt, err := b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if corrupt != 2 || len(recs) != 1 {
		t.Fatalf("recs=%d corrupt=%d, want 1/2", len(recs), corrupt)
	}

	if err := b.Compact(nil); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	recs, corrupt, err = b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll after compact: %v", err)
	}
	// The alien lines are gone for good, not re-counted on every replay.
	if corrupt != 0 || len(recs) != 1 || recs[0].Message != "good" {
		t.Errorf("after compact: recs=%+v corrupt=%d", recs, corrupt)
	}
}

func TestBuffer_RotatesAtSizeCap(t *testing.T) {
	root := t.TempDir()
	// Cap low enough that a handful of records forces several rotations.
	b, err := Open(root, "billing", false, 600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	var want []string
	for i := 0; i < 10; i++ {
		msg := "outage-" + string(rune('a'+i))
		want = append(want, msg)
		if err := b.Append(testRecord(t, msg)); err != nil {
			t.Fatalf("Append(%s): %v", msg, err)
		}
	}

	archives, err := b.Archives()
	if err != nil {
		t.Fatalf("Archives: %v", err)
	}
	if len(archives) == 0 {
		t.Fatal("no archives created despite exceeding the size cap")
	}

	// The active file must respect the cap.
	st, err := os.Stat(b.Path())
	if err != nil {
		t.Fatalf("stat active: %v", err)
	}
	if st.Size() > 600 {
		t.Errorf("active file is %d bytes, cap is 600", st.Size())
	}

	// Archives oldest-first, then the active file, must hold every record in
	// append order.
	var got []string
	for _, path := range archives {
		recs, corrupt, err := b.ReadArchive(path)
		if err != nil || corrupt != 0 {
			t.Fatalf("ReadArchive(%s): corrupt=%d err=%v", path, corrupt, err)
		}
		for _, r := range recs {
			got = append(got, r.Message)
		}
	}
	active, _, err := b.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	for _, r := range active {
		got = append(got, r.Message)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("records across archives+active = %v, want %v", got, want)
	}

	// Drained archives can be removed.
	if err := b.RemoveArchive(archives[0]); err != nil {
		t.Fatalf("RemoveArchive: %v", err)
	}
	after, err := b.Archives()
	if err != nil {
		t.Fatalf("Archives after remove: %v", err)
	}
	if len(after) != len(archives)-1 {
		t.Errorf("archives after remove = %d, want %d", len(after), len(archives)-1)
	}
}

func TestBuffer_UncappedNeverRotates(t *testing.T) {
	b, err := Open(t.TempDir(), "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	for i := 0; i < 20; i++ {
		if err := b.Append(testRecord(t, "grow")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	archives, err := b.Archives()
	if err != nil {
		t.Fatalf("Archives: %v", err)
	}
	if len(archives) != 0 {
		t.Errorf("archives = %v, want none with rotation disabled", archives)
	}
}

func TestBuffer_OpenEnforcesSingleOwner(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := Open(root, "billing", false, 0); !errors.Is(err, ErrLocked) {
		t.Errorf("second Open err = %v, want ErrLocked", err)
	}

	// A different service in the same root is independent.
	other, err := Open(root, "checkout", false, 0)
	if err != nil {
		t.Fatalf("Open(checkout): %v", err)
	}
	other.Close()

	// Close releases the lock for the next instance (e.g. process restart).
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := Open(root, "billing", false, 0)
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	reopened.Close()
}

func TestBuffer_RejectedAuditTrail(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if err := b.AppendRejected(testRecord(t, "schema mismatch")); err != nil {
		t.Fatalf("AppendRejected: %v", err)
	}

	// The rejected file exists and the main buffer stays empty.
	data, err := os.ReadFile(filepath.Join(root, "billing", "rejected.jsonl"))
	if err != nil {
		t.Fatalf("read rejected.jsonl: %v", err)
	}
	if !strings.Contains(string(data), "schema mismatch") {
		t.Errorf("rejected.jsonl = %q", data)
	}
	if n, _ := b.Len(); n != 0 {
		t.Errorf("buffer Len = %d, want 0", n)
	}
}

func TestAppendTo_AfterClose(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "billing", false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := b.Path()
	b.Close()

	if err := b.Append(testRecord(t, "too late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close err = %v, want ErrClosed", err)
	}

	if err := AppendTo(path, testRecord(t, "post-close")); err != nil {
		t.Fatalf("AppendTo: %v", err)
	}

	reopened, err := Open(root, "billing", false, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	recs, _, err := reopened.ReadAll()
	if err != nil || len(recs) != 1 || recs[0].Message != "post-close" {
		t.Errorf("recs = %+v, err = %v", recs, err)
	}
}
