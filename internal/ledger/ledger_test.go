package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()
	led := New(nil, nil, logx.Nop())
	ctx := context.Background()

	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t1", Status: StatusFailed, Message: "old failure"})

	led.BeginBatch(ctx, []string{"t1", "t2"})
	if !led.IsPublishing() {
		t.Fatalf("IsPublishing = false after BeginBatch")
	}
	if _, ok := led.Get("t1"); ok {
		t.Fatalf("stale record for t1 survived BeginBatch")
	}

	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t1", Status: StatusPublishing})
	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t1", Status: StatusReady, PublishURL: "https://a.example/submit"})
	led.EndBatch(ctx, []string{"t1", "t2"})

	if led.IsPublishing() {
		t.Fatalf("IsPublishing = true after EndBatch")
	}
	rec, ok := led.Get("t1")
	if !ok || rec.Status != StatusReady {
		t.Fatalf("t1 = %+v, ok=%v; want ready", rec, ok)
	}
	if rec.PublishURL != "https://a.example/submit" {
		t.Fatalf("t1 publish url = %q", rec.PublishURL)
	}
}

func TestSetStatusLastWriteWins(t *testing.T) {
	t.Parallel()
	led := New(nil, nil, logx.Nop())
	ctx := context.Background()

	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t1", Status: StatusPublishing})
	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t1", Status: StatusFailed, Message: "handler not ready"})

	rec, ok := led.Get("t1")
	if !ok || rec.Status != StatusFailed {
		t.Fatalf("t1 = %+v, ok=%v; want failed", rec, ok)
	}
	if rec.Timestamp.IsZero() {
		t.Fatalf("timestamp not defaulted")
	}
}

func TestSnapshotSorted(t *testing.T) {
	t.Parallel()
	led := New(nil, nil, logx.Nop())
	ctx := context.Background()

	led.SetStatus(ctx, storage.StatusRecord{TargetID: "zeta", Status: StatusReady})
	led.SetStatus(ctx, storage.StatusRecord{TargetID: "alpha", Status: StatusQueued})
	led.SetStatus(ctx, storage.StatusRecord{TargetID: "mid", Status: StatusFailed})

	snap := led.Snapshot()
	if len(snap.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(snap.Results))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if snap.Results[i].TargetID != want {
			t.Fatalf("results[%d] = %s, want %s", i, snap.Results[i].TargetID, want)
		}
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	led := New(nil, nil, logx.Nop())
	ctx := context.Background()

	led.BeginBatch(ctx, []string{"t1"})
	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t1", Status: StatusPublishing})
	led.Reset(ctx, "test reset")

	if led.IsPublishing() {
		t.Fatalf("IsPublishing = true after Reset")
	}
	if snap := led.Snapshot(); len(snap.Results) != 0 {
		t.Fatalf("results = %d after Reset, want 0", len(snap.Results))
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state")

	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	led := New(st, nil, logx.Nop())
	led.BeginBatch(ctx, []string{"t1", "t2"})
	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t1", Status: StatusReady, PublishURL: "https://a.example"})
	led.SetStatus(ctx, storage.StatusRecord{TargetID: "t2", Status: StatusFailed, Message: "deliver: boom"})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Fresh process: reopen and restore.
	st2, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer st2.Close()

	led2 := New(st2, nil, logx.Nop())
	if err := led2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if !led2.IsPublishing() {
		t.Fatalf("IsPublishing not restored")
	}
	rec, ok := led2.Get("t2")
	if !ok || rec.Status != StatusFailed || rec.Message != "deliver: boom" {
		t.Fatalf("t2 = %+v, ok=%v", rec, ok)
	}
	rec, ok = led2.Get("t1")
	if !ok || rec.PublishURL != "https://a.example" {
		t.Fatalf("t1 = %+v, ok=%v", rec, ok)
	}
}
