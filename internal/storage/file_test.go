package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "crosspost/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	_, ok, err := st.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if ok {
		t.Fatalf("ok = true for a store that never saved")
	}

	want := LedgerSnapshot{
		IsPublishing: true,
		Results: []StatusRecord{
			{TargetID: "t1", Status: "ready", PublishURL: "https://a.example"},
			{TargetID: "t2", Status: "failed", Message: "boom"},
		},
	}
	if err := st.SaveLedger(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := st.LoadLedger(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !got.IsPublishing || len(got.Results) != 2 {
		t.Fatalf("got = %+v", got)
	}
	if got.Results[1].Message != "boom" {
		t.Fatalf("results[1] = %+v", got.Results[1])
	}
}

func TestFileStoreCorruptSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state")

	if err := os.WriteFile(path+".ledger.json", []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	_, ok, err := st.LoadLedger(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("corrupt snapshot reported ok")
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
