package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{
		DataDir:       t.TempDir(),
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCRUD(t *testing.T) {
	db := newTestDB(t)

	if err := db.Set([]byte("meta/next_id"), []byte("4")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("meta/next_id"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "4" {
		t.Fatalf("got %q want 4", got)
	}
	if err := db.Delete([]byte("meta/next_id")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("meta/next_id")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	db := newTestDB(t)

	err := db.Update(context.Background(), func(b *pebble.Batch) error {
		if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
			return err
		}
		return b.Set([]byte("b"), []byte("2"), nil)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if ok, _ := db.Has([]byte(k)); !ok {
			t.Fatalf("%s missing after update", k)
		}
	}

	boom := errors.New("boom")
	err = db.Update(context.Background(), func(b *pebble.Batch) error {
		_ = b.Set([]byte("c"), []byte("3"), nil)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if ok, _ := db.Has([]byte("c")); ok {
		t.Fatalf("failed update was committed")
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Set([]byte("cursor/x/1"), []byte("17")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db, err = Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, err := db.Get([]byte("cursor/x/1"))
	if err != nil || string(got) != "17" {
		t.Fatalf("after reopen: %q %v", got, err)
	}
	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected error without DataDir")
	}
}

func TestHasAndNotFound(t *testing.T) {
	db := newTestDB(t)

	ok, err := db.Has([]byte("missing"))
	if err != nil || ok {
		t.Fatalf("has missing: ok=%v err=%v", ok, err)
	}
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := db.Set([]byte("present"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err = db.Has([]byte("present"))
	if err != nil || !ok {
		t.Fatalf("has present: ok=%v err=%v", ok, err)
	}
}

func TestScanPrefix(t *testing.T) {
	db := newTestDB(t)

	for _, k := range []string{"arch/0001", "arch/0002", "arch/0003", "archive", "meta/next"} {
		if err := db.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	var got []string
	err := db.ScanPrefix([]byte("arch/"), func(k, v []byte) error {
		got = append(got, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"arch/0001", "arch/0002", "arch/0003"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	stop := errors.New("stop")
	n := 0
	err = db.ScanPrefix([]byte("arch/"), func(k, v []byte) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("early stop: n=%d err=%v", n, err)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := PrefixUpperBound([]byte("ab")); string(got) != "ac" {
		t.Fatalf("got %q", got)
	}
	if got := PrefixUpperBound([]byte{'a', 0xff}); string(got) != "b" {
		t.Fatalf("got %q", got)
	}
	if got := PrefixUpperBound([]byte{0xff, 0xff}); got != nil {
		t.Fatalf("got %q want nil", got)
	}
}

func TestCommitBatchHonoursContext(t *testing.T) {
	db := newTestDB(t)
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte("k"), []byte("v"), nil); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.CommitBatch(ctx, b); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatalf("cancelled batch was committed")
	}
}
