package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	cfgpkg "github.com/mezeipetister/towl/internal/config"
	"github.com/mezeipetister/towl/internal/logfile"
	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
)

func TestOpenCloseHealth(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.Manager() == nil || rt.Syncer() == nil {
		t.Fatalf("components not wired")
	}
	if rt.RetentionCleaner() != nil {
		t.Fatalf("cleaner should be off without keepFiles")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err == nil {
		t.Fatalf("health after close should fail")
	}
}

func TestAppendAndStream(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Org, cfg.Title = "acme", "edge"
	cfg.Partition.Rotation = ""
	cfg.Partition.MaxEntriesPerFile = 2
	rt, err := Open(Options{DataDir: t.TempDir(), Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := rt.Manager().Append(ctx, logfile.Entry{Sender: "s", LogEntry: "x"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ids := rt.Manager().ListIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 files after rollover, got %v", ids)
	}
	cur, err := rt.Syncer().Stream(ctx, ids[0], 0, false)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer cur.Close()
	n := 0
	for cur.Next(ctx) {
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 entries in first file, got %d", n)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Partition.MaxEntriesPerFile = 10 // rotation is set as well
	_, err := Open(Options{DataDir: t.TempDir(), Config: cfg})
	if !errors.Is(err, logfile.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := Open(Options{Config: cfgpkg.Default()}); !errors.Is(err, logfile.ErrConfig) {
		t.Fatalf("expected ErrConfig for empty dir, got %v", err)
	}
}

func TestArchiveModeUsesConfiguredURL(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(t.TempDir(), "archive")
	if err := os.MkdirAll(archive, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := cfgpkg.Default()
	cfg.Org, cfg.Title = "acme", "edge"
	cfg.Partition.Rotation = ""
	cfg.Partition.MaxEntriesPerFile = 1
	cfg.Retention.Mode = "archive"
	cfg.Retention.ArchiveURL = archive
	rt, err := Open(Options{DataDir: dir, Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := rt.Manager().Append(ctx, logfile.Entry{Sender: "s", LogEntry: "x"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ids := rt.Manager().ListIDs()
	res, err := rt.Manager().Retain(ctx, ids[len(ids)-1])
	if err != nil {
		t.Fatalf("retain: %v", err)
	}
	if res.Err() != nil {
		t.Fatalf("retain outcomes: %v", res.Err())
	}
	entries, err := os.ReadDir(archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected archived files in %s", archive)
	}
}
