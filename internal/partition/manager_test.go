package partition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezeipetister/towl/internal/logfile"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	m, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func appendN(t *testing.T, m *Manager, n int) []Position {
	t.Helper()
	out := make([]Position, 0, n)
	for i := 0; i < n; i++ {
		pos, err := m.Append(context.Background(), logfile.Entry{Sender: "s", Received: m.now(), LogEntry: fmt.Sprintf("e%d", i)})
		require.NoError(t, err)
		out = append(out, pos)
	}
	return out
}

func TestRolloverAfterWrite(t *testing.T) {
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 3}})
	positions := appendN(t, m, 4)

	assert.Equal(t, []uint64{1, 2}, m.ListIDs())
	assert.Equal(t, Position{FileID: 1, Ordinal: 2}, positions[2])
	assert.Equal(t, Position{FileID: 2, Ordinal: 0}, positions[3])

	h1, err := m.Acquire(1)
	require.NoError(t, err)
	defer h1.Release()
	assert.True(t, h1.Store().Closed())
	assert.Equal(t, uint64(3), h1.Store().EntryCount())

	active, err := m.ActiveFile()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), active.ID())
	assert.False(t, active.Closed())
	assert.Equal(t, uint64(1), active.EntryCount())
}

func TestIDsMonotonicAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir, Policy: Policy{MaxEntries: 1}})
	require.NoError(t, err)
	appendN(t, m, 3)
	_, err = m.Retain(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, m.ListIDs())
	require.NoError(t, m.Close())

	m2 := openTestManager(t, Options{Dir: dir})
	pos := appendN(t, m2, 1)[0]
	assert.Equal(t, uint64(4), pos.FileID, "ids must not be reused after files are removed")
}

func TestRestartResumesActiveFile(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir, Policy: Policy{MaxEntries: 10}})
	require.NoError(t, err)
	appendN(t, m, 2)
	// Simulate a crash: release without sealing.
	m.mu.Lock()
	m.closed = true
	for _, f := range m.files {
		_ = f.store.Release()
	}
	m.mu.Unlock()
	m.shutdown()

	m2 := openTestManager(t, Options{Dir: dir, Policy: Policy{MaxEntries: 10}})
	st := m2.Stats()
	assert.Equal(t, uint64(1), st.ActiveID)
	assert.Equal(t, uint64(2), st.ActiveCount)
	pos := appendN(t, m2, 1)[0]
	assert.Equal(t, Position{FileID: 1, Ordinal: 2}, pos)
}

func TestStaleOpenFilesAreSealed(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []uint64{1, 2} {
		s, err := logfile.Create(filepath.Join(dir, fmt.Sprintf("%d%s", id, logfile.Ext)), logfile.HeaderFields{ID: id})
		require.NoError(t, err)
		require.NoError(t, s.Release())
	}
	m := openTestManager(t, Options{Dir: dir, Policy: Policy{MaxEntries: 5}})
	assert.Equal(t, uint64(2), m.Stats().ActiveID)
	assert.Equal(t, uint64(3), m.Stats().NextID)

	h, err := m.Acquire(1)
	require.NoError(t, err)
	defer h.Release()
	assert.True(t, h.Store().Closed())
}

func TestRetainKeepsActiveAndDefers(t *testing.T) {
	ctx := context.Background()
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 2}})
	appendN(t, m, 7) // files 1..3 sealed with 2 entries, 4 active with 1
	require.Equal(t, []uint64{1, 2, 3, 4}, m.ListIDs())

	res, err := m.Retain(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 3, res.Count(OutcomeRemoved))
	assert.Equal(t, []uint64{4}, m.ListIDs())
	for _, id := range []uint64{1, 2, 3} {
		_, err := os.Stat(m.pathFor(id))
		assert.True(t, errors.Is(err, os.ErrNotExist), "file %d still on disk", id)
	}

	res, err = m.Retain(ctx, 5)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, Outcome{ID: 4, Kind: OutcomeDeferred}, res.Outcomes[0])
	assert.Equal(t, []uint64{4}, m.ListIDs())

	// Sealing file 4 applies the recorded boundary.
	appendN(t, m, 1)
	assert.Empty(t, m.ListIDs())

	_, err = m.Acquire(4)
	assert.ErrorIs(t, err, logfile.ErrFileRetired)
	_, err = m.Acquire(2)
	assert.ErrorIs(t, err, logfile.ErrFileRetired)
	_, err = m.Acquire(99)
	assert.ErrorIs(t, err, logfile.ErrFileNotFound)

	// Vacuous retain.
	res, err = m.Retain(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, uint64(5), res.Boundary)
}

func TestRetainWithLiveReaderDefersRemoval(t *testing.T) {
	ctx := context.Background()
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 2}})
	appendN(t, m, 3)

	h, err := m.Acquire(1)
	require.NoError(t, err)
	path := h.Store().Path()

	res, err := m.Retain(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []Outcome{{ID: 1, Kind: OutcomeDeferred}}, res.Outcomes)
	assert.Equal(t, []uint64{2}, m.ListIDs())
	assert.True(t, h.Retired())

	_, err = m.Acquire(1)
	assert.ErrorIs(t, err, logfile.ErrFileRetired)

	e, err := h.Store().ReadAt(1)
	require.NoError(t, err)
	assert.Equal(t, "e1", e.LogEntry)
	_, err = os.Stat(path)
	require.NoError(t, err)

	h.Release()
	h.Release()
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRetainReportsFailedUnlink(t *testing.T) {
	ctx := context.Background()
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 2}})
	appendN(t, m, 3) // 1 sealed, 2 active

	// A non-empty directory in place of 1.towl cannot be unlinked.
	path := m.pathFor(1)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "keep"), 0o755))

	res, err := m.Retain(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(OutcomeFailed))
	assert.Equal(t, 0, res.Count(OutcomeRemoved))
	require.Error(t, res.Err())
	assert.ErrorIs(t, res.Err(), logfile.ErrIO)
	assert.Equal(t, []uint64{1, 2}, m.ListIDs())
	_, err = os.Stat(path)
	assert.NoError(t, err)

	// The file stays readable and a later sweep tries again.
	h, err := m.Acquire(1)
	require.NoError(t, err)
	e, err := h.Store().ReadAt(1)
	require.NoError(t, err)
	assert.Equal(t, "e1", e.LogEntry)
	h.Release()

	require.NoError(t, os.RemoveAll(path))
	res, err = m.Retain(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, []Outcome{{ID: 1, Kind: OutcomeRemoved}}, res.Outcomes)
	assert.Equal(t, []uint64{2}, m.ListIDs())
}

type failingArchiver struct{}

func (failingArchiver) Archive(context.Context, string, logfile.Header, logfile.Index) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestArchiveMode(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	archiveDir := t.TempDir()
	dir := t.TempDir()
	m, err := Open(Options{
		Dir:      dir,
		Org:      "acme",
		Title:    "edge",
		Policy:   Policy{MaxEntries: 1},
		Mode:     RetentionArchive,
		Archiver: NewAFSArchiver(archiveDir),
		Now:      clock.Now,
	})
	require.NoError(t, err)
	appendN(t, m, 2)

	res, err := m.Retain(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, OutcomeArchived, res.Outcomes[0].Kind)

	name := "acme_edge_2024_3_1_1" + logfile.Ext
	archived := filepath.Join(archiveDir, name)
	assert.True(t, logfile.IsLogFile(archived))
	_, err = os.Stat(m.pathFor(1))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	recs := m.Archived()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), recs[0].ID)
	assert.Contains(t, recs[0].URL, name)
	require.NoError(t, m.Close())

	// Archive records survive a restart.
	m2 := openTestManager(t, Options{Dir: dir, Mode: RetentionArchive, Archiver: NewAFSArchiver(archiveDir)})
	assert.Len(t, m2.Archived(), 1)
	_, err = m2.Acquire(1)
	assert.ErrorIs(t, err, logfile.ErrFileRetired)
}

func TestArchiveFailureKeepsFile(t *testing.T) {
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 1}, Mode: RetentionArchive, Archiver: failingArchiver{}})
	appendN(t, m, 2)

	res, err := m.Retain(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(OutcomeFailed))
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "bucket unavailable")
	assert.Equal(t, []uint64{1, 2}, m.ListIDs())
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "7.towl"), []byte("not a log file"), 0o644))
	s, err := logfile.Create(filepath.Join(dir, "8.towl"), logfile.HeaderFields{ID: 8})
	require.NoError(t, err)
	require.NoError(t, s.Release())
	raw, err := os.ReadFile(filepath.Join(dir, "8.towl"))
	require.NoError(t, err)
	raw[logfile.HeaderStart+len(logfile.Magic)+4] ^= 0xff
	require.NoError(t, os.WriteFile(filepath.Join(dir, "8.towl"), raw, 0o644))

	m := openTestManager(t, Options{Dir: dir, Policy: Policy{MaxEntries: 5}})
	assert.Len(t, m.Quarantined(), 2)
	assert.Empty(t, m.ListIDs())
	_, err = os.Stat(filepath.Join(dir, "8.towl"))
	assert.NoError(t, err, "quarantined files stay on disk")
}

func TestDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	openTestManager(t, Options{Dir: dir})
	_, err := Open(Options{Dir: dir})
	require.ErrorIs(t, err, ErrLocked)
}

func TestTimeRotation(t *testing.T) {
	clock := newFakeClock()
	m := openTestManager(t, Options{Policy: Policy{Rotation: RotationDaily}, Now: clock.Now})
	appendN(t, m, 2)

	rotated, err := m.Rotate()
	require.NoError(t, err)
	assert.False(t, rotated)

	clock.Advance(14 * time.Hour) // next UTC day
	rotated, err = m.Rotate()
	require.NoError(t, err)
	assert.True(t, rotated)

	pos := appendN(t, m, 1)[0]
	assert.Equal(t, uint64(2), pos.FileID)

	// ActiveFile seals a stale file on its own as well.
	clock.Advance(24 * time.Hour)
	s, err := m.ActiveFile()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.ID())
}

func TestConfigure(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), m.Policy())

	assert.ErrorIs(t, m.Configure(Policy{}), logfile.ErrConfig)
	assert.ErrorIs(t, m.Configure(Policy{MaxEntries: 3, Rotation: RotationDaily}), logfile.ErrConfig)
	assert.ErrorIs(t, m.Configure(Policy{Rotation: "hourly"}), logfile.ErrConfig)
	assert.Equal(t, DefaultPolicy(), m.Policy())

	require.NoError(t, m.Configure(Policy{Rotation: RotationWeekly}))
	require.NoError(t, m.Close())

	m2 := openTestManager(t, Options{Dir: dir, Policy: Policy{MaxEntries: 9}})
	assert.Equal(t, Policy{Rotation: RotationWeekly}, m2.Policy())
}

func TestClosedManager(t *testing.T) {
	m, err := Open(Options{Dir: t.TempDir(), Policy: Policy{MaxEntries: 5}})
	require.NoError(t, err)
	appendN(t, m, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Append(context.Background(), logfile.Entry{LogEntry: "late"})
	assert.ErrorIs(t, err, logfile.ErrClosed)
	_, err = m.Acquire(1)
	assert.ErrorIs(t, err, logfile.ErrClosed)
}

func TestCloseKeepsHeldFilesReadable(t *testing.T) {
	m, err := Open(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	appendN(t, m, 3)
	h, err := m.Acquire(1)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	st := h.Store()
	assert.True(t, st.Closed())
	for i := 0; i < 3; i++ {
		e, err := st.ReadAt(uint64(i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("e%d", i), e.LogEntry)
	}

	h.Release()
	_, err = st.ReadAt(0)
	assert.ErrorIs(t, err, logfile.ErrClosed)
}

func TestAppendDoesNotBlockFileTable(t *testing.T) {
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 2}})
	appendN(t, m, 3)

	// Stand in for an append stuck in fsync.
	m.appendMu.Lock()
	done := make(chan error, 1)
	go func() {
		_ = m.ListIDs()
		_ = m.Stats()
		h, err := m.Acquire(1)
		if err == nil {
			h.Release()
		}
		done <- err
	}()
	var err error
	blocked := false
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		blocked = true
	}
	m.appendMu.Unlock()
	require.False(t, blocked, "file table waited for the append lock")
	require.NoError(t, err)
}

func TestConcurrentAppendsAndReaders(t *testing.T) {
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 5}})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := m.Append(context.Background(), logfile.Entry{Sender: "s", Received: m.now(), LogEntry: "x"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			for _, id := range m.ListIDs() {
				if h, err := m.Acquire(id); err == nil {
					_ = h.Store().EntryCount()
					h.Release()
				}
			}
		}
	}()
	wg.Wait()

	var total uint64
	for _, id := range m.ListIDs() {
		h, err := m.Acquire(id)
		require.NoError(t, err)
		total += h.Store().EntryCount()
		h.Release()
	}
	assert.Equal(t, uint64(100), total)
	assert.Len(t, m.ListIDs(), 20)
}

func TestRetentionCleanerKeepsNewest(t *testing.T) {
	m := openTestManager(t, Options{Policy: Policy{MaxEntries: 1}})
	appendN(t, m, 4)
	require.Equal(t, []uint64{1, 2, 3, 4}, m.ListIDs())

	rc := NewRetentionCleaner(m, 2, time.Hour)
	res := rc.Clean(context.Background())
	assert.Equal(t, uint64(3), res.Boundary)
	assert.Equal(t, []uint64{3, 4}, m.ListIDs())

	res = rc.Clean(context.Background())
	assert.Empty(t, res.Outcomes)
}

func TestRotatorStartStop(t *testing.T) {
	clock := newFakeClock()
	m := openTestManager(t, Options{Policy: Policy{Rotation: RotationDaily}, Now: clock.Now})
	appendN(t, m, 1)
	clock.Advance(48 * time.Hour)

	r := NewRotator(m, 5*time.Millisecond)
	r.Start()
	defer r.Stop()
	require.Eventually(t, func() bool { return m.Stats().ActiveID == 0 }, time.Second, 5*time.Millisecond)
	r.Stop()
}
