package logsvc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/mezeipetister/towl/internal/config"
	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/internal/partition"
	"github.com/mezeipetister/towl/internal/runtime"
	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
)

func newServiceForTest(t *testing.T, maxEntries uint64) (*Service, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Org, cfg.Title = "acme", "edge"
	cfg.Partition.Rotation = ""
	cfg.Partition.MaxEntriesPerFile = maxEntries
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt), rt
}

type testSink struct {
	ctx     context.Context
	mu      sync.Mutex
	items   []Item
	flushes int
	failAt  int
	got     chan Item
}

func newTestSink(ctx context.Context) *testSink {
	return &testSink{ctx: ctx, got: make(chan Item, 1024)}
}

func (s *testSink) Send(it Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.items)+1 >= s.failAt {
		return errors.New("broken pipe")
	}
	s.items = append(s.items, it)
	s.got <- it
	return nil
}

func (s *testSink) Context() context.Context { return s.ctx }

func (s *testSink) Flush() error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *testSink) snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

func addN(t *testing.T, svc *Service, n int) []partition.Position {
	t.Helper()
	out := make([]partition.Position, 0, n)
	for i := 0; i < n; i++ {
		pos, err := svc.Add(context.Background(), AddRequest{Sender: "web-1", LogEntry: "line"})
		require.NoError(t, err)
		out = append(out, pos)
	}
	return out
}

func TestAddStampsReceived(t *testing.T) {
	svc, _ := newServiceForTest(t, 10)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	svc.now = func() time.Time { return fixed }

	pos, err := svc.Add(context.Background(), AddRequest{Sender: "web-1", LogFormat: logfile.FormatServiceJSON, LogEntry: `{"MESSAGE":"hi"}`})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos.Ordinal)

	sink := newTestSink(context.Background())
	require.NoError(t, svc.Get(context.Background(), GetRequest{FileID: pos.FileID, AfterCounter: "0"}, sink))
	items := sink.snapshot()
	require.Len(t, items, 1)
	assert.True(t, items[0].Received.Equal(fixed))
	assert.Equal(t, time.UTC, items[0].Received.Location())
	assert.Equal(t, logfile.FormatServiceJSON, items[0].LogFormat)
	assert.Equal(t, pos.FileID, items[0].FileID)
}

func TestGetFromCounter(t *testing.T) {
	svc, _ := newServiceForTest(t, 1000)
	pos := addN(t, svc, 70)

	sink := newTestSink(context.Background())
	err := svc.Get(context.Background(), GetRequest{FileID: pos[0].FileID, AfterCounter: "47"}, sink)
	require.NoError(t, err)
	items := sink.snapshot()
	require.Len(t, items, 23)
	for i, it := range items {
		assert.Equal(t, uint64(47+i), it.Counter)
	}
}

func TestGetErrors(t *testing.T) {
	svc, _ := newServiceForTest(t, 1000)
	pos := addN(t, svc, 1)
	ctx := context.Background()

	err := svc.Get(ctx, GetRequest{FileID: pos[0].FileID, AfterCounter: "-1"}, newTestSink(ctx))
	assert.True(t, errors.Is(err, logfile.ErrInvalidCounter))

	err = svc.Get(ctx, GetRequest{FileID: pos[0].FileID, AfterCounter: ""}, newTestSink(ctx))
	assert.True(t, errors.Is(err, logfile.ErrInvalidCounter))

	err = svc.Get(ctx, GetRequest{FileID: 999, AfterCounter: "0"}, newTestSink(ctx))
	assert.True(t, errors.Is(err, logfile.ErrFileNotFound))
}

func TestGetFollowEndsOnSeal(t *testing.T) {
	svc, _ := newServiceForTest(t, 5)
	pos := addN(t, svc, 2)
	id := pos[0].FileID

	sink := newTestSink(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Get(context.Background(), GetRequest{FileID: id, AfterCounter: "2", Follow: true}, sink)
	}()
	require.Eventually(t, func() bool { return svc.ActiveSubscribersCount(id) == 1 }, 2*time.Second, 5*time.Millisecond)

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Subscribers[id])

	// three more entries reach the limit and seal the file
	addN(t, svc, 3)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not end after the file was sealed")
	}
	items := sink.snapshot()
	require.Len(t, items, 3)
	assert.Equal(t, uint64(2), items[0].Counter)
	assert.Equal(t, uint64(4), items[2].Counter)
	assert.Equal(t, 0, svc.ActiveSubscribersCount(id))
}

func TestGetFollowCancel(t *testing.T) {
	svc, _ := newServiceForTest(t, 100)
	pos := addN(t, svc, 1)

	ctx, cancel := context.WithCancel(context.Background())
	sink := newTestSink(ctx)
	done := make(chan error, 1)
	go func() {
		done <- svc.Get(ctx, GetRequest{FileID: pos[0].FileID, AfterCounter: "0", Follow: true}, sink)
	}()
	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("first entry not delivered")
	}
	cancel()
	select {
	case err := <-done:
		assert.True(t, IsNormalEnd(err), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop on cancel")
	}
}

func TestGetSinkFailureEndsStream(t *testing.T) {
	svc, _ := newServiceForTest(t, 1000)
	pos := addN(t, svc, 20)
	sink := newTestSink(context.Background())
	sink.failAt = 5
	err := svc.Get(context.Background(), GetRequest{FileID: pos[0].FileID, AfterCounter: "0"}, sink)
	require.Error(t, err)
	assert.Len(t, sink.snapshot(), 4)
}

func TestGetFlushWindowCoalesces(t *testing.T) {
	svc, _ := newServiceForTest(t, 1000)
	svc.flushWindow = time.Hour
	pos := addN(t, svc, 10)
	sink := newTestSink(context.Background())
	require.NoError(t, svc.Get(context.Background(), GetRequest{FileID: pos[0].FileID, AfterCounter: "0"}, sink))
	assert.Len(t, sink.snapshot(), 10)
	// one flush when the stream ends
	assert.Equal(t, 1, sink.flushes)
}

func TestConfig(t *testing.T) {
	svc, rt := newServiceForTest(t, 1000)
	ctx := context.Background()

	msg, err := svc.Config(ctx, []byte(`{"rotation":"weekly"}`))
	require.NoError(t, err)
	assert.Contains(t, msg, "weekly")
	assert.Equal(t, partition.Policy{Rotation: partition.RotationWeekly}, rt.Manager().Policy())

	_, err = svc.Config(ctx, []byte(`{"max_entries_per_file":250}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(250), rt.Manager().Policy().MaxEntries)

	bad := []string{
		`not json`,
		`[1,2]`,
		`{}`,
		`{"max_entries_per_file":0}`,
		`{"max_entries_per_file":1.5}`,
		`{"max_entries_per_file":"10"}`,
		`{"rotation":"hourly"}`,
		`{"rotation":"daily","max_entries_per_file":10}`,
		`{"size":10}`,
	}
	for _, p := range bad {
		_, err := svc.Config(ctx, []byte(p))
		assert.True(t, errors.Is(err, logfile.ErrConfig), "payload %s: %v", p, err)
	}
	// the last good policy survives
	assert.Equal(t, uint64(250), rt.Manager().Policy().MaxEntries)
}

func TestListRetainStatus(t *testing.T) {
	svc, _ := newServiceForTest(t, 2)
	ctx := context.Background()
	addN(t, svc, 7) // files of 2,2,2 sealed and 1 active

	ids, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 4)

	res, err := svc.Retain(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(partition.OutcomeRemoved))

	ids2, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2:], ids2)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[3], st.ActiveID)
	assert.Equal(t, uint64(1), st.ActiveCount)
	assert.Equal(t, ids[2], st.Boundary)
	require.NoError(t, svc.Health(ctx))

	err = svc.Get(ctx, GetRequest{FileID: ids[0], AfterCounter: "0"}, newTestSink(ctx))
	assert.True(t, errors.Is(err, logfile.ErrFileRetired))
}

func TestValidate(t *testing.T) {
	svc, _ := newServiceForTest(t, 100)
	pos := addN(t, svc, 1)
	ctx := context.Background()

	require.NoError(t, svc.Validate(ctx, GetRequest{FileID: pos[0].FileID, AfterCounter: "0"}))
	assert.True(t, errors.Is(svc.Validate(ctx, GetRequest{FileID: pos[0].FileID, AfterCounter: "1e3"}), logfile.ErrInvalidCounter))
	assert.True(t, errors.Is(svc.Validate(ctx, GetRequest{FileID: 55, AfterCounter: "0"}), logfile.ErrFileNotFound))
}
