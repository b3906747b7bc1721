package grpcserver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	towlv1 "github.com/mezeipetister/towl/api/towl/v1"
	cfgpkg "github.com/mezeipetister/towl/internal/config"
	"github.com/mezeipetister/towl/internal/runtime"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
)

const bufSize = 1 << 20

func dialer(s *grpc.Server) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
}

func newTestConn(t *testing.T, maxEntries uint64) *grpc.ClientConn {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Partition.Rotation = ""
	cfg.Partition.MaxEntriesPerFile = maxEntries
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	srv := New(rt, logsvc.New(rt))
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer(srv.grpc)),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Close()
		_ = rt.Close()
	})
	return conn
}

func TestHealthOverGRPC(t *testing.T) {
	conn := newTestConn(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := healthpb.NewHealthClient(conn)
	for _, svc := range []string{"", towlv1.ServiceName} {
		res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
	}
}

func TestAddListGetOverGRPC(t *testing.T) {
	conn := newTestConn(t, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := towlv1.NewTowlClient(conn)

	var fileID uint64
	for i := 0; i < 5; i++ {
		res, err := c.Add(ctx, &towlv1.AddRequest{Sender: "web-1", LogEntry: "hello"})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), res.Counter)
		fileID = res.FileID
	}

	list, err := c.List(ctx, &towlv1.ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{fileID}, list.FileIDs)

	var header metadata.MD
	stream, err := c.Get(ctx, &towlv1.GetRequest{FileID: fileID, AfterCounter: "3"}, grpc.Header(&header))
	require.NoError(t, err)
	var got []*towlv1.LogEntry
	for {
		e, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Counter)
	assert.Equal(t, "web-1", got[1].Sender)
	assert.False(t, got[0].Received.IsZero())
	assert.NotEmpty(t, header.Get(RequestIDHeader))
}

func TestGetErrorCodes(t *testing.T) {
	conn := newTestConn(t, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := towlv1.NewTowlClient(conn)
	res, err := c.Add(ctx, &towlv1.AddRequest{Sender: "s", LogEntry: "x"})
	require.NoError(t, err)

	recvErr := func(req *towlv1.GetRequest) error {
		stream, err := c.Get(ctx, req)
		if err != nil {
			return err
		}
		_, err = stream.Recv()
		return err
	}
	assert.Equal(t, codes.InvalidArgument, status.Code(recvErr(&towlv1.GetRequest{FileID: res.FileID, AfterCounter: "abc"})))
	assert.Equal(t, codes.NotFound, status.Code(recvErr(&towlv1.GetRequest{FileID: 4242, AfterCounter: "0"})))

	_, err = c.Config(ctx, &towlv1.ConfigRequest{Payload: `{"rotation":"hourly"}`})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestFollowOverGRPC(t *testing.T) {
	conn := newTestConn(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := towlv1.NewTowlClient(conn)

	first, err := c.Add(ctx, &towlv1.AddRequest{Sender: "s", LogEntry: "0"})
	require.NoError(t, err)
	stream, err := c.Get(ctx, &towlv1.GetRequest{FileID: first.FileID, AfterCounter: "0", Follow: true})
	require.NoError(t, err)
	e, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "0", e.LogEntry)

	// the third entry fills the file; the stream ends after delivering it
	for _, line := range []string{"1", "2"} {
		_, err := c.Add(ctx, &towlv1.AddRequest{Sender: "s", LogEntry: line})
		require.NoError(t, err)
	}
	for _, want := range []string{"1", "2"} {
		e, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, e.LogEntry)
	}
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestConfigRetainStatusOverGRPC(t *testing.T) {
	conn := newTestConn(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := towlv1.NewTowlClient(conn)

	for i := 0; i < 5; i++ {
		_, err := c.Add(ctx, &towlv1.AddRequest{Sender: "s", LogEntry: "x"})
		require.NoError(t, err)
	}
	list, err := c.List(ctx, &towlv1.ListRequest{})
	require.NoError(t, err)
	require.Len(t, list.FileIDs, 3)

	ret, err := c.Retain(ctx, &towlv1.RetainRequest{FileID: list.FileIDs[2]})
	require.NoError(t, err)
	assert.Equal(t, list.FileIDs[2], ret.Boundary)
	require.Len(t, ret.Outcomes, 2)
	assert.Equal(t, "removed", ret.Outcomes[0].Kind)

	cfg, err := c.Config(ctx, &towlv1.ConfigRequest{Payload: `{"max_entries_per_file":10}`})
	require.NoError(t, err)
	assert.Contains(t, cfg.Message, "10")

	st, err := c.Status(ctx, &towlv1.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, list.FileIDs[2], st.ActiveID)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, "max 10 entries per file", st.Policy)
}
