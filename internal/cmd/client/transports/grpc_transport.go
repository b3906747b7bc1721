// Package transports provides pluggable transport implementations for the CLI.
package transports

import (
	"context"
	"io"
	"sync"

	towlv1 "github.com/mezeipetister/towl/api/towl/v1"
	"google.golang.org/grpc"
)

// GrpcTransport implements LogsTransport over gRPC. The connection is dialed
// lazily and reused until Close; the sender daemon issues one Add per line.
type GrpcTransport struct {
	dial func(ctx context.Context) (*grpc.ClientConn, error)

	mu   sync.Mutex
	conn *grpc.ClientConn
	cli  towlv1.TowlClient
}

// NewGrpcTransport constructs a new GrpcTransport using the provided dialer.
func NewGrpcTransport(dial func(ctx context.Context) (*grpc.ClientConn, error)) *GrpcTransport {
	return &GrpcTransport{dial: dial}
}

func (t *GrpcTransport) client(ctx context.Context) (towlv1.TowlClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cli != nil {
		return t.cli, nil
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	t.cli = towlv1.NewTowlClient(conn)
	return t.cli, nil
}

// Close releases the underlying connection, if any.
func (t *GrpcTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn, t.cli = nil, nil
	return err
}

// Add appends one entry.
func (t *GrpcTransport) Add(ctx context.Context, req AddRequest) (Position, error) {
	cli, err := t.client(ctx)
	if err != nil {
		return Position{}, err
	}
	resp, err := cli.Add(ctx, &towlv1.AddRequest{Sender: req.Sender, LogFormat: req.LogFormat, LogEntry: req.LogEntry})
	if err != nil {
		return Position{}, err
	}
	return Position{FileID: resp.FileID, Counter: resp.Counter}, nil
}

// List returns the ids of the live files.
func (t *GrpcTransport) List(ctx context.Context) ([]uint64, error) {
	cli, err := t.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := cli.List(ctx, &towlv1.ListRequest{})
	if err != nil {
		return nil, err
	}
	return resp.FileIDs, nil
}

// Get streams entries and invokes onEntry for each item. A non-nil error from
// onEntry ends the stream and is returned.
func (t *GrpcTransport) Get(ctx context.Context, req GetRequest, onEntry func(Entry) error) error {
	cli, err := t.client(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := cli.Get(ctx, &towlv1.GetRequest{FileID: req.FileID, AfterCounter: req.AfterCounter, Follow: req.Follow})
	if err != nil {
		return err
	}
	n := 0
	for {
		m, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		e := Entry{FileID: m.FileID, Counter: m.Counter, Sender: m.Sender, Received: m.Received, LogFormat: m.LogFormat, LogEntry: m.LogEntry}
		if err := onEntry(e); err != nil {
			return err
		}
		n++
		if req.Limit > 0 && n >= req.Limit {
			return nil
		}
	}
}

// Config applies a rotation policy payload.
func (t *GrpcTransport) Config(ctx context.Context, payload string) (string, error) {
	cli, err := t.client(ctx)
	if err != nil {
		return "", err
	}
	resp, err := cli.Config(ctx, &towlv1.ConfigRequest{Payload: payload})
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Retain raises the retention boundary to fileID.
func (t *GrpcTransport) Retain(ctx context.Context, fileID uint64) (RetainResult, error) {
	cli, err := t.client(ctx)
	if err != nil {
		return RetainResult{}, err
	}
	resp, err := cli.Retain(ctx, &towlv1.RetainRequest{FileID: fileID})
	if err != nil {
		return RetainResult{}, err
	}
	out := RetainResult{Boundary: resp.Boundary}
	for _, o := range resp.Outcomes {
		out.Outcomes = append(out.Outcomes, RetainOutcome{FileID: o.FileID, Kind: o.Kind, URL: o.URL, Error: o.Error})
	}
	return out, nil
}

// Status reports the partition state.
func (t *GrpcTransport) Status(ctx context.Context) (Status, error) {
	cli, err := t.client(ctx)
	if err != nil {
		return Status{}, err
	}
	r, err := cli.Status(ctx, &towlv1.StatusRequest{})
	if err != nil {
		return Status{}, err
	}
	return Status{
		ActiveID:    r.ActiveID,
		ActiveCount: r.ActiveCount,
		Files:       r.Files,
		NextID:      r.NextID,
		Boundary:    r.Boundary,
		Policy:      r.Policy,
		Quarantined: r.Quarantined,
		Archived:    r.Archived,
		Subscribers: r.Subscribers,
	}, nil
}
