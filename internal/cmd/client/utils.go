package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mezeipetister/towl/internal/cmd/client/transports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultGRPCAddr is where the server listens unless told otherwise.
const DefaultGRPCAddr = "127.0.0.1:50011"

// grpcAddrFromEnv returns the gRPC server address from TOWL_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("TOWL_GRPC"); addr != "" {
		return addr
	}
	return DefaultGRPCAddr
}

// dialer returns a dial function for addr with insecure transport for local/dev.
func dialer(addr string) func(ctx context.Context) (*grpc.ClientConn, error) {
	return func(ctx context.Context) (*grpc.ClientConn, error) {
		return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

// newTransport picks the address from the --addr flag when set, else from the
// environment.
func newTransport(addr string) transports.LogsTransport {
	if addr == "" {
		addr = grpcAddrFromEnv()
	}
	return transports.NewGrpcTransport(dialer(addr))
}

// withTransport provides a transport and ensures it is closed.
func withTransport(addr string, fn func(transports.LogsTransport) error) error {
	t := newTransport(addr)
	defer func() { _ = t.Close() }()
	return fn(t)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

func parseFileID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid file id %q", s)
	}
	return id, nil
}
