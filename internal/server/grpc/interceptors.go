package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/mezeipetister/towl/pkg/id"
	"github.com/mezeipetister/towl/pkg/log"
)

// RequestIDHeader carries the request id in gRPC metadata.
const RequestIDHeader = "x-request-id"

// requestID returns the caller supplied id or a fresh one.
func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return id.New().String()
}

func unaryInterceptor(logger log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rid := requestID(ctx)
		ctx = log.ContextWithRequestID(ctx, rid)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, rid))
		start := time.Now()
		resp, err := handler(ctx, req)
		err = toStatus(err)
		l := logger.WithContext(ctx)
		if err != nil {
			l.Warn("rpc failed", log.Str("method", info.FullMethod), log.Str("code", status.Code(err).String()), log.Dur("took", time.Since(start)), log.Err(err))
		} else {
			l.Debug("rpc", log.Str("method", info.FullMethod), log.Dur("took", time.Since(start)))
		}
		return resp, err
	}
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s ctxStream) Context() context.Context { return s.ctx }

func streamInterceptor(logger log.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		rid := requestID(ss.Context())
		ctx := log.ContextWithRequestID(ss.Context(), rid)
		_ = ss.SetHeader(metadata.Pairs(RequestIDHeader, rid))
		start := time.Now()
		err := toStatus(handler(srv, ctxStream{ServerStream: ss, ctx: ctx}))
		l := logger.WithContext(ctx)
		if err != nil && status.Code(err) != codes.Canceled {
			l.Warn("stream failed", log.Str("method", info.FullMethod), log.Str("code", status.Code(err).String()), log.Dur("took", time.Since(start)), log.Err(err))
		} else {
			l.Debug("stream closed", log.Str("method", info.FullMethod), log.Dur("took", time.Since(start)))
		}
		return err
	}
}
