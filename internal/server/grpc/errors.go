package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mezeipetister/towl/internal/logfile"
	"github.com/mezeipetister/towl/internal/partition"
)

// toStatus maps engine errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, logfile.ErrFileNotFound):
		code = codes.NotFound
	case errors.Is(err, logfile.ErrFileRetired):
		code = codes.NotFound
	case errors.Is(err, logfile.ErrInvalidCounter), errors.Is(err, logfile.ErrConfig), errors.Is(err, logfile.ErrOutOfRange):
		code = codes.InvalidArgument
	case errors.Is(err, logfile.ErrClosed), errors.Is(err, partition.ErrLocked):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
