package control

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/icn-bootstrap/internal/bootstrap"
	"github.com/signalsfoundry/icn-bootstrap/internal/fid"
	"github.com/signalsfoundry/icn-bootstrap/internal/flows"
	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
)

// ErrInvalidArgument is returned for requests that fail field validation.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps bootstrapping errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var encErr *lid.AddressEncodingError
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, bootstrap.ErrInvalidConfig),
		errors.Is(err, registry.ErrInvalidEntry),
		errors.Is(err, flows.ErrInvalidRule),
		errors.As(err, &encErr):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, bootstrap.ErrNotConfigured),
		errors.Is(err, fid.ErrNotConfigured):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, tmsdn.ErrAllocationFailed):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
