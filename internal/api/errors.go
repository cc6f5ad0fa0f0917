package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/unishare/unisync/internal/chat"
)

// toStatus maps engine errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var te *chat.TransportError
	switch {
	case errors.Is(err, chat.ErrNoChat), errors.Is(err, chat.ErrEmptyMessage):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrSendInFlight), errors.Is(err, chat.ErrNotFailed):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, chat.ErrUnknownLocalID):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &te):
		return grpcstatus.Error(transportCode(te.Status), err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

func transportCode(httpStatus int) codes.Code {
	switch {
	case httpStatus == 0 || httpStatus >= 500:
		return codes.Unavailable
	case httpStatus == 401:
		return codes.Unauthenticated
	case httpStatus == 403:
		return codes.PermissionDenied
	case httpStatus == 404:
		return codes.NotFound
	case httpStatus == 422:
		return codes.InvalidArgument
	case httpStatus == 429:
		return codes.ResourceExhausted
	default:
		return codes.FailedPrecondition
	}
}

// isRequestError reports whether a send was rejected before reaching the
// network, as opposed to a delivery failure that leaves a failed entry.
func isRequestError(err error) bool {
	return errors.Is(err, chat.ErrNoChat) ||
		errors.Is(err, chat.ErrEmptyMessage) ||
		errors.Is(err, chat.ErrSendInFlight) ||
		errors.Is(err, chat.ErrUnknownLocalID) ||
		errors.Is(err, chat.ErrNotFailed)
}

func required(field, value string) error {
	if value == "" {
		return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return nil
}

func invalid(err error) error {
	return grpcstatus.Error(codes.InvalidArgument, err.Error())
}
