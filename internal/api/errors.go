package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/duet/internal/actions"
	"github.com/matheus3301/duet/internal/backend"
	"github.com/matheus3301/duet/internal/chat"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus converts a domain error into a gRPC status error prefixed by op.
func toStatus(op string, err error) error {
	return grpcstatus.Errorf(codeOf(err), "%s: %v", op, err)
}

func codeOf(err error) codes.Code {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, chat.ErrNotOpen):
		return codes.FailedPrecondition
	case errors.Is(err, chat.ErrNoUser):
		return codes.Unauthenticated
	case errors.Is(err, chat.ErrNoConversation),
		errors.Is(err, actions.ErrNoKind),
		errors.Is(err, actions.ErrNoTarget):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			return codes.Unauthenticated
		case apiErr.Status == http.StatusForbidden:
			return codes.PermissionDenied
		case apiErr.Status == http.StatusNotFound:
			return codes.NotFound
		case apiErr.Status == http.StatusConflict:
			return codes.Aborted
		case apiErr.Status >= 500:
			return codes.Unavailable
		}
		return codes.FailedPrecondition
	}
	return codes.Internal
}
