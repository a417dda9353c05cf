package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orderledger/internal/repositories"
)

// WrapError classifies Firestore failures into repository error kinds.
// Context cancellation passes through untouched so callers can tell it apart.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		return err
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return repositories.NewNotFoundError(op, err)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return repositories.NewConflictError(op, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.NewUnavailableError(op, err)
	default:
		return &repositories.Error{Op: op, Err: err}
	}
}

// IsNotFound reports whether err is a Firestore not-found failure, wrapped or not.
func IsNotFound(err error) bool {
	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}
