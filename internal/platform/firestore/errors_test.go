package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orderledger/internal/repositories"
)

func TestWrapErrorClassifiesCodes(t *testing.T) {
	cases := []struct {
		code  codes.Code
		check func(repositories.RepositoryError) bool
	}{
		{codes.NotFound, repositories.RepositoryError.IsNotFound},
		{codes.AlreadyExists, repositories.RepositoryError.IsConflict},
		{codes.Aborted, repositories.RepositoryError.IsConflict},
		{codes.Unavailable, repositories.RepositoryError.IsUnavailable},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "x"))
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !tc.check(repoErr) {
			t.Fatalf("code %s: unexpected classification %v", tc.code, err)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(status.Error(codes.NotFound, "missing")) {
		t.Fatalf("expected raw not found detected")
	}
	if !IsNotFound(WrapError("op", status.Error(codes.NotFound, "missing"))) {
		t.Fatalf("expected wrapped not found detected")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatalf("unexpected not found")
	}
}
