package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeClient struct {
	values map[string]string
	err    error
	calls  []string
}

func (f *fakeClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.calls = append(f.calls, req.GetName())
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeClient) Close() error { return nil }

func TestResolverFetchesAndCaches(t *testing.T) {
	client := &fakeClient{values: map[string]string{
		"projects/ledger/secrets/hmac-key/versions/latest": "s3cret",
		"projects/other/secrets/hmac-key/versions/3":       "pinned",
	}}
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	r, err := NewResolver(context.Background(),
		WithClient(client),
		WithProject("ledger"),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		value, err := r.Resolve(ctx, "secret://hmac-key")
		if err != nil || value != "s3cret" {
			t.Fatalf("Resolve: %q %v", value, err)
		}
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected cached second lookup, got %d calls", len(client.calls))
	}

	if value, err := r.Resolve(ctx, "sm://hmac-key?version=3&project=other"); err != nil || value != "pinned" {
		t.Fatalf("pinned Resolve: %q %v", value, err)
	}

	now = now.Add(defaultCacheTTL)
	if _, err := r.Resolve(ctx, "secret://hmac-key"); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected refetch after ttl, got %d calls", len(client.calls))
	}

	r.Invalidate("secret://hmac-key")
	if _, err := r.Resolve(ctx, "secret://hmac-key"); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if len(client.calls) != 4 {
		t.Fatalf("expected refetch after invalidate, got %d calls", len(client.calls))
	}
}

func TestResolverFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local secrets\nsecret://hmac-key=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := &fakeClient{err: status.Error(codes.PermissionDenied, "denied")}
	r, err := NewResolver(context.Background(), WithClient(client), WithProject("ledger"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	value, err := r.Resolve(context.Background(), "secret://hmac-key")
	if err != nil || value != "from-file" {
		t.Fatalf("expected fallback value, got %q %v", value, err)
	}
	if _, err := r.Resolve(context.Background(), "secret://missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolverPropagatesHardErrors(t *testing.T) {
	r, err := NewResolver(context.Background(), WithClient(&fakeClient{values: map[string]string{}}), WithProject("ledger"))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	_, err = r.Resolve(context.Background(), "secret://absent")
	if err == nil || errors.Is(err, ErrNotFound) || status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected wrapped NotFound status, got %v", err)
	}
}

func TestValuePassesLiteralsThrough(t *testing.T) {
	r, err := NewResolver(context.Background())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if value, err := r.Value(context.Background(), "plain-key"); err != nil || value != "plain-key" {
		t.Fatalf("expected literal passthrough, got %q %v", value, err)
	}
	if IsReference("plain") || !IsReference("sm://x") || !IsReference("secret://x") {
		t.Fatalf("IsReference misclassified values")
	}
	if _, err := r.Resolve(context.Background(), "https://x"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
