package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/hanko-field/orderledger/internal/platform/config"
)

func TestProviderRequiresProjectID(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{})
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "demo"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
