package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Codec converts between a domain value and its Firestore document struct D.
type Codec[T any, D any] struct {
	Encode func(T) D
	Decode func(id string, doc D) (T, error)
}

// Collection gives typed access to one Firestore collection.
type Collection[T any, D any] struct {
	provider *Provider
	name     string
	codec    Codec[T, D]
}

// NewCollection binds a typed collection helper to the provider.
func NewCollection[T any, D any](provider *Provider, name string, codec Codec[T, D]) *Collection[T, D] {
	return &Collection[T, D]{provider: provider, name: strings.TrimSpace(name), codec: codec}
}

// Ref returns the collection reference.
func (c *Collection[T, D]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if c.name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// Doc returns the document reference for id.
func (c *Collection[T, D]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("firestore: %s document id is required", c.name)
	}
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return ref.Doc(id), nil
}

// Get reads and decodes the document.
func (c *Collection[T, D]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}
	return c.DecodeSnapshot(snap)
}

// GetTx reads and decodes the document inside a transaction.
func (c *Collection[T, D]) GetTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (T, error) {
	var zero T
	snap, err := tx.Get(ref)
	if err != nil {
		return zero, WrapError(c.op("tx_get"), err)
	}
	return c.DecodeSnapshot(snap)
}

// Encode converts a domain value into its document struct.
func (c *Collection[T, D]) Encode(value T) D {
	return c.codec.Encode(value)
}

// DecodeSnapshot converts a snapshot back into the domain value.
func (c *Collection[T, D]) DecodeSnapshot(snap *firestore.DocumentSnapshot) (T, error) {
	var zero T
	var doc D
	if err := snap.DataTo(&doc); err != nil {
		return zero, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return c.codec.Decode(snap.Ref.ID, doc)
}

// Query runs the query built on the collection and decodes every result.
func (c *Collection[T, D]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, error) {
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	query := ref.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		value, err := c.DecodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
}

func (c *Collection[T, D]) op(action string) string {
	return c.name + "." + action
}
