package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
)

const (
	defaultCollection = "idempotencyKeys"
	purgeBatchSize    = 200
)

// FirestoreStore keeps records in a Firestore collection keyed by the SHA-256 of the key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore returns a store on the given collection. An empty name uses "idempotencyKeys".
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}
}

type recordDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Completed       bool                `firestore:"completed"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (d recordDocument) record() Record {
	return Record{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Response:    Response{Status: d.ResponseStatus, Headers: d.ResponseHeaders, Body: d.ResponseBody},
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

// readTx loads the record inside tx. A missing document yields ok=false.
func readTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (recordDocument, bool, error) {
	snap, err := tx.Get(ref)
	if pfirestore.IsNotFound(err) {
		return recordDocument{}, false, nil
	}
	if err != nil {
		return recordDocument{}, false, err
	}
	var doc recordDocument
	if err := snap.DataTo(&doc); err != nil {
		return recordDocument{}, false, err
	}
	return doc, true, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.ref(ctx, key)
	if err != nil {
		return 0, Record{}, err
	}

	var (
		state  State
		record Record
	)
	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		doc, ok, err := readTx(tx, ref)
		if err != nil {
			return err
		}
		if !ok || !now.Before(doc.ExpiresAt) {
			doc = recordDocument{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
			state, record = StateNew, doc.record()
			return tx.Set(ref, doc)
		}
		if doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		state, record = StateInFlight, doc.record()
		if doc.Completed {
			state = StateCompleted
		}
		return nil
	})
	if err != nil {
		return 0, Record{}, unwrapMismatch(err)
	}
	return state, record, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	resp = copyResponse(resp)

	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		doc, ok, err := readTx(tx, ref)
		if err != nil {
			return err
		}
		if ok && doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !ok {
			doc = recordDocument{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		}
		doc.Completed = true
		doc.ResponseStatus = resp.Status
		doc.ResponseHeaders = resp.Headers
		doc.ResponseBody = resp.Body
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	})
	return unwrapMismatch(err)
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFound(err) {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

// Purge deletes up to one batch of expired records.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now).Limit(purgeBatchSize).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bw := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	bw.End()
	return len(docs), nil
}

// RunTransaction wraps the callback error with a repository error; recover the sentinel.
func unwrapMismatch(err error) error {
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}
