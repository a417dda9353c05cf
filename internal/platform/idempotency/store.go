// Package idempotency replays stored responses for retried mutating requests
// that carry the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and must run the request.
	StateNew State = iota
	// StateCompleted means a stored response is available for replay.
	StateCompleted
	// StateInFlight means another request holds the key.
	StateInFlight
)

// Record is the persisted state of one key.
type Record struct {
	Key         string
	Fingerprint string
	Completed   bool
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Response is the captured HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and completed responses.
//
// Reserve returns ErrFingerprintMismatch when the key is held by a request
// with a different fingerprint. Expired records are treated as absent.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time) (int, error)
}

// ErrFingerprintMismatch reports reuse of a key for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

func documentID(key string) string {
	return hashHex([]byte(strings.TrimSpace(key)))
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var hopByHop = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

// storableHeaders copies h without hop-by-hop and per-response headers.
func storableHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopByHop[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func copyResponse(resp Response) Response {
	return Response{
		Status:  resp.Status,
		Headers: storableHeaders(resp.Headers),
		Body:    append([]byte(nil), resp.Body...),
	}
}
