package idempotency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d,"body":%q}`, n, body)
	})
}

func doRequest(h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedNow }))(countingHandler(&calls, http.StatusCreated))

	first := doRequest(h, http.MethodPost, "/api/v1/orders", "key-1", `{"a":1}`)
	second := doRequest(h, http.MethodPost, "/api/v1/orders", "key-1", `{"a":1}`)

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d/%d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" || first.Header().Get(ReplayHeader) != "" {
		t.Fatalf("replay header misapplied")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored headers to replay")
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	doRequest(h, http.MethodPost, "/api/v1/orders/ord_1/refunds", "key-2", `{"amount":"10"}`)
	rec := doRequest(h, http.MethodPost, "/api/v1/orders/ord_1/refunds", "key-2", `{"amount":"20"}`)

	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "idempotency_key_reused") {
		t.Fatalf("expected 409 key reuse, got %d %s", rec.Code, rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
}

func TestMiddlewarePassesThroughWithoutKeyOrForReads(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	doRequest(h, http.MethodPost, "/api/v1/orders", "", `{}`)
	doRequest(h, http.MethodPost, "/api/v1/orders", "", `{}`)
	doRequest(h, http.MethodGet, "/api/v1/orders", "key-3", "")
	doRequest(h, http.MethodGet, "/api/v1/orders", "key-3", "")

	if calls != 4 {
		t.Fatalf("expected every request to reach the handler, got %d", calls)
	}
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusServiceUnavailable))

	doRequest(h, http.MethodPost, "/api/v1/orders", "key-4", `{}`)
	rec := doRequest(h, http.MethodPost, "/api/v1/orders", "key-4", `{}`)

	if calls != 2 || rec.Header().Get(ReplayHeader) != "" {
		t.Fatalf("expected retry after 5xx, calls=%d", calls)
	}
}

func TestMiddlewareRejectsInFlightDuplicate(t *testing.T) {
	store := NewMemoryStore()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/cancel", strings.NewReader(`{}`))
	if _, _, err := store.Reserve(context.Background(), "key-5", Fingerprint(req, []byte(`{}`)), time.Now().UTC(), time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	var calls int32
	h := Middleware(store)(countingHandler(&calls, http.StatusOK))
	rec := doRequest(h, http.MethodPost, "/api/v1/orders/ord_1/cancel", "key-5", `{}`)

	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "idempotency_in_progress") {
		t.Fatalf("expected in-progress conflict, got %d %s", rec.Code, rec.Body.String())
	}
	if calls != 0 {
		t.Fatalf("handler must not run for in-flight key")
	}
}

func TestMiddlewareRejectsOversizedBody(t *testing.T) {
	var calls int32
	store := NewMemoryStore()
	h := Middleware(store, WithMaxBodyBytes(16))(countingHandler(&calls, http.StatusOK))

	rec := doRequest(h, http.MethodPost, "/api/v1/orders", "key-7", strings.Repeat("x", 17))
	if rec.Code != http.StatusRequestEntityTooLarge || !strings.Contains(rec.Body.String(), "payload_too_large") {
		t.Fatalf("expected 413, got %d %s", rec.Code, rec.Body.String())
	}
	if calls != 0 {
		t.Fatalf("handler must not run for oversized body")
	}

	rec = doRequest(h, http.MethodPost, "/api/v1/orders", "key-7", strings.Repeat("x", 16))
	if rec.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected body at the limit to pass, got %d calls=%d", rec.Code, calls)
	}
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	var calls int32
	scope := func(r *http.Request) string { return r.Header.Get("X-Caller") }
	h := Middleware(NewMemoryStore(), WithScope(scope))(countingHandler(&calls, http.StatusCreated))

	send := func(caller string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{}`))
		req.Header.Set(DefaultHeader, "key-8")
		req.Header.Set("X-Caller", caller)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	send("svc-a")
	if rec := send("svc-b"); rec.Header().Get(ReplayHeader) != "" {
		t.Fatalf("a different caller must not get a replay")
	}
	if rec := send("svc-a"); rec.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected the same caller to get a replay")
	}
	if calls != 2 {
		t.Fatalf("expected two handler runs, got %d", calls)
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (State, Record, error) {
	return 0, Record{}, errors.New("store down")
}

func TestMiddlewareStoreFailureIsUnavailable(t *testing.T) {
	var calls int32
	h := Middleware(failingStore{NewMemoryStore()})(countingHandler(&calls, http.StatusOK))

	rec := doRequest(h, http.MethodPost, "/api/v1/orders", "key-6", `{}`)
	if rec.Code != http.StatusServiceUnavailable || calls != 0 {
		t.Fatalf("expected 503 without handler call, got %d calls=%d", rec.Code, calls)
	}
}

func TestMemoryStoreExpiryAndPurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "k", "fp", fixedNow, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Complete(ctx, "k", "fp", Response{Status: 200, Body: []byte("ok")}, fixedNow, time.Minute); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	state, record, err := store.Reserve(ctx, "k", "fp", fixedNow.Add(30*time.Second), time.Minute)
	if err != nil || state != StateCompleted || string(record.Response.Body) != "ok" {
		t.Fatalf("expected completed replay, got %v %+v %v", state, record, err)
	}

	state, _, err = store.Reserve(ctx, "k", "other", fixedNow.Add(2*time.Minute), time.Minute)
	if err != nil || state != StateNew {
		t.Fatalf("expected expired record to be replaced, got %v %v", state, err)
	}

	removed, err := store.Purge(ctx, fixedNow.Add(10*time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("expected one purged record, got %d %v", removed, err)
	}
}
