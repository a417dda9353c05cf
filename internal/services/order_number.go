package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultOrderNumberAttempts bounds uniqueness probes per allocation.
	DefaultOrderNumberAttempts = 10

	orderNumberPrefix       = "ORD"
	orderNumberSuffixLength = 4
	orderNumberAlphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ErrAllocationExhausted means every candidate order number collided. The caller
// must retry the whole creation with a fresh timestamp.
var ErrAllocationExhausted = errors.New("order: order number allocation exhausted")

// OrderNumberChecker reports whether an order number is already taken.
type OrderNumberChecker interface {
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
}

// OrderNumberAllocatorOption customises the allocator.
type OrderNumberAllocatorOption func(*OrderNumberAllocator)

// WithMaxAttempts overrides the number of candidates probed before giving up.
func WithMaxAttempts(attempts int) OrderNumberAllocatorOption {
	return func(a *OrderNumberAllocator) {
		if attempts > 0 {
			a.maxAttempts = attempts
		}
	}
}

// WithSuffixSource replaces the random suffix generator, mostly for tests.
func WithSuffixSource(fn func() (string, error)) OrderNumberAllocatorOption {
	return func(a *OrderNumberAllocator) {
		if fn != nil {
			a.suffix = fn
		}
	}
}

// WithAttemptObserver registers a callback receiving the number of probes each allocation used.
func WithAttemptObserver(fn func(ctx context.Context, attempts int, err error)) OrderNumberAllocatorOption {
	return func(a *OrderNumberAllocator) {
		a.observe = fn
	}
}

// OrderNumberAllocator produces human-readable order numbers of the form
// ORD-<base36 millis>-<suffix>. It is advisory: the repository's unique
// constraint remains the final arbiter under concurrent creation.
type OrderNumberAllocator struct {
	checker     OrderNumberChecker
	maxAttempts int
	suffix      func() (string, error)
	observe     func(context.Context, int, error)
}

// NewOrderNumberAllocator builds an allocator checking candidates against checker.
func NewOrderNumberAllocator(checker OrderNumberChecker, opts ...OrderNumberAllocatorOption) (*OrderNumberAllocator, error) {
	if checker == nil {
		return nil, errors.New("order number allocator: checker is required")
	}
	a := &OrderNumberAllocator{
		checker:     checker,
		maxAttempts: DefaultOrderNumberAttempts,
		suffix:      randomSuffix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Allocate returns the first candidate not already taken. The first candidate
// is the bare base; later ones append 0, 1, ... to the suffix.
func (a *OrderNumberAllocator) Allocate(ctx context.Context, now time.Time) (string, error) {
	suffix, err := a.suffix()
	if err != nil {
		return "", fmt.Errorf("order number allocator: suffix: %w", err)
	}
	base := fmt.Sprintf("%s-%s-%s", orderNumberPrefix, strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)), suffix)

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + strconv.Itoa(attempt-1)
		}
		taken, err := a.checker.OrderNumberExists(ctx, candidate)
		if err != nil {
			a.report(ctx, attempt+1, err)
			return "", err
		}
		if !taken {
			a.report(ctx, attempt+1, nil)
			return candidate, nil
		}
	}
	a.report(ctx, a.maxAttempts, ErrAllocationExhausted)
	return "", fmt.Errorf("%w: %d candidates for %s collided", ErrAllocationExhausted, a.maxAttempts, base)
}

func (a *OrderNumberAllocator) report(ctx context.Context, attempts int, err error) {
	if a.observe != nil {
		a.observe(ctx, attempts, err)
	}
}

func randomSuffix() (string, error) {
	limit := big.NewInt(int64(len(orderNumberAlphabet)))
	var b strings.Builder
	b.Grow(orderNumberSuffixLength)
	for i := 0; i < orderNumberSuffixLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(orderNumberAlphabet[n.Int64()])
	}
	return b.String(), nil
}
