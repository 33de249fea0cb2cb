package accessor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// TokenSource holds a bearer token and serializes refreshes so that
// concurrent callers never trigger more than one login flow at a
// time. The fetch function is supplied by the owning accessor.
type TokenSource struct {
	mu      sync.Mutex
	token   string
	expiry  time.Time
	fetch   func(ctx context.Context) (token string, ttl time.Duration, err error)
	retries uint64
}

// NewTokenSource builds a TokenSource around fetch, an accessor's own
// login call.
func NewTokenSource(fetch func(ctx context.Context) (string, time.Duration, error)) *TokenSource {
	return &TokenSource{fetch: fetch, retries: 3}
}

// Token returns a valid bearer token, refreshing it if absent or
// within 30 seconds of expiry. Only one goroutine performs the actual
// refresh; the rest block on the mutex and reuse its result.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Add(30*time.Second).Before(t.expiry) {
		return t.token, nil
	}

	var token string
	var ttl time.Duration

	err := backoff.Retry(func() error {
		var err error
		token, ttl, err = t.fetch(ctx)
		return err
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.retries))
	if err != nil {
		return "", err
	}

	t.token = token
	t.expiry = time.Now().Add(ttl)
	return t.token, nil
}

// Invalidate forces the next Token call to refresh, used when a
// downstream request comes back unauthorized.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}
