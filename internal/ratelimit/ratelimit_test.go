package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"credverify/internal/ratelimit"
	"credverify/internal/ratelimit/store/memory"
	"credverify/pkg/requestcontext"
	"credverify/pkg/testutil"
)

type brokenStore struct{}

func (brokenStore) Allow(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("connection refused")
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(t *testing.T, ip string, now time.Time) *http.Request {
	req := testutil.WithClient(testutil.NewRequest(t, http.MethodGet, "/verify?tokenId=5"), ip, "curl/8.0")
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

func TestMiddleware(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	testutil.Given(t, "a client within its budget", func(t *testing.T) {
		h := ratelimit.New(memory.New(func() time.Time { return now }), 2, time.Minute).Middleware(ok())

		rr := testutil.DoRequest(h, request(t, "203.0.113.9", now))

		testutil.Then(t, "the request is served with budget headers", func(t *testing.T) {
			testutil.AssertStatusOK(t, rr)
			assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Remaining"))
		})
	})

	testutil.Given(t, "a client over its budget", func(t *testing.T) {
		h := ratelimit.New(memory.New(func() time.Time { return now }), 1, time.Minute).Middleware(ok())
		testutil.DoRequest(h, request(t, "203.0.113.9", now))

		rr := testutil.DoRequest(h, request(t, "203.0.113.9", now))

		testutil.Then(t, "it is rejected until the window slides", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "rate_limit_exceeded")
			assert.Equal(t, "60", rr.Header().Get("Retry-After"))
		})

		testutil.Then(t, "other clients are unaffected", func(t *testing.T) {
			testutil.AssertStatusOK(t, testutil.DoRequest(h, request(t, "198.51.100.4", now)))
		})
	})

	testutil.Given(t, "a failing store", func(t *testing.T) {
		h := ratelimit.New(brokenStore{}, 1, time.Minute).Middleware(ok())

		testutil.Then(t, "requests are let through", func(t *testing.T) {
			testutil.AssertStatusOK(t, testutil.DoRequest(h, request(t, "203.0.113.9", now)))
		})
	})
}
