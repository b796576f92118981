package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credverify/internal/audit"
	"credverify/internal/audit/store/memory"
	"credverify/internal/platform/httpserver"
)

func TestServeStopsCleanlyOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	pub := audit.NewPublisher()
	worker := audit.NewWorker(memory.NewInMemoryStore(), pub.Events(), nil)
	srv := httpserver.New(ln.Addr().String(), http.NotFoundHandler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, ln, worker, pub, time.Second, nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeKeepsAuditEventsFromInFlightRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher()
	worker := audit.NewWorker(store, pub.Events(), nil)

	entered := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		time.Sleep(100 * time.Millisecond)
		pub.Emit(r.Context(), audit.Event{Action: audit.ActionCredentialVerified, Subject: "7", Outcome: audit.OutcomeSuccess})
		w.WriteHeader(http.StatusOK)
	})
	srv := httpserver.New(ln.Addr().String(), handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, ln, worker, pub, 5*time.Second, nil) }()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/verify")
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-entered
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, http.StatusOK, <-status)
	events := store.ListByAction(context.Background(), audit.ActionCredentialVerified)
	require.Len(t, events, 1)
	assert.Equal(t, "7", events[0].Subject)
}
