package audit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credverify/internal/audit"
	"credverify/internal/audit/store/memory"
	"credverify/pkg/requestcontext"
)

func TestPublisherEnrichesFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(audit.WithBufferSize(4))

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), fixed), "req-1")
	pub.Emit(ctx, audit.Event{Action: audit.ActionCredentialVerified, Subject: "5", Outcome: audit.OutcomeSuccess})
	pub.Close()

	require.NoError(t, audit.NewWorker(store, pub.Events(), nil).Run(context.Background()))

	events := store.ListByAction(ctx, audit.ActionCredentialVerified)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestPublisherDropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	pub := audit.NewPublisher(audit.WithBufferSize(1), audit.WithRegisterer(reg))
	defer pub.Close()

	ctx := context.Background()
	pub.Emit(ctx, audit.Event{Action: audit.ActionSessionConnected})
	pub.Emit(ctx, audit.Event{Action: audit.ActionSessionDisconnected})

	expected := `
# HELP credverify_audit_events_dropped_total Audit events dropped because the buffer was full
# TYPE credverify_audit_events_dropped_total counter
credverify_audit_events_dropped_total 1
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "credverify_audit_events_dropped_total"))
	assert.Len(t, pub.Events(), 1)
}

func TestPublisherAfterCloseDoesNotPanic(t *testing.T) {
	pub := audit.NewPublisher()
	pub.Close()
	assert.NotPanics(t, func() {
		pub.Emit(context.Background(), audit.Event{Action: audit.ActionSessionFailed})
		pub.Close()
	})
}

type failingStore struct {
	*memory.InMemoryStore
	fail bool
}

func (s *failingStore) Append(ctx context.Context, e audit.Event) error {
	if s.fail {
		s.fail = false
		return errors.New("disk full")
	}
	return s.InMemoryStore.Append(ctx, e)
}

func TestWorkerSkipsFailedEvents(t *testing.T) {
	store := &failingStore{InMemoryStore: memory.NewInMemoryStore(), fail: true}
	pub := audit.NewPublisher()
	ctx := context.Background()
	pub.Emit(ctx, audit.Event{Action: audit.ActionSessionConnected})
	pub.Emit(ctx, audit.Event{Action: audit.ActionSessionDisconnected})
	pub.Close()

	require.NoError(t, audit.NewWorker(store, pub.Events(), nil).Run(ctx))

	recent, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, audit.ActionSessionDisconnected, recent[0].Action)
}

func TestWorkerDrainsOnCancel(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher()
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	for range 3 {
		pub.Emit(ctx, audit.Event{Action: audit.ActionCredentialExported})
	}
	cancel()

	require.NoError(t, audit.NewWorker(store, pub.Events(), nil).Run(ctx))
	assert.Len(t, store.ListByAction(context.Background(), audit.ActionCredentialExported), 3)
}
