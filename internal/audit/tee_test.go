package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credverify/internal/audit"
	"credverify/internal/audit/store/memory"
)

type alwaysFailingStore struct {
	*memory.InMemoryStore
}

func (alwaysFailingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

type brokenSink struct{}

func (brokenSink) Append(context.Context, audit.Event) error {
	return errors.New("broker down")
}

func TestTee(t *testing.T) {
	ctx := context.Background()
	event := audit.Event{Action: audit.ActionCredentialVerified, Subject: "5"}

	t.Run("fans out after the primary write", func(t *testing.T) {
		primary, sink := memory.NewInMemoryStore(), memory.NewInMemoryStore()
		store := audit.Tee(primary, sink)

		require.NoError(t, store.Append(ctx, event))
		assert.Len(t, sink.ListByAction(ctx, audit.ActionCredentialVerified), 1)

		recent, err := store.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, recent, 1)
	})

	t.Run("primary failure skips sinks", func(t *testing.T) {
		sink := memory.NewInMemoryStore()
		store := audit.Tee(alwaysFailingStore{memory.NewInMemoryStore()}, sink)

		require.Error(t, store.Append(ctx, event))
		assert.Empty(t, sink.ListByAction(ctx, audit.ActionCredentialVerified))
	})

	t.Run("sink failure is reported once the primary has the event", func(t *testing.T) {
		primary := memory.NewInMemoryStore()
		store := audit.Tee(primary, brokenSink{})

		err := store.Append(ctx, event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
		assert.Len(t, primary.ListByAction(ctx, audit.ActionCredentialVerified), 1)
	})

	t.Run("no sinks returns the primary", func(t *testing.T) {
		primary := memory.NewInMemoryStore()
		assert.Same(t, primary, audit.Tee(primary))
	})
}
