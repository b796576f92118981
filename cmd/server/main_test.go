package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credverify/internal/platform/config"
)

func TestAliasCacheHandsBackItsClient(t *testing.T) {
	cfg := &config.Config{Alias: config.AliasConfig{
		RPCURL:   "http://127.0.0.1:1",
		Registry: "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e",
		Timeout:  time.Second,
	}}

	cache, client, err := aliasCache(context.Background(), cfg, nil, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NotNil(t, cache)
	require.NotNil(t, client)
	client.Close()
}

func TestAliasCacheRejectsBadRegistry(t *testing.T) {
	cfg := &config.Config{Alias: config.AliasConfig{RPCURL: "http://127.0.0.1:1", Registry: "nope"}}

	cache, client, err := aliasCache(context.Background(), cfg, nil, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, cache)
	assert.Nil(t, client)
}
