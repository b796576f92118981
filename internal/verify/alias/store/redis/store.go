// Package redis shares alias entries between processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"credverify/internal/verify/alias"
	"credverify/pkg/platform/sentinel"
)

const keyPrefix = "credverify:alias:"

// Store keeps alias entries in redis. First write wins through SETNX.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New creates a Store. A zero ttl keeps entries until evicted.
func New(client redis.Cmdable, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(address common.Address) string {
	return keyPrefix + strings.ToLower(address.Hex())
}

// Get returns the entry for address or sentinel.ErrNotFound.
func (s *Store) Get(ctx context.Context, address common.Address) (alias.Entry, error) {
	raw, err := s.client.Get(ctx, key(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return alias.Entry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return alias.Entry{}, fmt.Errorf("get alias: %w", err)
	}
	var e alias.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return alias.Entry{}, fmt.Errorf("decode alias entry: %w", err)
	}
	return e, nil
}

// PutIfAbsent stores e unless address already has an entry.
func (s *Store) PutIfAbsent(ctx context.Context, address common.Address, e alias.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode alias entry: %w", err)
	}
	if err := s.client.SetNX(ctx, key(address), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put alias: %w", err)
	}
	return nil
}
