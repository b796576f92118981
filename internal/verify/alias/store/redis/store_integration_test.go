//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"credverify/internal/verify/alias"
	aliasredis "credverify/internal/verify/alias/store/redis"
	"credverify/pkg/platform/sentinel"
	"credverify/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *aliasredis.Store
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = aliasredis.New(s.redis.Client, 0)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestFirstWriteWins() {
	ctx := context.Background()
	addr := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	_, err := s.store.Get(ctx, addr)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.PutIfAbsent(ctx, addr, alias.Entry{Alias: "alex.eth", Found: true}))
	s.Require().NoError(s.store.PutIfAbsent(ctx, addr, alias.Entry{}))

	e, err := s.store.Get(ctx, addr)
	s.Require().NoError(err)
	s.Equal(alias.Entry{Alias: "alex.eth", Found: true}, e)
}

func (s *RedisStoreSuite) TestResolvedAtSurvivesEncoding() {
	ctx := context.Background()
	addr := common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.PutIfAbsent(ctx, addr, alias.Entry{Alias: "alex.eth", Found: true, ResolvedAt: at}))

	e, err := s.store.Get(ctx, addr)
	s.Require().NoError(err)
	s.True(at.Equal(e.ResolvedAt))
}

func (s *RedisStoreSuite) TestNegativeEntryIsShared() {
	ctx := context.Background()
	addr := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	s.Require().NoError(s.store.PutIfAbsent(ctx, addr, alias.Entry{}))

	other := aliasredis.New(s.redis.Client, time.Minute)
	e, err := other.Get(ctx, addr)
	s.Require().NoError(err)
	s.False(e.Found)
}

func (s *RedisStoreSuite) TestCacheOverRedisCallsUpstreamOnce() {
	ctx := context.Background()
	addr := common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	up := &countingUpstream{name: "issuer.eth"}

	first := alias.New(up, s.store)
	second := alias.New(up, aliasredis.New(s.redis.Client, 0))

	name, ok := first.Resolve(ctx, addr)
	s.True(ok)
	s.Equal("issuer.eth", name)

	name, ok = second.Resolve(ctx, addr)
	s.True(ok)
	s.Equal("issuer.eth", name)
	s.Equal(1, up.calls)
}

type countingUpstream struct {
	name  string
	calls int
}

func (u *countingUpstream) LookupAlias(context.Context, common.Address) (string, error) {
	u.calls++
	return u.name, nil
}
