package rpcbridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credverify/internal/wallet/provider"
	"credverify/pkg/domain"
)

type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string  { return e.msg }
func (e *codedError) ErrorCode() int { return e.code }

// ethService answers the eth_ namespace of a wallet endpoint.
type ethService struct {
	mu       sync.Mutex
	accounts []string
	chain    string
	reject   bool
}

func (s *ethService) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.accounts...)
}

func (s *ethService) RequestAccounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return nil, &codedError{code: provider.CodeUserRejected, msg: "User rejected the request."}
	}
	return append([]string{}, s.accounts...), nil
}

func (s *ethService) ChainId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain
}

func (s *ethService) set(accounts []string, chain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts, s.chain = accounts, chain
}

type walletService struct{}

func (walletService) SwitchEthereumChain(params map[string]string) error {
	return &codedError{code: provider.CodeUnrecognizedChain, msg: "Unrecognized chain ID " + params["chainId"]}
}

const alice = "0x1111111111111111111111111111111111111111"

func newBridge(t *testing.T, svc *ethService, interval time.Duration) *Bridge {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", svc))
	require.NoError(t, srv.RegisterName("wallet", walletService{}))
	t.Cleanup(srv.Stop)

	b := New(rpc.DialInProc(srv), provider.Kinds{provider.KindMetaMask}, WithPollInterval(interval))
	t.Cleanup(b.Close)
	return b
}

func TestRequest(t *testing.T) {
	ctx := context.Background()
	svc := &ethService{accounts: []string{alice}, chain: "0xaa36a7"}
	b := newBridge(t, svc, 0)
	client := provider.NewClient(b)

	assert.True(t, b.Is(provider.KindMetaMask))
	assert.False(t, b.Is(provider.KindCoinbase))

	accounts, err := client.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress(alice)}, accounts)

	chain, err := client.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainID(11155111), chain)

	t.Run("wallet codes survive the transport", func(t *testing.T) {
		svc.mu.Lock()
		svc.reject = true
		svc.mu.Unlock()

		_, err := client.RequestAccounts(ctx)
		assert.True(t, provider.IsUserRejected(err))

		err = client.SwitchChain(ctx, 2)
		assert.True(t, provider.IsUnrecognizedChain(err))
	})
}

func TestPollingEmitsChanges(t *testing.T) {
	svc := &ethService{accounts: []string{alice}, chain: "0x1"}
	b := newBridge(t, svc, 10*time.Millisecond)

	var (
		mu       sync.Mutex
		accounts [][]common.Address
		chains   []domain.ChainID
	)
	sub := b.Subscribe(provider.Handlers{
		AccountsChanged: func(a []common.Address) {
			mu.Lock()
			accounts = append(accounts, a)
			mu.Unlock()
		},
		ChainChanged: func(id domain.ChainID) {
			mu.Lock()
			chains = append(chains, id)
			mu.Unlock()
		},
	})
	defer sub.Unsubscribe()

	// Let the baseline settle before changing anything.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, accounts, "baseline observation must not emit")
	mu.Unlock()

	svc.set(nil, "0x2")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(accounts) == 1 && len(chains) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Empty(t, accounts[0])
	assert.Equal(t, domain.ChainID(2), chains[0])
	mu.Unlock()
}

func TestUnsubscribeFromInsideHandler(t *testing.T) {
	svc := &ethService{accounts: []string{alice}, chain: "0x1"}
	b := newBridge(t, svc, 10*time.Millisecond)

	var calls atomic.Int32
	var sub provider.Subscription
	sub = b.Subscribe(provider.Handlers{
		ChainChanged: func(domain.ChainID) {
			calls.Add(1)
			sub.Unsubscribe()
		},
	})

	time.Sleep(50 * time.Millisecond)
	svc.set([]string{alice}, "0x2")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	svc.set([]string{alice}, "0x3")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

const (
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

func TestSlowHandlerDoesNotHoldBackNewerAccounts(t *testing.T) {
	svc := &ethService{accounts: []string{alice}, chain: "0x1"}
	b := newBridge(t, svc, 10*time.Millisecond)

	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	var (
		mu       sync.Mutex
		started  []common.Address
		finished []common.Address
	)
	sub := b.Subscribe(provider.Handlers{
		AccountsChanged: func(a []common.Address) {
			mu.Lock()
			started = append(started, a[0])
			first := len(started) == 1
			mu.Unlock()
			if first {
				// Stands in for a connect cycle waiting on wallet approval.
				<-release
			}
			mu.Lock()
			finished = append(finished, a[0])
			mu.Unlock()
		},
	})
	defer sub.Unsubscribe()

	time.Sleep(50 * time.Millisecond)
	svc.set([]string{bob}, "0x1")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(started) == 1
	}, time.Second, 5*time.Millisecond)

	svc.set([]string{carol}, "0x1")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finished) == 1
	}, time.Second, 5*time.Millisecond, "the newer account must be delivered while the stale handler is blocked")

	mu.Lock()
	assert.Equal(t, []common.Address{common.HexToAddress(bob), common.HexToAddress(carol)}, started)
	assert.Equal(t, []common.Address{common.HexToAddress(carol)}, finished)
	mu.Unlock()

	unblock()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finished) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEventsFromOnePollStayOrdered(t *testing.T) {
	svc := &ethService{accounts: []string{alice}, chain: "0x1"}
	// The loop only takes its baseline; the change is polled by hand.
	b := newBridge(t, svc, time.Hour)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.accountsSeen && b.chainSeen
	}, time.Second, 5*time.Millisecond)

	var (
		mu    sync.Mutex
		order []string
	)
	sub := b.Subscribe(provider.Handlers{
		AccountsChanged: func([]common.Address) {
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			order = append(order, "accounts")
			mu.Unlock()
		},
		ChainChanged: func(domain.ChainID) {
			mu.Lock()
			order = append(order, "chain")
			mu.Unlock()
		},
	})
	defer sub.Unsubscribe()

	svc.set([]string{bob}, "0x2")
	b.poll(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"accounts", "chain"}, order)
	mu.Unlock()
}

func TestCloseStopsDelivery(t *testing.T) {
	svc := &ethService{accounts: []string{alice}, chain: "0x1"}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", svc))
	t.Cleanup(srv.Stop)
	b := New(rpc.DialInProc(srv), provider.Kinds{provider.KindMetaMask}, WithPollInterval(10*time.Millisecond))

	var calls atomic.Int32
	b.Subscribe(provider.Handlers{ChainChanged: func(domain.ChainID) { calls.Add(1) }})
	time.Sleep(50 * time.Millisecond)
	b.Close()

	svc.set([]string{alice}, "0x2")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
