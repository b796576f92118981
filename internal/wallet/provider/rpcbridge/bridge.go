// Package rpcbridge exposes a wallet JSON-RPC endpoint as a provider.Provider.
//
// Wallet endpoints reached over HTTP cannot push events, so account and
// network changes are detected by polling eth_accounts and eth_chainId.
package rpcbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"credverify/internal/wallet/provider"
	"credverify/pkg/domain"
)

const defaultPollInterval = 2 * time.Second

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for poll failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithPollInterval sets how often accounts and chain are polled. Zero
// disables event polling.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		b.interval = d
	}
}

// Bridge is a Provider over a go-ethereum rpc.Client.
type Bridge struct {
	client   *rpc.Client
	kinds    provider.Kinds
	logger   *slog.Logger
	interval time.Duration

	mu           sync.Mutex
	subs         map[uint64]*subscription
	nextID       uint64
	accounts     []common.Address
	accountsSeen bool
	chain        domain.ChainID
	chainSeen    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to a wallet endpoint (http, ws or ipc) and starts polling.
func Dial(ctx context.Context, url string, kinds provider.Kinds, opts ...Option) (*Bridge, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet endpoint: %w", err)
	}
	return New(client, kinds, opts...), nil
}

// New wraps an established client and starts polling. The bridge owns client
// and closes it on Close.
func New(client *rpc.Client, kinds provider.Kinds, opts ...Option) *Bridge {
	b := &Bridge{
		client:   client,
		kinds:    kinds,
		logger:   slog.New(slog.DiscardHandler),
		interval: defaultPollInterval,
		subs:     make(map[uint64]*subscription),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	if b.interval > 0 {
		go b.run(ctx)
	} else {
		close(b.done)
	}
	return b
}

// Is implements provider.Provider.
func (b *Bridge) Is(kind provider.Kind) bool {
	return b.kinds.Is(kind)
}

// Request implements provider.Provider.
func (b *Bridge) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := b.client.CallContext(ctx, &out, method, params...); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Subscribe implements provider.Provider. Each subscription has its own
// dispatcher, so a slow handler never stalls polling or other subscribers.
func (b *Bridge) Subscribe(h provider.Handlers) provider.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{
		bridge:   b,
		id:       b.nextID,
		handlers: h,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	b.nextID++
	b.subs[sub.id] = sub
	go sub.dispatch()
	return sub
}

// Close stops polling and every dispatcher, then closes the underlying client.
func (b *Bridge) Close() {
	b.cancel()
	<-b.done
	for _, sub := range b.subscriptions() {
		sub.Unsubscribe()
	}
	b.client.Close()
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

// poll compares the wallet's current accounts and chain with the last
// observation. The first successful read of each only sets the baseline.
func (b *Bridge) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, b.interval)
	defer cancel()

	client := provider.NewClient(b)
	accounts, accErr := client.Accounts(pollCtx)
	chain, chainErr := client.ChainID(pollCtx)
	if ctx.Err() != nil {
		return
	}
	if accErr != nil {
		b.logger.DebugContext(ctx, "wallet account poll failed", "error", accErr)
	}
	if chainErr != nil {
		b.logger.DebugContext(ctx, "wallet chain poll failed", "error", chainErr)
	}

	var accountsChanged, chainChanged bool
	b.mu.Lock()
	if accErr == nil {
		accountsChanged = b.accountsSeen && !slices.Equal(b.accounts, accounts)
		b.accounts, b.accountsSeen = accounts, true
	}
	if chainErr == nil {
		chainChanged = b.chainSeen && b.chain != chain
		b.chain, b.chainSeen = chain, true
	}
	b.mu.Unlock()

	if !accountsChanged && !chainChanged {
		return
	}
	var batch []event
	if accountsChanged {
		batch = append(batch, event{accounts: accounts, accountsChanged: true})
	}
	if chainChanged {
		batch = append(batch, event{chain: chain})
	}
	for _, sub := range b.subscriptions() {
		sub.enqueue(batch...)
	}
}

func (b *Bridge) subscriptions() []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub)
	}
	return out
}

type event struct {
	accounts        []common.Address
	accountsChanged bool
	chain           domain.ChainID
}

// subscription queues events for one subscriber. Events start in the order
// they were observed and normally run one at a time. A handler still running
// when a newer event is observed does not hold that event back, so a
// superseding change reaches the subscriber while the stale one is in flight.
type subscription struct {
	bridge   *Bridge
	id       uint64
	handlers provider.Handlers

	mu    sync.Mutex
	queue []event
	seq   uint64
	wake  chan struct{}
	stop  chan struct{}
	once  sync.Once
}

// enqueue adds the events observed by one poll. They count as one
// observation, so they never overtake each other.
func (s *subscription) enqueue(evs ...event) {
	s.mu.Lock()
	s.seq++
	s.queue = append(s.queue, evs...)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest event together with the enqueue count at that moment.
func (s *subscription) next() (event, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return event{}, s.seq, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, s.seq, true
}

func (s *subscription) enqueuedSince(mark uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq > mark
}

func (s *subscription) dispatch() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		ev, mark, ok := s.next()
		if !ok {
			select {
			case <-s.stop:
				return
			case <-s.wake:
			}
			continue
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.deliver(ev)
		}()
		for waiting := true; waiting; {
			select {
			case <-done:
				waiting = false
			case <-s.stop:
				return
			case <-s.wake:
				waiting = !s.enqueuedSince(mark)
			}
		}
	}
}

func (s *subscription) deliver(ev event) {
	select {
	case <-s.stop:
		return
	default:
	}
	switch {
	case ev.accountsChanged:
		if s.handlers.AccountsChanged != nil {
			s.handlers.AccountsChanged(ev.accounts)
		}
	case s.handlers.ChainChanged != nil:
		s.handlers.ChainChanged(ev.chain)
	}
}

// Unsubscribe stops delivery. It never waits for a running handler and may
// be called from inside one.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bridge.mu.Lock()
		delete(s.bridge.subs, s.id)
		s.bridge.mu.Unlock()
		close(s.stop)
	})
}

// translate turns node-reported JSON-RPC errors into provider.RPCError so
// callers can branch on wallet codes. Transport errors pass through.
func translate(err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	out := &provider.RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		out.Data = dataErr.ErrorData()
	}
	return out
}
