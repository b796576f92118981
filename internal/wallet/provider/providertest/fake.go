// Package providertest provides a scriptable in-memory wallet provider.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"credverify/internal/wallet/provider"
	"credverify/pkg/domain"
)

// HandlerFunc answers one wallet method. The returned value is JSON-encoded.
type HandlerFunc func(ctx context.Context, params []any) (any, error)

// Fake is a Provider whose method results are scripted per test.
// Unscripted methods fail with JSON-RPC "method not found".
type Fake struct {
	kinds provider.Kinds

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    map[string]int
	params   map[string][][]any
	subs     map[int]provider.Handlers
	nextSub  int
}

// New returns a fake identifying as the given kinds.
func New(kinds ...provider.Kind) *Fake {
	return &Fake{
		kinds:    provider.Kinds(kinds),
		handlers: make(map[string]HandlerFunc),
		calls:    make(map[string]int),
		params:   make(map[string][][]any),
		subs:     make(map[int]provider.Handlers),
	}
}

// Handle scripts method.
func (f *Fake) Handle(method string, fn HandlerFunc) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
	return f
}

// Returns scripts method to always answer v.
func (f *Fake) Returns(method string, v any) *Fake {
	return f.Handle(method, func(context.Context, []any) (any, error) { return v, nil })
}

// Fails scripts method to always fail with a wallet error.
func (f *Fake) Fails(method string, code int, msg string) *Fake {
	return f.Handle(method, func(context.Context, []any) (any, error) {
		return nil, &provider.RPCError{Code: code, Message: msg}
	})
}

// WithAccounts scripts both account methods.
func (f *Fake) WithAccounts(accounts ...common.Address) *Fake {
	hexes := make([]string, 0, len(accounts))
	for _, a := range accounts {
		hexes = append(hexes, a.Hex())
	}
	f.Returns(provider.MethodRequestAccounts, hexes)
	return f.Returns(provider.MethodAccounts, hexes)
}

// WithChain scripts eth_chainId.
func (f *Fake) WithChain(id domain.ChainID) *Fake {
	return f.Returns(provider.MethodChainID, id.Hex())
}

// Is implements provider.Provider.
func (f *Fake) Is(kind provider.Kind) bool {
	return f.kinds.Is(kind)
}

// Request implements provider.Provider.
func (f *Fake) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[method]++
	f.params[method] = append(f.params[method], params)
	fn, ok := f.handlers[method]
	f.mu.Unlock()

	if !ok {
		return nil, &provider.RPCError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
	}
	v, err := fn(ctx, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Subscribe implements provider.Provider.
func (f *Fake) Subscribe(h provider.Handlers) provider.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = h
	return &subscription{fake: f, id: id}
}

// Calls returns how many times method was requested.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Params returns the parameters of every call to method.
func (f *Fake) Params(method string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]any(nil), f.params[method]...)
}

// Subscribers returns how many subscriptions are attached.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// EmitAccountsChanged delivers an accounts event synchronously.
func (f *Fake) EmitAccountsChanged(accounts ...common.Address) {
	for _, h := range f.snapshot() {
		if h.AccountsChanged != nil {
			h.AccountsChanged(accounts)
		}
	}
}

// EmitChainChanged delivers a chain event synchronously.
func (f *Fake) EmitChainChanged(id domain.ChainID) {
	for _, h := range f.snapshot() {
		if h.ChainChanged != nil {
			h.ChainChanged(id)
		}
	}
}

func (f *Fake) snapshot() []provider.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Handlers, 0, len(f.subs))
	for _, h := range f.subs {
		out = append(out, h)
	}
	return out
}

type subscription struct {
	fake *Fake
	id   int
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.fake.mu.Lock()
		delete(s.fake.subs, s.id)
		s.fake.mu.Unlock()
	})
}
