package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"credverify/internal/audit"
	"credverify/internal/ledger"
	"credverify/internal/ledger/ledgertest"
	"credverify/internal/session/models"
	"credverify/internal/wallet/provider"
	"credverify/internal/wallet/provider/providertest"
	"credverify/pkg/domain"
	dErrors "credverify/pkg/domain-errors"
)

const (
	sepolia = domain.ChainID(11155111)
	mainnet = domain.ChainID(1)
)

var (
	registry = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	issuer   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	student  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

// walletChain scripts a wallet whose active network follows switch requests.
type walletChain struct {
	mu      sync.Mutex
	current domain.ChainID
	known   bool
}

func (w *walletChain) get() domain.ChainID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *walletChain) set(id domain.ChainID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = id
}

type ManagerSuite struct {
	suite.Suite
	ctx     context.Context
	backend *ledgertest.Backend
	wallet  *providertest.Fake
	present bool
	auditor *recorder
	reinits atomic.Int32
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = ledgertest.NewBackend().
		Grant(ledgertest.IssuerRole, issuer).
		Grant(ledgertest.AdminRole, issuer)
	s.wallet = s.backend.ServeWallet(providertest.New(provider.KindMetaMask)).
		WithAccounts(issuer).
		WithChain(sepolia)
	s.present = true
	s.auditor = &recorder{}
	s.reinits.Store(0)

	chain := provider.NewRequiredChain(sepolia, "Sepolia",
		provider.NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
		[]string{"https://rpc.sepolia.org"}, "https://sepolia.etherscan.io")

	m, err := New(s.environment, provider.KindMetaMask, chain, ledger.ProviderBinder(registry),
		WithAuditor(s.auditor),
		WithReinitHook(func() { s.reinits.Add(1) }),
	)
	s.Require().NoError(err)
	s.manager = m
}

func (s *ManagerSuite) TearDownTest() {
	s.manager.Close()
}

func (s *ManagerSuite) environment() provider.Environment {
	if !s.present {
		return provider.Environment{}
	}
	return provider.Environment{Primary: s.wallet}
}

// followSwitches makes eth_chainId report whatever network the wallet was
// last switched to, starting from start.
func (s *ManagerSuite) followSwitches(start domain.ChainID, known bool) *walletChain {
	w := &walletChain{current: start, known: known}
	s.wallet.Handle(provider.MethodChainID, func(context.Context, []any) (any, error) {
		return w.get().Hex(), nil
	})
	s.wallet.Handle(provider.MethodSwitchChain, func(_ context.Context, params []any) (any, error) {
		w.mu.Lock()
		known := w.known
		w.mu.Unlock()
		if !known {
			return nil, &provider.RPCError{Code: provider.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}
		}
		arg := params[0].(map[string]string)
		id, err := domain.ParseChainID(arg["chainId"])
		if err != nil {
			return nil, err
		}
		w.set(id)
		return nil, nil
	})
	s.wallet.Handle(provider.MethodAddChain, func(context.Context, []any) (any, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.known = true
		return nil, nil
	})
	return w
}

func (s *ManagerSuite) assertFailed(code dErrors.Code) {
	got := s.manager.Session()
	s.Equal(models.StatusFailed, got.Status)
	s.Nil(got.Account)
	s.Equal(models.Roles{}, got.Roles)
	s.Require().NotNil(got.Error)
	s.Equal(code, got.Error.Code)
	_, bound := s.manager.CredentialReader()
	s.False(bound)
}

func (s *ManagerSuite) TestNewValidatesDependencies() {
	chain := provider.RequiredChain{ID: sepolia}

	_, err := New(nil, provider.KindMetaMask, chain, ledger.ProviderBinder(registry))
	s.Error(err)

	_, err = New(s.environment, provider.KindMetaMask, chain, nil)
	s.Error(err)

	_, err = New(s.environment, provider.KindMetaMask, provider.RequiredChain{}, ledger.ProviderBinder(registry))
	s.Error(err)
}

func (s *ManagerSuite) TestConnect() {
	s.Equal(models.StatusDisconnected, s.manager.Session().Status)

	s.Require().NoError(s.manager.Connect(s.ctx))

	got := s.manager.Session()
	s.Equal(models.StatusConnected, got.Status)
	s.Require().NotNil(got.Account)
	s.Equal(issuer, *got.Account)
	s.Require().NotNil(got.ChainID)
	s.Equal(sepolia, *got.ChainID)
	s.Equal(models.Roles{IsIssuer: true, IsAdmin: true}, got.Roles)
	s.Nil(got.Error)
	s.Equal(1, s.wallet.Subscribers())

	reader, bound := s.manager.CredentialReader()
	s.True(bound)
	s.NotNil(reader)

	s.Contains(s.auditor.actions(), audit.ActionSessionConnected)
}

func (s *ManagerSuite) TestConnectWhenAlreadyConnectedIsNoop() {
	s.Require().NoError(s.manager.Connect(s.ctx))
	s.Require().NoError(s.manager.Connect(s.ctx))

	s.Equal(1, s.wallet.Calls(provider.MethodRequestAccounts))
	s.Equal(models.StatusConnected, s.manager.Session().Status)
}

func (s *ManagerSuite) TestConnectWhileBusyIssuesNoSecondRequest() {
	entered := make(chan struct{})
	release := make(chan struct{})
	s.wallet.Handle(provider.MethodRequestAccounts, func(context.Context, []any) (any, error) {
		close(entered)
		<-release
		return []string{issuer.Hex()}, nil
	})

	done := make(chan error, 1)
	go func() { done <- s.manager.Connect(s.ctx) }()
	<-entered

	s.Equal(models.StatusConnecting, s.manager.Session().Status)
	s.NoError(s.manager.Connect(s.ctx))

	close(release)
	s.Require().NoError(<-done)

	s.Equal(1, s.wallet.Calls(provider.MethodRequestAccounts))
	s.Equal(models.StatusConnected, s.manager.Session().Status)
}

func (s *ManagerSuite) TestAccountChangeDropsStaleCycle() {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s.wallet.Handle(provider.MethodRequestAccounts, func(context.Context, []any) (any, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return []string{issuer.Hex()}, nil
		}
		return []string{student.Hex()}, nil
	})

	done := make(chan error, 1)
	go func() { done <- s.manager.Connect(s.ctx) }()
	<-entered

	// The event handler runs the superseding cycle to completion.
	s.wallet.EmitAccountsChanged(student)
	got := s.manager.Session()
	s.Require().Equal(models.StatusConnected, got.Status)
	s.Equal(student, *got.Account)
	s.Equal(models.Roles{}, got.Roles)

	close(release)
	s.Require().NoError(<-done)

	got = s.manager.Session()
	s.Equal(models.StatusConnected, got.Status)
	s.Equal(student, *got.Account, "stale cycle must not overwrite the newer account")
	s.Equal(models.Roles{}, got.Roles)
}

func (s *ManagerSuite) TestAccountsChanged() {
	s.Run("same account is ignored", func() {
		s.Require().NoError(s.manager.Connect(s.ctx))
		s.Require().NoError(s.manager.HandleAccountsChanged(s.ctx, []common.Address{issuer}))
		s.Equal(1, s.wallet.Calls(provider.MethodRequestAccounts))
	})

	s.Run("new account reconnects without carrying roles", func() {
		s.wallet.WithAccounts(student)
		s.Require().NoError(s.manager.HandleAccountsChanged(s.ctx, []common.Address{student}))

		got := s.manager.Session()
		s.Equal(models.StatusConnected, got.Status)
		s.Equal(student, *got.Account)
		s.Equal(models.Roles{}, got.Roles)
	})

	s.Run("empty list disconnects", func() {
		s.wallet.EmitAccountsChanged()

		got := s.manager.Session()
		s.Equal(models.StatusDisconnected, got.Status)
		s.Nil(got.Account)
		s.Equal(0, s.wallet.Subscribers())
	})
}

func (s *ManagerSuite) TestNetworkMismatchSwitches() {
	wallet := s.followSwitches(mainnet, true)

	s.Require().NoError(s.manager.Connect(s.ctx))

	got := s.manager.Session()
	s.Equal(models.StatusConnected, got.Status)
	s.Equal(sepolia, *got.ChainID)
	s.Equal(sepolia, wallet.get())
	s.Equal(1, s.wallet.Calls(provider.MethodSwitchChain))
	s.Equal(0, s.wallet.Calls(provider.MethodAddChain))
	s.Equal(int32(1), s.reinits.Load())
	s.Equal(1, s.wallet.Subscribers())

	params := s.wallet.Params(provider.MethodSwitchChain)
	s.Equal(map[string]string{"chainId": "0xaa36a7"}, params[0][0])
}

func (s *ManagerSuite) TestNetworkMismatchAddsUnknownChain() {
	s.followSwitches(mainnet, false)

	s.Require().NoError(s.manager.Connect(s.ctx))

	s.Equal(models.StatusConnected, s.manager.Session().Status)
	s.Equal(1, s.wallet.Calls(provider.MethodAddChain))
	s.Equal(2, s.wallet.Calls(provider.MethodSwitchChain))

	def, ok := s.wallet.Params(provider.MethodAddChain)[0][0].(provider.ChainDefinition)
	s.Require().True(ok)
	s.Equal("0xaa36a7", def.ChainID)
	s.Equal("Sepolia", def.ChainName)
}

func (s *ManagerSuite) TestNetworkRepairFailures() {
	s.Run("add rejected", func() {
		s.SetupTest()
		s.followSwitches(mainnet, false)
		s.wallet.Fails(provider.MethodAddChain, provider.CodeUserRejected, "User rejected the request.")

		err := s.manager.Connect(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeChainAddRejected))
		s.assertFailed(dErrors.CodeChainAddRejected)
	})

	s.Run("switch rejected", func() {
		s.SetupTest()
		s.followSwitches(mainnet, true)
		s.wallet.Fails(provider.MethodSwitchChain, provider.CodeUserRejected, "User rejected the request.")

		err := s.manager.Connect(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeWrongNetwork))
		s.assertFailed(dErrors.CodeWrongNetwork)
		s.Equal(mainnet, *s.manager.Session().ChainID)
	})

	s.Run("wallet ignores the switch", func() {
		s.SetupTest()
		s.wallet.WithChain(mainnet).Returns(provider.MethodSwitchChain, nil)

		err := s.manager.Connect(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeWrongNetwork))
		s.assertFailed(dErrors.CodeWrongNetwork)
		s.Equal(1, s.wallet.Calls(provider.MethodSwitchChain), "repair runs once per cycle")
	})
}

func (s *ManagerSuite) TestConnectFailures() {
	cases := []struct {
		name    string
		arrange func()
		code    dErrors.Code
	}{
		{
			name:    "no provider",
			arrange: func() { s.present = false },
			code:    dErrors.CodeProviderNotFound,
		},
		{
			name: "user declines account access",
			arrange: func() {
				s.wallet.Fails(provider.MethodRequestAccounts, provider.CodeUserRejected, "User rejected the request.")
			},
			code: dErrors.CodeRequestRejected,
		},
		{
			name:    "locked wallet returns no accounts",
			arrange: func() { s.wallet.WithAccounts() },
			code:    dErrors.CodeNoAccounts,
		},
		{
			name: "wallet transport error",
			arrange: func() {
				s.wallet.Fails(provider.MethodChainID, -32603, "Internal JSON-RPC error.")
			},
			code: dErrors.CodeTransportFailure,
		},
		{
			name:    "role reads fail",
			arrange: func() { s.backend.FailWith(context.DeadlineExceeded) },
			code:    dErrors.CodeTransportFailure,
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.arrange()

			err := s.manager.Connect(s.ctx)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
			s.assertFailed(tc.code)
			s.Contains(s.auditor.actions(), audit.ActionSessionFailed)
		})
	}
}

func (s *ManagerSuite) TestRetryAfterFailure() {
	s.wallet.Fails(provider.MethodRequestAccounts, provider.CodeUserRejected, "User rejected the request.")
	s.Require().Error(s.manager.Connect(s.ctx))

	s.wallet.WithAccounts(issuer)
	s.Require().NoError(s.manager.Connect(s.ctx))
	s.Equal(models.StatusConnected, s.manager.Session().Status)
}

func (s *ManagerSuite) TestDisconnect() {
	s.Require().NoError(s.manager.Connect(s.ctx))
	before := s.manager.Session().Generation

	s.manager.Disconnect(s.ctx)

	got := s.manager.Session()
	s.Equal(models.StatusDisconnected, got.Status)
	s.Nil(got.Account)
	s.Nil(got.ChainID)
	s.Equal(models.Roles{}, got.Roles)
	s.Greater(got.Generation, before)
	s.Equal(0, s.wallet.Subscribers())
	_, bound := s.manager.CredentialReader()
	s.False(bound)
	s.Contains(s.auditor.actions(), audit.ActionSessionDisconnected)
}

func (s *ManagerSuite) TestChainChangedReinitializesAndRestores() {
	s.Require().NoError(s.manager.Connect(s.ctx))

	s.wallet.EmitChainChanged(sepolia)

	got := s.manager.Session()
	s.Equal(models.StatusConnected, got.Status)
	s.Equal(issuer, *got.Account)
	s.Equal(int32(1), s.reinits.Load())
	s.Equal(1, s.wallet.Calls(provider.MethodAccounts))
	s.Equal(1, s.wallet.Subscribers())
	s.Contains(s.auditor.actions(), audit.ActionSessionReinitialized)
}

func (s *ManagerSuite) TestRestore() {
	s.Run("authorized account reconnects", func() {
		s.SetupTest()
		s.Require().NoError(s.manager.Restore(s.ctx))
		s.Equal(models.StatusConnected, s.manager.Session().Status)
	})

	s.Run("no authorized account stays disconnected", func() {
		s.SetupTest()
		s.wallet.Returns(provider.MethodAccounts, []string{})

		s.Require().NoError(s.manager.Restore(s.ctx))
		s.Equal(models.StatusDisconnected, s.manager.Session().Status)
		s.Equal(0, s.wallet.Calls(provider.MethodRequestAccounts))
	})

	s.Run("missing provider is silent", func() {
		s.SetupTest()
		s.present = false

		s.Require().NoError(s.manager.Restore(s.ctx))
		got := s.manager.Session()
		s.Equal(models.StatusDisconnected, got.Status)
		s.Nil(got.Error)
	})
}

func (s *ManagerSuite) TestTransitionsUseClock() {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := New(s.environment, provider.KindMetaMask, provider.RequiredChain{ID: sepolia},
		ledger.ProviderBinder(registry), WithClock(func() time.Time { return fixed }))
	s.Require().NoError(err)
	defer m.Close()

	s.Require().NoError(m.Connect(s.ctx))
	s.Equal(fixed, m.Session().UpdatedAt)
}
