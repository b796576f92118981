// Package service implements the wallet session lifecycle.
//
// The Manager is the only writer of models.Session. Every connect cycle is
// tagged with a generation; a network change, an account change, a
// disconnect or a reinitialization bumps the generation so results from the
// superseded cycle are dropped when they arrive.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"credverify/internal/audit"
	"credverify/internal/ledger"
	"credverify/internal/session/metrics"
	"credverify/internal/session/models"
	"credverify/internal/session/roles"
	"credverify/internal/wallet/provider"
	"credverify/pkg/domain"
	dErrors "credverify/pkg/domain-errors"
)

// EnvironmentSource returns the providers the host currently exposes.
// Providers may appear after start-up, so it is consulted on every cycle.
type EnvironmentSource func() provider.Environment

// RoleResolver resolves roles for a connected account.
type RoleResolver func(ctx context.Context, account common.Address, r roles.Reader) (models.Roles, error)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets session metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithAuditor sets the audit emitter.
func WithAuditor(a audit.Emitter) Option {
	return func(m *Manager) {
		m.auditor = a
	}
}

// WithRoleResolver replaces roles.Resolve.
func WithRoleResolver(r RoleResolver) Option {
	return func(m *Manager) {
		m.resolveRoles = r
	}
}

// WithReinitHook registers fn to run on every reinitialization, after state
// is dropped and before the silent restore. Components holding state derived
// from the session use it to reset themselves.
func WithReinitHook(fn func()) Option {
	return func(m *Manager) {
		m.hooks = append(m.hooks, fn)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the session state machine.
type Manager struct {
	env          EnvironmentSource
	kind         provider.Kind
	chain        provider.RequiredChain
	binder       ledger.Binder
	resolveRoles RoleResolver

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Emitter
	hooks   []func()
	now     func() time.Time

	// lifecycle bounds work started from provider events.
	lifecycle context.Context
	cancel    context.CancelFunc

	mu         sync.Mutex
	session    models.Session
	busy       bool
	generation uint64
	provider   provider.Provider
	sub        provider.Subscription
	reader     ledger.Reader
}

// New builds a Manager in the Disconnected state.
func New(env EnvironmentSource, kind provider.Kind, chain provider.RequiredChain, binder ledger.Binder, opts ...Option) (*Manager, error) {
	if env == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "environment source is required")
	}
	if binder == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "contract binder is required")
	}
	if chain.ID == 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "required chain id is required")
	}
	m := &Manager{
		env:          env,
		kind:         kind,
		chain:        chain,
		binder:       binder,
		resolveRoles: roles.Resolve,
		logger:       slog.New(slog.DiscardHandler),
		auditor:      audit.NopEmitter{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lifecycle, m.cancel = context.WithCancel(context.Background())
	m.session = models.Session{Status: models.StatusDisconnected, UpdatedAt: m.now()}
	return m, nil
}

// Close detaches events and cancels work started from them.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachLocked()
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.session)
}

// CredentialReader returns the signer-bound reader while connected.
func (m *Manager) CredentialReader() (ledger.Reader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Status != models.StatusConnected || m.reader == nil {
		return nil, false
	}
	return m.reader, true
}

// Connect runs a full connect cycle. It is a no-op while a cycle is in
// flight or the session is already connected. Lifecycle failures are
// recorded on the session and returned.
func (m *Manager) Connect(ctx context.Context) error {
	return m.connect(ctx, false)
}

// connect starts a cycle. afterRepair marks the cycle restored by the
// reinitialization that follows a successful network repair; such a cycle
// fails on a mismatch instead of repairing again.
func (m *Manager) connect(ctx context.Context, afterRepair bool) error {
	m.mu.Lock()
	if m.busy || m.session.Status == models.StatusConnected {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "connect suppressed", "status", string(m.Session().Status))
		return nil
	}
	m.busy = true
	m.generation++
	gen := m.generation
	m.resetLocked()
	m.transitionLocked(ctx, models.StatusConnecting)
	m.mu.Unlock()

	return m.runCycle(ctx, gen, afterRepair)
}

func (m *Manager) runCycle(ctx context.Context, gen uint64, afterRepair bool) error {
	p, err := provider.Discover(m.env(), m.kind)
	if err != nil {
		return m.fail(ctx, gen, err)
	}
	if !m.attach(gen, p) {
		return m.stale(ctx, gen, "discover")
	}
	client := provider.NewClient(p)

	accounts, err := client.RequestAccounts(ctx)
	if !m.isCurrent(gen) {
		return m.stale(ctx, gen, "request_accounts")
	}
	switch {
	case provider.IsUserRejected(err):
		return m.fail(ctx, gen, dErrors.Wrap(err, dErrors.CodeRequestRejected, "account access was declined in the wallet"))
	case err != nil:
		return m.fail(ctx, gen, dErrors.Wrap(err, dErrors.CodeTransportFailure, "wallet account request failed"))
	case len(accounts) == 0:
		return m.fail(ctx, gen, dErrors.New(dErrors.CodeNoAccounts, "no accounts found, unlock the wallet and retry"))
	}
	account := accounts[0]

	chainID, err := client.ChainID(ctx)
	if !m.isCurrent(gen) {
		return m.stale(ctx, gen, "chain_id")
	}
	if err != nil {
		return m.fail(ctx, gen, dErrors.Wrap(err, dErrors.CodeTransportFailure, "wallet network read failed"))
	}

	if chainID != m.chain.ID {
		if afterRepair {
			return m.fail(ctx, gen, dErrors.New(dErrors.CodeWrongNetwork, "wallet is still on the wrong network after switching"))
		}
		return m.repairNetwork(ctx, gen, client, chainID)
	}

	reader, err := m.binder(p, account)
	if err != nil {
		return m.fail(ctx, gen, dErrors.Wrap(err, dErrors.CodeTransportFailure, "binding the credential contract failed"))
	}

	resolved, err := m.resolveRoles(ctx, account, reader)
	if !m.isCurrent(gen) {
		return m.stale(ctx, gen, "resolve_roles")
	}
	if err != nil {
		return m.fail(ctx, gen, err)
	}

	return m.commit(ctx, gen, account, chainID, resolved, reader)
}

// repairNetwork asks the wallet to switch to the required chain, adding the
// chain definition first when the wallet does not know it. Success drops all
// state and restores from a clean slate.
func (m *Manager) repairNetwork(ctx context.Context, gen uint64, client *provider.Client, current domain.ChainID) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return m.stale(ctx, gen, "network_mismatch")
	}
	chainID := current
	m.session.ChainID = &chainID
	m.session.Error = &models.ErrorInfo{Code: dErrors.CodeWrongNetwork, Message: "wallet is on network " + current.String() + ", switching to " + m.chain.ID.String()}
	m.transitionLocked(ctx, models.StatusNetworkMismatch)
	m.mu.Unlock()

	err := client.SwitchChain(ctx, m.chain.ID)
	if !m.isCurrent(gen) {
		return m.stale(ctx, gen, "switch_chain")
	}
	if provider.IsUnrecognizedChain(err) {
		m.metrics.IncrementNetworkRepair("switch", "unknown_chain")
		m.noteError(gen, dErrors.CodeChainUnknown, "wallet does not know network "+m.chain.ID.String()+", adding it")

		addErr := client.AddChain(ctx, m.chain.Definition)
		if !m.isCurrent(gen) {
			return m.stale(ctx, gen, "add_chain")
		}
		if addErr != nil {
			m.metrics.IncrementNetworkRepair("add", "rejected")
			return m.fail(ctx, gen, dErrors.Wrap(addErr, dErrors.CodeChainAddRejected, "adding the required network was declined"))
		}
		m.metrics.IncrementNetworkRepair("add", "ok")

		err = client.SwitchChain(ctx, m.chain.ID)
		if !m.isCurrent(gen) {
			return m.stale(ctx, gen, "switch_chain")
		}
	}
	if err != nil {
		m.metrics.IncrementNetworkRepair("switch", "failed")
		return m.fail(ctx, gen, dErrors.Wrap(err, dErrors.CodeWrongNetwork, "switching to the required network failed"))
	}
	m.metrics.IncrementNetworkRepair("switch", "ok")

	m.logger.InfoContext(ctx, "network repaired, reinitializing session",
		"generation", gen,
		"chain_id", m.chain.ID.String(),
	)
	return m.reinitialize(ctx, true)
}

// Disconnect resets to Disconnected from any state and detaches events.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	m.generation++
	m.busy = false
	m.detachLocked()
	m.resetLocked()
	m.transitionLocked(ctx, models.StatusDisconnected)
	m.mu.Unlock()

	m.auditor.Emit(ctx, audit.Event{Action: audit.ActionSessionDisconnected, Outcome: audit.OutcomeSuccess})
}

// HandleAccountsChanged reacts to a wallet account change. An empty list
// disconnects; a different first account supersedes any in-flight cycle and
// runs a full connect so roles are never carried across identities.
func (m *Manager) HandleAccountsChanged(ctx context.Context, accounts []common.Address) error {
	if len(accounts) == 0 {
		m.logger.InfoContext(ctx, "wallet reported no accounts, disconnecting")
		m.Disconnect(ctx)
		return nil
	}

	m.mu.Lock()
	if m.session.Account != nil && *m.session.Account == accounts[0] {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	m.busy = false
	m.reader = nil
	m.resetLocked()
	m.transitionLocked(ctx, models.StatusDisconnected)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "wallet account changed, reconnecting", "account", accounts[0].Hex())
	return m.Connect(ctx)
}

// HandleChainChanged reacts to a wallet network change. Role validity and
// contract bindings are network-specific, so the session is always rebuilt.
func (m *Manager) HandleChainChanged(ctx context.Context, chainID domain.ChainID) error {
	m.logger.InfoContext(ctx, "wallet network changed, reinitializing", "chain_id", chainID.String())
	return m.Reinitialize(ctx)
}

// Reinitialize drops all session state, detaches events, runs reinit hooks
// and then silently restores a previously authorized connection.
func (m *Manager) Reinitialize(ctx context.Context) error {
	return m.reinitialize(ctx, false)
}

func (m *Manager) reinitialize(ctx context.Context, afterRepair bool) error {
	m.mu.Lock()
	m.generation++
	m.busy = false
	m.detachLocked()
	m.resetLocked()
	m.transitionLocked(ctx, models.StatusDisconnected)
	m.mu.Unlock()

	for _, hook := range m.hooks {
		hook()
	}
	m.auditor.Emit(ctx, audit.Event{Action: audit.ActionSessionReinitialized, Outcome: audit.OutcomeSuccess})

	return m.restore(ctx, afterRepair)
}

// Restore reconnects without prompting when the wallet already authorizes
// an account. Discovery or lookup failures leave the session Disconnected.
func (m *Manager) Restore(ctx context.Context) error {
	return m.restore(ctx, false)
}

func (m *Manager) restore(ctx context.Context, afterRepair bool) error {
	m.mu.Lock()
	if m.busy || m.session.Status == models.StatusConnected {
		m.mu.Unlock()
		return nil
	}
	gen := m.generation
	m.mu.Unlock()

	p, err := provider.Discover(m.env(), m.kind)
	if err != nil {
		m.logger.DebugContext(ctx, "restore skipped, no provider")
		return nil
	}
	accounts, err := provider.NewClient(p).Accounts(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "restore account check failed", "error", err)
		return nil
	}
	if len(accounts) == 0 || !m.isCurrent(gen) {
		return nil
	}
	return m.connect(ctx, afterRepair)
}

// attach subscribes to p unless it is already the subscribed provider.
func (m *Manager) attach(gen uint64, p provider.Provider) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return false
	}
	if m.sub != nil && m.provider == p {
		return true
	}
	m.detachLocked()
	m.provider = p
	m.sub = p.Subscribe(provider.Handlers{
		AccountsChanged: func(accounts []common.Address) {
			if err := m.HandleAccountsChanged(m.lifecycle, accounts); err != nil {
				m.logger.WarnContext(m.lifecycle, "reconnect after account change failed", "error", err)
			}
		},
		ChainChanged: func(chainID domain.ChainID) {
			if err := m.HandleChainChanged(m.lifecycle, chainID); err != nil {
				m.logger.WarnContext(m.lifecycle, "restore after network change failed", "error", err)
			}
		},
	})
	return true
}

func (m *Manager) detachLocked() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.sub = nil
	m.provider = nil
	m.reader = nil
}

// resetLocked clears every per-connection field.
func (m *Manager) resetLocked() {
	m.session.Account = nil
	m.session.ChainID = nil
	m.session.Roles = models.Roles{}
	m.session.Error = nil
	m.session.Generation = m.generation
}

func (m *Manager) transitionLocked(ctx context.Context, to models.Status) {
	from := m.session.Status
	m.session.Status = to
	m.session.Generation = m.generation
	m.session.UpdatedAt = m.now()
	m.metrics.IncrementTransition(string(to))
	if from != to {
		m.logger.InfoContext(ctx, "session transition",
			"from", string(from),
			"to", string(to),
			"generation", m.generation,
		)
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) noteError(gen uint64, code dErrors.Code, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.session.Error = &models.ErrorInfo{Code: code, Message: msg}
	}
}

// stale records that a superseded cycle stopped at step. It never touches
// the session or the busy flag, which belong to the newer cycle.
func (m *Manager) stale(ctx context.Context, gen uint64, step string) error {
	m.metrics.IncrementStaleCycle()
	m.logger.DebugContext(ctx, "dropping superseded connect cycle",
		"generation", gen,
		"step", step,
	)
	return nil
}

func (m *Manager) fail(ctx context.Context, gen uint64, err error) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return m.stale(ctx, gen, "fail")
	}
	m.busy = false
	m.reader = nil
	m.session.Account = nil
	m.session.Roles = models.Roles{}
	m.session.Error = models.NewErrorInfo(err)
	m.transitionLocked(ctx, models.StatusFailed)
	m.mu.Unlock()

	code := dErrors.CodeOf(err)
	m.metrics.IncrementConnectOutcome(string(code))
	m.logger.WarnContext(ctx, "connect failed",
		"generation", gen,
		"code", string(code),
		"error", err,
	)
	m.auditor.Emit(ctx, audit.Event{Action: audit.ActionSessionFailed, Outcome: audit.OutcomeFailure, Reason: string(code)})
	return err
}

func (m *Manager) commit(ctx context.Context, gen uint64, account common.Address, chainID domain.ChainID, resolved models.Roles, reader ledger.Reader) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return m.stale(ctx, gen, "commit")
	}
	m.busy = false
	m.reader = reader
	m.session.Account = &account
	m.session.ChainID = &chainID
	m.session.Roles = resolved
	m.session.Error = nil
	m.transitionLocked(ctx, models.StatusConnected)
	m.mu.Unlock()

	m.metrics.IncrementConnectOutcome("ok")
	m.logger.InfoContext(ctx, "session connected",
		"generation", gen,
		"account", account.Hex(),
		"chain_id", chainID.String(),
		"is_issuer", resolved.IsIssuer,
		"is_admin", resolved.IsAdmin,
	)
	m.auditor.Emit(ctx, audit.Event{Action: audit.ActionSessionConnected, Subject: account.Hex(), Outcome: audit.OutcomeSuccess})
	return nil
}

func snapshot(s models.Session) models.Session {
	out := s
	if s.Account != nil {
		acct := *s.Account
		out.Account = &acct
	}
	if s.ChainID != nil {
		id := *s.ChainID
		out.ChainID = &id
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}
