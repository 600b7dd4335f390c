// Package wallet implements the embedded wallet connection and recovery state
// machine. One Machine serves one chain family; Ethereum and Solana machines
// are independent instances of the same type.
package wallet

import (
	"context"
	"sync"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/logger"
	"github.com/better-wallet/embedded-connect/internal/metrics"
	"github.com/better-wallet/embedded-connect/internal/recovery"
	"github.com/better-wallet/embedded-connect/internal/session"
	"github.com/better-wallet/embedded-connect/internal/strategy"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
	"golang.org/x/sync/semaphore"
)

// Options wires a Machine to its collaborators.
type Options struct {
	Config  *config.WalletConfig
	Backend custody.Backend
	Session *session.Session
	// Strategy defaults to the embedded strategy for the machine's family.
	Strategy strategy.Strategy
	// Recovery defaults to a builder over Config and Session.
	Recovery *recovery.Builder
	Metrics  *metrics.Recorder
}

// Machine is safe for concurrent use. Mutating operations run one at a time
// in arrival order.
type Machine struct {
	family   types.ChainFamily
	cfg      *config.WalletConfig
	backend  custody.Backend
	session  *session.Session
	strategy strategy.Strategy
	builder  *recovery.Builder
	metrics  *metrics.Recorder

	// ops serializes create, setActive, setRecovery and disconnect.
	ops *semaphore.Weighted

	mu            sync.RWMutex
	state         State
	autoAttempted bool
	closed        bool
	baseCtx       context.Context
	cancel        context.CancelFunc
	unsubscribe   func()
	watch         *providerWatch
	life          context.Context
	stop          context.CancelFunc
	// background tracks goroutines started by session and provider events.
	background sync.WaitGroup

	listenerMu sync.Mutex
	listeners  map[uint64]func(State)
	nextID     uint64

	// deliverMu guards the notification queue. States produced while an
	// operation holds ops are delivered once it releases them.
	deliverMu  sync.Mutex
	held       bool
	delivering bool
	queue      []State
}

// NewEthereum creates the EVM machine.
func NewEthereum(opts Options) (*Machine, error) {
	if opts.Strategy == nil {
		opts.Strategy = strategy.NewEmbeddedEVM(opts.Config)
	}
	return newMachine(types.ChainFamilyEVM, opts)
}

// NewSolana creates the Solana machine. Solana must be configured.
func NewSolana(opts Options) (*Machine, error) {
	if !opts.Config.HasSolana() {
		return nil, apperrors.Configuration("Solana wallet config is required for the Solana wallet")
	}
	if opts.Strategy == nil {
		opts.Strategy = strategy.NewEmbeddedSolana(opts.Config)
	}
	return newMachine(types.ChainFamilySVM, opts)
}

func newMachine(family types.ChainFamily, opts Options) (*Machine, error) {
	if opts.Backend == nil {
		return nil, apperrors.Configuration("Custody backend is required")
	}
	if opts.Session == nil {
		return nil, apperrors.Configuration("Session is required")
	}
	if opts.Strategy.ChainFamily() != family {
		return nil, apperrors.Configuration("Strategy " + string(opts.Strategy.Kind()) + " does not serve chain family " + string(family))
	}

	builder := opts.Recovery
	if builder == nil {
		builder = recovery.NewBuilder(opts.Config, opts.Session, nil)
	}

	life, stop := context.WithCancel(context.Background())
	return &Machine{
		life:      life,
		stop:      stop,
		family:    family,
		cfg:       opts.Config,
		backend:   opts.Backend,
		session:   opts.Session,
		strategy:  opts.Strategy,
		builder:   builder,
		metrics:   opts.Metrics,
		ops:       semaphore.NewWeighted(1),
		state:     disconnectedState(),
		listeners: make(map[uint64]func(State)),
	}, nil
}

// ChainFamily returns the family the machine serves.
func (m *Machine) ChainFamily() types.ChainFamily {
	return m.family
}

// Strategy returns the connection strategy in use.
func (m *Machine) Strategy() strategy.Strategy {
	return m.strategy
}

// Start mounts the machine: it runs one auto-reconnect check now and watches
// the session for later ones. Cancelling ctx has the same effect as Close.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil || m.closed {
		m.mu.Unlock()
		return
	}
	m.baseCtx, m.cancel = context.WithCancel(logger.WithChainFamily(ctx, string(m.family)))
	baseCtx := m.baseCtx
	m.mu.Unlock()

	unsubscribe := m.session.Subscribe(func(ev session.Event) {
		if ev.Kind == session.EventLoading {
			m.notify()
		}
		m.spawn(func() { m.autoReconnect(baseCtx) })
	})

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.autoReconnect(baseCtx)
}

// Close unmounts the machine and waits for background reconnects and
// provider event handling to return. Results of in-flight operations arriving
// afterwards are discarded. It must not be called from a state listener.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	cancel, unsubscribe := m.cancel, m.unsubscribe
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	m.stop()
	m.background.Wait()
	m.unwatchProvider()
}

// spawn runs fn in a goroutine Close waits for. It does nothing once the
// machine is closed.
func (m *Machine) spawn(fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.background.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.background.Done()
		fn()
	}()
}

// State returns the current state. While the account list is loading the
// status reads fetching-wallets and no wallet is exposed, whatever the stored
// status.
func (m *Machine) State() State {
	m.mu.RLock()
	s := m.state
	m.mu.RUnlock()
	return m.view(s)
}

func (m *Machine) view(s State) State {
	if m.session.Loading() {
		return State{Status: types.StatusFetchingWallets}
	}
	return s
}

// Subscribe registers fn for state changes and returns its unsubscribe func.
// Listeners run in transition order. States reached while an operation is in
// progress are delivered when that operation releases the machine, so fn may
// itself call Create, SetActive or Disconnect.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.listenerMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

// transition stores next and notifies listeners. It reports false and drops
// the update once the machine is closed.
func (m *Machine) transition(ctx context.Context, next State) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		logger.Debug(ctx, "discarding state update after close", "status", next.Status)
		return false
	}
	m.state = next
	m.mu.Unlock()

	m.metrics.Transition(string(m.family), string(next.Status))
	m.notify()
	return true
}

func (m *Machine) notify() {
	s := m.State()

	m.deliverMu.Lock()
	m.queue = append(m.queue, s)
	m.deliverMu.Unlock()
	m.drain()
}

// drain delivers queued states unless an operation holds the machine or
// another caller is already draining.
func (m *Machine) drain() {
	m.deliverMu.Lock()
	if m.held || m.delivering {
		m.deliverMu.Unlock()
		return
	}
	m.delivering = true
	for !m.held && len(m.queue) > 0 {
		s := m.queue[0]
		m.queue = m.queue[1:]
		m.deliverMu.Unlock()
		m.deliver(s)
		m.deliverMu.Lock()
	}
	m.delivering = false
	m.deliverMu.Unlock()
}

func (m *Machine) deliver(s State) {
	m.listenerMu.Lock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Machine) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// opContext tags ctx for logging.
func (m *Machine) opContext(ctx context.Context, op string) context.Context {
	return logger.WithOperation(logger.WithChainFamily(ctx, string(m.family)), op)
}

// lock waits for the machine's turn to mutate.
func (m *Machine) lock(ctx context.Context) error {
	if err := m.ops.Acquire(ctx, 1); err != nil {
		return apperrors.Wrap(err, "Wallet operation cancelled")
	}
	m.deliverMu.Lock()
	m.held = true
	m.deliverMu.Unlock()
	return nil
}

// unlock releases the machine and then delivers the states the operation
// produced.
func (m *Machine) unlock() {
	m.deliverMu.Lock()
	m.held = false
	m.deliverMu.Unlock()
	m.ops.Release(1)
	m.drain()
}

// snapshot gathers the strategy inputs. The backend's embedded state is only
// read for strategies that use it.
func (m *Machine) snapshot(ctx context.Context) strategy.Snapshot {
	snap := strategy.Snapshot{
		User:                  m.session.User(),
		Accounts:              m.session.Accounts(),
		ActiveEmbeddedAddress: m.session.ActiveEmbeddedAddress(),
	}
	if m.family == types.ChainFamilySVM {
		state, err := m.backend.EmbeddedState(ctx)
		if err != nil {
			logger.Debug(ctx, "embedded state lookup failed", "error", err)
		}
		snap.EmbeddedState = state
	}
	return snap
}

// IsConnected asks the strategy whether the user is connected.
func (m *Machine) IsConnected(ctx context.Context) bool {
	return m.strategy.IsConnected(m.snapshot(ctx))
}

// Address returns the strategy's active address, or empty.
func (m *Machine) Address(ctx context.Context) string {
	return m.strategy.Address(m.snapshot(ctx))
}

// Wallets lists a view of every account of the machine's family. Only the
// connected wallet's view carries a signer.
func (m *Machine) Wallets() []*ConnectedWallet {
	accounts := m.session.AccountsFor(m.family)
	cur := m.current()

	out := make([]*ConnectedWallet, 0, len(accounts))
	for i, acc := range accounts {
		w := newConnectedWallet(acc, i, m.chainIDFor(acc, 0), nil)
		if cur.Status == types.StatusConnected && cur.ActiveWallet != nil && cur.ActiveWallet.ID == acc.ID {
			w = cur.ActiveWallet
		}
		out = append(out, w)
	}
	return out
}

// chainIDFor resolves the chain a wallet view reports: the override, then the
// smart account's own chain, then the strategy's.
func (m *Machine) chainIDFor(acc types.Account, override uint64) uint64 {
	if acc.ChainFamily != types.ChainFamilyEVM {
		return 0
	}
	if override != 0 {
		return override
	}
	if acc.AccountType == types.AccountTypeSmartAccount && acc.ChainID != 0 {
		return acc.ChainID
	}
	id, _ := m.strategy.ChainID()
	return id
}
