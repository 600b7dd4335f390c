package wallet

import (
	"context"

	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/eth"
	"github.com/better-wallet/embedded-connect/internal/logger"
	"github.com/better-wallet/embedded-connect/internal/validation"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// providerWatch is the listener pair registered on the connected provider.
type providerWatch struct {
	provider   custody.EthereumProvider
	onChain    func(any)
	onAccounts func(any)
}

// watchProvider follows chainChanged and accountsChanged on signer's Ethereum
// provider, replacing any earlier watch. Solana signers emit nothing.
func (m *Machine) watchProvider(signer *custody.Signer) {
	m.unwatchProvider()

	provider := signer.Ethereum()
	if provider == nil {
		return
	}

	// Handlers run inside the provider's emit, so the work happens elsewhere.
	// It outlives the operation that connected and ends with Close.
	ctx := logger.WithChainFamily(m.life, string(m.family))
	pw := &providerWatch{provider: provider}
	pw.onChain = func(v any) {
		m.spawn(func() { m.providerChainChanged(ctx, signer, v) })
	}
	pw.onAccounts = func(v any) {
		m.spawn(func() { m.providerAccountsChanged(ctx, signer, v) })
	}

	if err := provider.On(custody.EventChainChanged, pw.onChain); err != nil {
		logger.Warn(ctx, "failed to watch provider chain", "error", err)
		return
	}
	if err := provider.On(custody.EventAccountsChanged, pw.onAccounts); err != nil {
		logger.Warn(ctx, "failed to watch provider accounts", "error", err)
		_ = provider.RemoveListener(custody.EventChainChanged, pw.onChain)
		return
	}

	m.mu.Lock()
	m.watch = pw
	m.mu.Unlock()
}

func (m *Machine) unwatchProvider() {
	m.mu.Lock()
	pw := m.watch
	m.watch = nil
	m.mu.Unlock()
	if pw == nil {
		return
	}
	_ = pw.provider.RemoveListener(custody.EventChainChanged, pw.onChain)
	_ = pw.provider.RemoveListener(custody.EventAccountsChanged, pw.onAccounts)
}

// providerChainChanged moves the connected wallet view to the provider's new chain.
func (m *Machine) providerChainChanged(ctx context.Context, signer *custody.Signer, v any) {
	chainID, err := eth.ParseChainID(v)
	if err != nil {
		logger.Warn(ctx, "ignoring malformed chainChanged event", "error", err)
		return
	}

	m.updateConnected(ctx, signer, func(s State) (State, bool) {
		if s.ActiveWallet.ChainID == chainID {
			return s, false
		}
		w := *s.ActiveWallet
		w.ChainID = chainID
		logger.Info(ctx, "provider chain changed", "address", w.Address, "chain_id", chainID)
		return connectedState(&w), true
	})
}

// providerAccountsChanged drops the connection when the provider no longer
// exposes any account. Other account changes are only logged.
func (m *Machine) providerAccountsChanged(ctx context.Context, signer *custody.Signer, v any) {
	accounts, ok := parseAccounts(v)
	if !ok {
		logger.Warn(ctx, "ignoring malformed accountsChanged event")
		return
	}

	m.updateConnected(ctx, signer, func(s State) (State, bool) {
		if len(accounts) == 0 {
			logger.Warn(ctx, "provider exposes no accounts, disconnecting", "address", s.ActiveWallet.Address)
			return disconnectedState(), true
		}
		for _, addr := range accounts {
			if validation.SameAddress(types.ChainFamilyEVM, addr, s.ActiveWallet.Address) ||
				validation.SameAddress(types.ChainFamilyEVM, addr, s.ActiveWallet.OwnerAddress) {
				return s, false
			}
		}
		logger.Warn(ctx, "provider switched to an account this wallet does not own", "address", s.ActiveWallet.Address)
		return s, false
	})
}

// updateConnected applies next while the machine is still connected through
// signer. Events from a replaced provider are ignored.
func (m *Machine) updateConnected(ctx context.Context, signer *custody.Signer, next func(State) (State, bool)) {
	if err := m.lock(ctx); err != nil {
		return
	}
	defer m.unlock()

	cur := m.current()
	if cur.Status != types.StatusConnected || cur.Provider != signer || cur.ActiveWallet == nil {
		return
	}
	s, changed := next(cur)
	if !changed {
		return
	}
	if s.Status == types.StatusDisconnected {
		m.unwatchProvider()
	}
	m.transition(ctx, s)
}

func parseAccounts(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
