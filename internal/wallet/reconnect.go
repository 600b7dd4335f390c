package wallet

import (
	"context"

	"github.com/better-wallet/embedded-connect/internal/logger"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// autoReconnect resumes a session the backend already holds unlocked. It runs
// at most once per machine: only after the account list loaded, only from
// disconnected, and only when the family has accounts. A failed attempt re-arms
// it for the next session change.
func (m *Machine) autoReconnect(ctx context.Context) {
	if !m.session.Loaded() || m.session.Loading() {
		return
	}
	if len(m.session.AccountsFor(m.family)) == 0 {
		return
	}

	m.mu.Lock()
	if m.closed || m.autoAttempted || m.state.Status != types.StatusDisconnected {
		m.mu.Unlock()
		return
	}
	m.autoAttempted = true
	m.mu.Unlock()

	ctx = logger.WithOperation(ctx, OpReconnect)
	if err := m.lock(ctx); err != nil {
		return
	}
	defer m.unlock()

	// A mutating operation may have run while we waited.
	if m.cancelled(ctx) || m.current().Status != types.StatusDisconnected {
		return
	}

	if err := m.resume(ctx); err != nil {
		logger.Warn(ctx, "auto-reconnect attempt failed", "error", err)
		m.mu.Lock()
		m.autoAttempted = false
		m.mu.Unlock()
		if !m.cancelled(ctx) {
			m.transition(ctx, disconnectedState())
		}
	}
}

func (m *Machine) resume(ctx context.Context) error {
	active, err := m.backend.Get(ctx)
	if err != nil {
		return err
	}
	if active == nil || m.cancelled(ctx) {
		return nil
	}

	acc, index, ok := m.findAccount(active.Address)
	if !ok || acc.ID != active.ID {
		logger.Debug(ctx, "backend active account is not one of ours", "chain_family", active.ChainFamily)
		return nil
	}

	chainID := m.chainIDFor(acc, 0)
	stub := newConnectedWallet(acc, index, chainID, nil)
	m.transition(ctx, reconnectingState(stub))

	signer, err := m.strategy.InitProvider(ctx, m.backend, acc, chainID)
	if err != nil {
		return err
	}
	if m.cancelled(ctx) {
		return nil
	}

	w := stub.withSigner(signer)
	if !m.transition(ctx, connectedState(w)) {
		return nil
	}
	m.watchProvider(signer)
	m.session.SetActiveEmbeddedAddress(w.Address)
	logger.Info(ctx, "embedded wallet reconnected", "address", w.Address)
	return nil
}

func (m *Machine) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
