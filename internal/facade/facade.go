// Package facade exposes whichever embedded wallet machine serves the
// currently selected chain family, so callers need no chain-specific import.
package facade

import (
	"context"
	"sync"

	"github.com/better-wallet/embedded-connect/internal/wallet"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// Embedded is the chain-agnostic wallet surface. *wallet.Machine implements it.
type Embedded interface {
	ChainFamily() types.ChainFamily
	State() wallet.State
	Subscribe(fn func(wallet.State)) func()
	Wallets() []*wallet.ConnectedWallet
	IsConnected(ctx context.Context) bool
	Address(ctx context.Context) string

	Create(ctx context.Context, opts wallet.CreateOptions) (*wallet.ConnectedWallet, error)
	SetActive(ctx context.Context, opts wallet.SetActiveOptions) (*wallet.ConnectedWallet, error)
	SetRecovery(ctx context.Context, opts wallet.SetRecoveryOptions) error
	ExportPrivateKey(ctx context.Context) (string, error)
	Disconnect(ctx context.Context) error
}

var _ Embedded = (*wallet.Machine)(nil)

// Selection is the selected machine tagged with its family.
type Selection struct {
	Embedded
	Family types.ChainFamily
}

// Facade holds no wallet state of its own.
type Facade struct {
	ethereum Embedded
	solana   Embedded

	mu     sync.RWMutex
	family types.ChainFamily
}

// New creates a facade selecting family. solana may be nil when Solana is
// not configured.
func New(ethereum, solana *wallet.Machine, family types.ChainFamily) (*Facade, error) {
	if ethereum == nil {
		return nil, apperrors.Configuration("Ethereum wallet is required")
	}
	f := &Facade{ethereum: ethereum}
	if solana != nil {
		f.solana = solana
	}
	if err := f.SetChainFamily(family); err != nil {
		return nil, err
	}
	return f, nil
}

// SetChainFamily switches the selected family.
func (f *Facade) SetChainFamily(family types.ChainFamily) error {
	switch family {
	case types.ChainFamilyEVM:
	case types.ChainFamilySVM:
		if f.solana == nil {
			return apperrors.Configuration("Solana wallet is not configured")
		}
	default:
		return apperrors.Unsupported("chain family: " + string(family))
	}

	f.mu.Lock()
	f.family = family
	f.mu.Unlock()
	return nil
}

// ChainFamily returns the selected family.
func (f *Facade) ChainFamily() types.ChainFamily {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.family
}

// Wallet returns the machine for the selected family.
func (f *Facade) Wallet() Selection {
	family := f.ChainFamily()
	if family == types.ChainFamilySVM {
		return Selection{Embedded: f.solana, Family: family}
	}
	return Selection{Embedded: f.ethereum, Family: family}
}
