// Package strategy answers, for one chain family and connectivity mode,
// whether the user is connected, which address and chain are active and how
// a signer is obtained from the custody backend.
package strategy

import (
	"context"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/validation"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// Kind is the closed set of strategies.
type Kind string

const (
	KindEmbeddedEVM    Kind = "embedded-evm"
	KindBridgedEVM     Kind = "bridged-evm"
	KindEmbeddedSolana Kind = "embedded-svm"
)

// Route is a connect route the UI may offer.
type Route string

const (
	RouteEmbedded        Route = "embedded"
	RouteExternalWallets Route = "external-wallets"
)

// Snapshot is the auth and account context a strategy is evaluated against.
type Snapshot struct {
	User                  *types.User
	Accounts              []types.Account
	ActiveEmbeddedAddress string
	EmbeddedState         types.EmbeddedState
}

// Strategy is implemented by every connection strategy.
type Strategy interface {
	Kind() Kind
	ChainFamily() types.ChainFamily
	IsConnected(s Snapshot) bool
	// ChainID returns false when the family has no chain id.
	ChainID() (uint64, bool)
	Address(s Snapshot) string
	ConnectRoutes() []Route
	Connectors() []custody.Connector
	// InitProvider obtains a signer for account, which must already be
	// unlocked on the backend. chainOverride of zero uses ChainID.
	InitProvider(ctx context.Context, backend custody.Backend, account types.Account, chainOverride uint64) (*custody.Signer, error)
	Disconnect(ctx context.Context, backend custody.Backend) error
}

// Set is the strategies selected for one process.
type Set struct {
	Ethereum Strategy
	// Solana is nil unless Solana wallets are configured.
	Solana Strategy
}

// For returns the strategy serving family, or nil.
func (s Set) For(family types.ChainFamily) Strategy {
	if family == types.ChainFamilySVM {
		return s.Solana
	}
	return s.Ethereum
}

// Select builds the strategies from static configuration. bridge is required
// in bridged mode and ignored otherwise.
func Select(cfg *config.WalletConfig, bridge custody.Bridge) (Set, error) {
	var set Set

	switch cfg.ConnectMode {
	case config.ModeBridged:
		s, err := NewBridgedEVM(cfg, bridge)
		if err != nil {
			return Set{}, err
		}
		set.Ethereum = s
	default:
		set.Ethereum = NewEmbeddedEVM(cfg)
	}

	if cfg.HasSolana() {
		set.Solana = NewEmbeddedSolana(cfg)
	}

	return set, nil
}

// accountsOf filters accounts by family, keeping backend order.
func accountsOf(accounts []types.Account, family types.ChainFamily) []types.Account {
	var out []types.Account
	for _, acc := range accounts {
		if acc.ChainFamily == family {
			out = append(out, acc)
		}
	}
	return out
}

// pickAddress prefers the active embedded address when it names one of the
// family's accounts, and falls back to the first account.
func pickAddress(s Snapshot, family types.ChainFamily) string {
	accounts := accountsOf(s.Accounts, family)
	if len(accounts) == 0 {
		return ""
	}
	if s.ActiveEmbeddedAddress != "" {
		for _, acc := range accounts {
			if validation.SameAddress(family, acc.Address, s.ActiveEmbeddedAddress) {
				return acc.Address
			}
		}
	}
	return accounts[0].Address
}

var (
	_ Strategy = (*EmbeddedEVM)(nil)
	_ Strategy = (*BridgedEVM)(nil)
	_ Strategy = (*EmbeddedSolana)(nil)
)
