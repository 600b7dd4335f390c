package strategy

import (
	"context"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/validation"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// EmbeddedSolana serves embedded Solana accounts.
type EmbeddedSolana struct {
	cfg *config.WalletConfig
}

// NewEmbeddedSolana creates the Solana strategy. Callers only create it when
// the configuration has Solana enabled.
func NewEmbeddedSolana(cfg *config.WalletConfig) *EmbeddedSolana {
	return &EmbeddedSolana{cfg: cfg}
}

func (s *EmbeddedSolana) Kind() Kind                     { return KindEmbeddedSolana }
func (s *EmbeddedSolana) ChainFamily() types.ChainFamily { return types.ChainFamilySVM }

// IsConnected requires an SVM account, an active embedded address, a READY
// backend and the active address being one of the SVM accounts.
func (s *EmbeddedSolana) IsConnected(snap Snapshot) bool {
	accounts := accountsOf(snap.Accounts, types.ChainFamilySVM)
	if len(accounts) == 0 || snap.ActiveEmbeddedAddress == "" {
		return false
	}
	if snap.EmbeddedState != types.EmbeddedStateReady {
		return false
	}
	for _, acc := range accounts {
		if validation.SameAddress(types.ChainFamilySVM, acc.Address, snap.ActiveEmbeddedAddress) {
			return true
		}
	}
	return false
}

// ChainID is undefined for Solana.
func (s *EmbeddedSolana) ChainID() (uint64, bool) {
	return 0, false
}

func (s *EmbeddedSolana) Address(snap Snapshot) string {
	return pickAddress(snap, types.ChainFamilySVM)
}

func (s *EmbeddedSolana) ConnectRoutes() []Route {
	return []Route{RouteEmbedded}
}

func (s *EmbeddedSolana) Connectors() []custody.Connector {
	return nil
}

// Cluster returns the configured Solana cluster.
func (s *EmbeddedSolana) Cluster() string {
	if !s.cfg.HasSolana() {
		return ""
	}
	return s.cfg.Solana.Cluster
}

func (s *EmbeddedSolana) InitProvider(ctx context.Context, backend custody.Backend, account types.Account, _ uint64) (*custody.Signer, error) {
	signer, err := backend.SolanaSigner(ctx, account)
	if err != nil {
		return nil, apperrors.Wrap(err, "Failed to get Solana signer")
	}
	return custody.NewSolanaSigner(signer), nil
}

func (s *EmbeddedSolana) Disconnect(ctx context.Context, backend custody.Backend) error {
	if err := backend.Logout(ctx); err != nil {
		return apperrors.Wrap(err, "Failed to log out")
	}
	return nil
}
