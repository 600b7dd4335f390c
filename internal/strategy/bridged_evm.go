package strategy

import (
	"context"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/custody"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// BridgedEVM serves external wallets connected through the bridge registry,
// alongside embedded EVM accounts.
type BridgedEVM struct {
	cfg    *config.WalletConfig
	bridge custody.Bridge
}

// NewBridgedEVM creates the bridged strategy.
func NewBridgedEVM(cfg *config.WalletConfig, bridge custody.Bridge) (*BridgedEVM, error) {
	if bridge == nil {
		return nil, apperrors.Configuration("Bridged connect mode requires a connector bridge")
	}
	return &BridgedEVM{cfg: cfg, bridge: bridge}, nil
}

func (s *BridgedEVM) Kind() Kind                     { return KindBridgedEVM }
func (s *BridgedEVM) ChainFamily() types.ChainFamily { return types.ChainFamilyEVM }

// IsConnected requires both a live external connection and a user session.
func (s *BridgedEVM) IsConnected(snap Snapshot) bool {
	return s.bridge.Address() != "" && snap.User != nil
}

// ChainID is whatever the bridge currently reports.
func (s *BridgedEVM) ChainID() (uint64, bool) {
	id := s.bridge.ChainID()
	return id, id != 0
}

// Address prefers the external wallet, then the embedded accounts.
func (s *BridgedEVM) Address(snap Snapshot) string {
	if addr := s.bridge.Address(); addr != "" {
		return addr
	}
	return pickAddress(snap, types.ChainFamilyEVM)
}

func (s *BridgedEVM) ConnectRoutes() []Route {
	return []Route{RouteEmbedded, RouteExternalWallets}
}

func (s *BridgedEVM) Connectors() []custody.Connector {
	return s.bridge.Connectors()
}

func (s *BridgedEVM) InitProvider(ctx context.Context, backend custody.Backend, account types.Account, chainOverride uint64) (*custody.Signer, error) {
	chainID := chainOverride
	if chainID == 0 {
		chainID = s.bridge.ChainID()
	}
	if chainID == 0 && s.cfg != nil {
		chainID = s.cfg.ChainID
	}
	if chainID == 0 {
		chainID = config.DevChainID
	}
	return initEthereumProvider(ctx, backend, s.cfg, chainID)
}

// Disconnect drops the external connection, then the custody session.
func (s *BridgedEVM) Disconnect(ctx context.Context, backend custody.Backend) error {
	if err := s.bridge.Disconnect(ctx); err != nil {
		return apperrors.Wrap(err, "Failed to disconnect external wallet")
	}
	if err := backend.Logout(ctx); err != nil {
		return apperrors.Wrap(err, "Failed to log out")
	}
	return nil
}
