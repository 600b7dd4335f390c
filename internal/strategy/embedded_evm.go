package strategy

import (
	"context"
	"sync"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/eth"
	"github.com/better-wallet/embedded-connect/internal/logger"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// EmbeddedEVM serves embedded Ethereum accounts only.
type EmbeddedEVM struct {
	cfg      *config.WalletConfig
	warnOnce sync.Once
}

// NewEmbeddedEVM creates the embedded EVM strategy.
func NewEmbeddedEVM(cfg *config.WalletConfig) *EmbeddedEVM {
	return &EmbeddedEVM{cfg: cfg}
}

func (s *EmbeddedEVM) Kind() Kind                     { return KindEmbeddedEVM }
func (s *EmbeddedEVM) ChainFamily() types.ChainFamily { return types.ChainFamilyEVM }

// IsConnected reports whether the user has any embedded EVM account.
func (s *EmbeddedEVM) IsConnected(snap Snapshot) bool {
	return len(accountsOf(snap.Accounts, types.ChainFamilyEVM)) > 0
}

// ChainID returns the configured chain, falling back to the development
// chain with a warning.
func (s *EmbeddedEVM) ChainID() (uint64, bool) {
	if s.cfg != nil && s.cfg.ChainID != 0 {
		return s.cfg.ChainID, true
	}
	s.warnOnce.Do(func() {
		logger.Warn(context.Background(), "EVM_CHAIN_ID is not configured, falling back to development chain",
			"chain_id", config.DevChainID)
	})
	return config.DevChainID, true
}

func (s *EmbeddedEVM) Address(snap Snapshot) string {
	return pickAddress(snap, types.ChainFamilyEVM)
}

func (s *EmbeddedEVM) ConnectRoutes() []Route {
	return []Route{RouteEmbedded}
}

func (s *EmbeddedEVM) Connectors() []custody.Connector {
	return nil
}

func (s *EmbeddedEVM) InitProvider(ctx context.Context, backend custody.Backend, account types.Account, chainOverride uint64) (*custody.Signer, error) {
	chainID := chainOverride
	if chainID == 0 {
		chainID, _ = s.ChainID()
	}
	return initEthereumProvider(ctx, backend, s.cfg, chainID)
}

// Disconnect ends the custody session.
func (s *EmbeddedEVM) Disconnect(ctx context.Context, backend custody.Backend) error {
	if err := backend.Logout(ctx); err != nil {
		return apperrors.Wrap(err, "Failed to log out")
	}
	return nil
}

// initEthereumProvider requests a provider scoped to the configured RPC map
// and policy, then asks it to switch to chainID. A failed switch is logged
// and ignored: some chain and policy combinations are legitimately rejected.
func initEthereumProvider(ctx context.Context, backend custody.Backend, cfg *config.WalletConfig, chainID uint64) (*custody.Signer, error) {
	req := custody.ProviderRequest{ChainID: chainID}
	if cfg != nil {
		req.RPCURLs = cfg.RPCURLs
		req.Policy = cfg.PolicyID(chainID)
	}

	provider, err := backend.EthereumProvider(ctx, req)
	if err != nil {
		return nil, apperrors.Wrap(err, "Failed to get Ethereum provider")
	}

	client, err := eth.NewClient(provider)
	if err != nil {
		return nil, apperrors.Wrap(err, "Failed to get Ethereum provider")
	}
	if err := client.SwitchChain(ctx, chainID); err != nil {
		logger.Warn(ctx, "provider chain switch failed", "chain_id", chainID, "error", err)
	} else if current, err := client.ChainID(ctx); err != nil {
		logger.Warn(ctx, "provider chain check failed", "chain_id", chainID, "error", err)
	} else if current != chainID {
		logger.Warn(ctx, "provider is on a different chain than requested", "chain_id", chainID, "provider_chain_id", current)
	}

	return custody.NewEthereumSigner(provider), nil
}
