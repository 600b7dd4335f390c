// Package fixtures provides test data factories for creating test objects.
package fixtures

import (
	"fmt"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/pkg/types"
	"github.com/better-wallet/embedded-connect/tests/keys"
	"github.com/google/uuid"
)

// =============================================================================
// ACCOUNT FIXTURES
// =============================================================================

// AccountOption customizes a fixture account.
type AccountOption func(*types.Account)

// WithRecovery sets the account's recorded recovery method.
func WithRecovery(method types.RecoveryMethod) AccountOption {
	return func(a *types.Account) { a.RecoveryMethod = method }
}

// WithSmartAccount turns the fixture into a smart account on chainID.
func WithSmartAccount(chainID uint64) AccountOption {
	return func(a *types.Account) {
		a.AccountType = types.AccountTypeSmartAccount
		a.ChainID = chainID
		a.OwnerAddress = a.Address
		a.ImplementationType = "upgradeable_v06"
	}
}

// NewEVMAccount creates an EOA with a real checksummed address.
func NewEVMAccount(opts ...AccountOption) types.Account {
	key, err := keys.GenerateEthereumKey()
	if err != nil {
		panic(fmt.Sprintf("fixtures: generate ethereum key: %v", err))
	}
	acc := types.Account{
		ID:          uuid.New().String(),
		Address:     keys.EthereumAddress(key).Hex(),
		ChainFamily: types.ChainFamilyEVM,
		AccountType: types.AccountTypeEOA,
	}
	for _, opt := range opts {
		opt(&acc)
	}
	return acc
}

// NewSolanaAccount creates an account with a real base58 address.
func NewSolanaAccount(opts ...AccountOption) types.Account {
	key, err := keys.GenerateSolanaKey()
	if err != nil {
		panic(fmt.Sprintf("fixtures: generate solana key: %v", err))
	}
	acc := types.Account{
		ID:          uuid.New().String(),
		Address:     key.Address(),
		ChainFamily: types.ChainFamilySVM,
		AccountType: types.AccountTypeEOA,
	}
	for _, opt := range opts {
		opt(&acc)
	}
	return acc
}

// =============================================================================
// USER FIXTURES
// =============================================================================

// NewUser creates an authenticated user.
func NewUser() *types.User {
	id := uuid.New().String()
	return &types.User{
		ID:    "usr_" + id[:8],
		Email: fmt.Sprintf("user-%s@example.com", id[:8]),
	}
}

// =============================================================================
// CONFIG FIXTURES
// =============================================================================

// NewWalletConfig returns a valid embedded-mode config on Polygon.
func NewWalletConfig() *config.WalletConfig {
	return &config.WalletConfig{
		PublishableKey: "pk_test_" + uuid.New().String()[:8],
		ChainID:        137,
		RPCURLs: map[uint64]string{
			137:   "https://polygon-rpc.example.com",
			80002: "https://amoy-rpc.example.com",
		},
		PolicyIDs: map[uint64]string{
			137: "pol_polygon",
		},
		OTPRequestsPerSec:  1,
		DefaultAccountType: types.AccountTypeSmartAccount,
		ConnectMode:        config.ModeEmbedded,
		ChainFamily:        types.ChainFamilyEVM,
	}
}

// NewSolanaWalletConfig returns NewWalletConfig with Solana enabled.
func NewSolanaWalletConfig() *config.WalletConfig {
	cfg := NewWalletConfig()
	cfg.Solana = &config.SolanaConfig{
		Cluster: "devnet",
		RPCURL:  "https://api.devnet.solana.com",
	}
	return cfg
}
