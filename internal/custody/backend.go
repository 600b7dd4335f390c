// Package custody defines the capabilities the wallet core consumes from the
// remote key-custody service and from the signers it hands out.
package custody

import (
	"context"

	"github.com/better-wallet/embedded-connect/pkg/types"
)

// CreateRequest asks the backend to create a new embedded account.
// ChainID is zero for EOA and Solana accounts.
type CreateRequest struct {
	ChainFamily types.ChainFamily
	AccountType types.AccountType
	ChainID     uint64
	Recovery    types.RecoveryParams
}

// ProviderRequest scopes an Ethereum provider to the configured chains and policy.
type ProviderRequest struct {
	Policy  string
	RPCURLs map[uint64]string
	ChainID uint64
}

// AccountLister lists the authenticated user's embedded accounts.
type AccountLister interface {
	List(ctx context.Context) ([]types.Account, error)
}

// Backend is the custody service. Implementations must be safe for concurrent use.
type Backend interface {
	AccountLister

	// Create provisions a new account protected by the given recovery params.
	Create(ctx context.Context, req CreateRequest) (*types.Account, error)

	// Recover unlocks an existing account for signing.
	Recover(ctx context.Context, accountID string, params types.RecoveryParams) error

	// Get returns the account currently active on the backend, or nil.
	Get(ctx context.Context) (*types.Account, error)

	// EthereumProvider returns an EIP-1193 provider for the active account.
	EthereumProvider(ctx context.Context, req ProviderRequest) (EthereumProvider, error)

	// SolanaSigner returns a signer for an unlocked Solana account.
	SolanaSigner(ctx context.Context, account types.Account) (SolanaSigner, error)

	// SetRecoveryMethod rotates the active account from one recovery scheme to another.
	SetRecoveryMethod(ctx context.Context, previous, next types.RecoveryParams) error

	// ExportPrivateKey returns the active account's private key.
	ExportPrivateKey(ctx context.Context) (string, error)

	// EmbeddedState reports the backend's embedded signer lifecycle.
	EmbeddedState(ctx context.Context) (types.EmbeddedState, error)

	Logout(ctx context.Context) error
}

// Connector is an external wallet connector offered by the bridge registry.
type Connector struct {
	ID   string
	Name string
	Type string
}

// Bridge is the third-party connector registry used for external wallets.
// Address is empty while no external wallet is connected.
type Bridge interface {
	Address() string
	ChainID() uint64
	Connectors() []Connector
	Disconnect(ctx context.Context) error
}
