package custody

import (
	"context"
)

// Provider events
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
)

// RequestArguments is an EIP-1193 request.
type RequestArguments struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// EthereumProvider is an EIP-1193 provider. Listeners are identified by
// function value; a listener must not call On or RemoveListener.
type EthereumProvider interface {
	Request(ctx context.Context, args RequestArguments) (any, error)
	On(event string, handler any) error
	RemoveListener(event string, handler any) error
}

// SolanaSigner signs for one Solana account.
type SolanaSigner interface {
	PublicKey() string
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SignTransaction(ctx context.Context, tx []byte) ([]byte, error)
}

// Signer is the handle a connected wallet exposes: exactly one of an
// Ethereum provider or a Solana signer.
type Signer struct {
	ethereum EthereumProvider
	solana   SolanaSigner
}

// NewEthereumSigner wraps an EIP-1193 provider.
func NewEthereumSigner(p EthereumProvider) *Signer {
	return &Signer{ethereum: p}
}

// NewSolanaSigner wraps a Solana signer.
func NewSolanaSigner(s SolanaSigner) *Signer {
	return &Signer{solana: s}
}

// Ethereum returns the provider, or nil for a Solana signer.
func (s *Signer) Ethereum() EthereumProvider {
	if s == nil {
		return nil
	}
	return s.ethereum
}

// Solana returns the signer, or nil for an Ethereum provider.
func (s *Signer) Solana() SolanaSigner {
	if s == nil {
		return nil
	}
	return s.solana
}
