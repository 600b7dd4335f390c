package mocks

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/tests/keys"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MockEthereumProvider is an EIP-1193 provider backed by a local key.
type MockEthereumProvider struct {
	*Emitter

	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	chainID uint64

	SwitchErr   error
	SwitchCalls []uint64
	// ReportChainID, when set, overrides the eth_chainId answer.
	ReportChainID uint64
}

// NewMockEthereumProvider creates a provider for key on chainID.
func NewMockEthereumProvider(key *ecdsa.PrivateKey, chainID uint64) *MockEthereumProvider {
	return &MockEthereumProvider{
		Emitter: NewEmitter(),
		key:     key,
		chainID: chainID,
	}
}

// CurrentChainID returns the chain the provider is on.
func (p *MockEthereumProvider) CurrentChainID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID
}

func (p *MockEthereumProvider) Request(ctx context.Context, args custody.RequestArguments) (any, error) {
	switch args.Method {
	case "eth_chainId":
		p.mu.Lock()
		id := p.chainID
		if p.ReportChainID != 0 {
			id = p.ReportChainID
		}
		p.mu.Unlock()
		return hexutil.EncodeUint64(id), nil

	case "eth_accounts", "eth_requestAccounts":
		if p.key == nil {
			return []any{}, nil
		}
		return []any{keys.EthereumAddress(p.key).Hex()}, nil

	case "wallet_switchEthereumChain":
		if len(args.Params) != 1 {
			return nil, fmt.Errorf("expected one param")
		}
		param, ok := args.Params[0].(map[string]string)
		if !ok {
			return nil, fmt.Errorf("unexpected param type %T", args.Params[0])
		}
		id, err := hexutil.DecodeUint64(param["chainId"])
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.SwitchCalls = append(p.SwitchCalls, id)
		if p.SwitchErr != nil {
			p.mu.Unlock()
			return nil, p.SwitchErr
		}
		p.chainID = id
		p.mu.Unlock()

		p.Emit(custody.EventChainChanged, hexutil.EncodeUint64(id))
		return nil, nil
	}

	return nil, fmt.Errorf("method %s not supported", args.Method)
}

// MockSolanaSigner signs with a local ed25519 key.
type MockSolanaSigner struct {
	key *keys.SolanaKey
}

func (s *MockSolanaSigner) PublicKey() string {
	return s.key.Address()
}

func (s *MockSolanaSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return s.key.Sign(message), nil
}

func (s *MockSolanaSigner) SignTransaction(ctx context.Context, tx []byte) ([]byte, error) {
	return s.key.Sign(tx), nil
}

// MockBridge is an external-wallet connector registry.
type MockBridge struct {
	mu              sync.Mutex
	address         string
	chainID         uint64
	connectors      []custody.Connector
	DisconnectCalls int
}

// NewMockBridge creates a bridge with a single injected connector and no connection.
func NewMockBridge(chainID uint64) *MockBridge {
	return &MockBridge{
		chainID: chainID,
		connectors: []custody.Connector{
			{ID: "injected", Name: "Browser Wallet", Type: "injected"},
		},
	}
}

// Connect simulates an external wallet connecting.
func (b *MockBridge) Connect(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.address = address
}

func (b *MockBridge) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

func (b *MockBridge) ChainID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chainID
}

func (b *MockBridge) Connectors() []custody.Connector {
	return b.connectors
}

func (b *MockBridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DisconnectCalls++
	b.address = ""
	return nil
}
