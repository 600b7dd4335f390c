package eth

import (
	"context"
	"fmt"

	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client wraps an EIP-1193 provider with typed helpers
type Client struct {
	provider custody.EthereumProvider
}

// NewClient creates a new client over provider
func NewClient(provider custody.EthereumProvider) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	return &Client{provider: provider}, nil
}

// ChainID returns the chain the provider is currently on
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	res, err := c.provider.Request(ctx, custody.RequestArguments{Method: "eth_chainId"})
	if err != nil {
		return 0, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return ParseChainID(res)
}

// SwitchChain asks the provider to move to chainID via wallet_switchEthereumChain
func (c *Client) SwitchChain(ctx context.Context, chainID uint64) error {
	_, err := c.provider.Request(ctx, custody.RequestArguments{
		Method: "wallet_switchEthereumChain",
		Params: []any{map[string]string{"chainId": hexutil.EncodeUint64(chainID)}},
	})
	if err != nil {
		return fmt.Errorf("failed to switch to chain %d: %w", chainID, err)
	}
	return nil
}

// ParseChainID decodes a chain id as providers report it: a hex quantity in
// eth_chainId results and chainChanged events, or a number from loosely typed
// providers.
func ParseChainID(v any) (uint64, error) {
	switch id := v.(type) {
	case string:
		n, err := hexutil.DecodeUint64(id)
		if err != nil {
			return 0, fmt.Errorf("failed to decode chain ID %q: %w", id, err)
		}
		return n, nil
	case uint64:
		return id, nil
	case float64:
		if id < 0 {
			return 0, fmt.Errorf("negative chain ID %v", id)
		}
		return uint64(id), nil
	default:
		return 0, fmt.Errorf("unexpected chain ID type %T", v)
	}
}
