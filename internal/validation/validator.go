package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/better-wallet/embedded-connect/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// EthereumAddressPattern is the regex pattern for Ethereum addresses
var EthereumAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// solanaPublicKeyLen is the decoded length of an ed25519 public key.
const solanaPublicKeyLen = 32

// ValidateEthereumAddress validates an Ethereum address format
func ValidateEthereumAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !EthereumAddressPattern.MatchString(address) {
		return fmt.Errorf("invalid Ethereum address format: must be 0x followed by 40 hex characters")
	}

	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid Ethereum address")
	}

	return nil
}

// ValidateSolanaAddress validates a base58-encoded Solana public key.
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}
	if len(raw) != solanaPublicKeyLen {
		return fmt.Errorf("invalid Solana address length: expected %d bytes, got %d", solanaPublicKeyLen, len(raw))
	}

	return nil
}

// ValidateAddress validates an address for the given chain family.
func ValidateAddress(family types.ChainFamily, address string) error {
	switch family {
	case types.ChainFamilyEVM:
		return ValidateEthereumAddress(address)
	case types.ChainFamilySVM:
		return ValidateSolanaAddress(address)
	default:
		return fmt.Errorf("unknown chain family: %q", family)
	}
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID uint64) error {
	if chainID == 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	return nil
}

// ChecksumAddress returns the EIP-55 form of an EVM address.
func ChecksumAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// NormalizeAddress returns the canonical display form. EVM addresses are
// checksummed; Solana addresses are case-sensitive and returned unchanged.
func NormalizeAddress(family types.ChainFamily, address string) string {
	address = strings.TrimSpace(address)
	if family == types.ChainFamilyEVM && common.IsHexAddress(address) {
		return ChecksumAddress(address)
	}
	return address
}

// SameAddress compares addresses the way the chain family defines identity:
// case-insensitive for EVM, exact for Solana.
func SameAddress(family types.ChainFamily, a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if family == types.ChainFamilyEVM {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
