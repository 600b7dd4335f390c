// Package crypto derives wallet addresses from exported key material so an
// export can be checked against the wallet it was requested for.
package crypto

import (
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/better-wallet/embedded-connect/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// EthereumAddressFromKey derives the address of a hex secp256k1 private key.
// The 0x prefix is optional.
func EthereumAddressFromKey(exported string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(exported), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid Ethereum private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// SolanaAddressFromKey derives the base58 address of a base58 64-byte ed25519
// secret key. The public half embedded in the secret must match its seed.
func SolanaAddressFromKey(exported string) (string, error) {
	raw, err := base58.Decode(strings.TrimSpace(exported))
	if err != nil {
		return "", fmt.Errorf("invalid Solana secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid Solana secret key length: %d", len(raw))
	}

	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]).Public().(ed25519.PublicKey)
	if subtle.ConstantTimeCompare(derived, raw[ed25519.SeedSize:]) != 1 {
		return "", fmt.Errorf("invalid Solana secret key: public half does not match seed")
	}
	return base58.Encode(derived), nil
}

// KeyAddress returns the address exported controls in family.
func KeyAddress(family types.ChainFamily, exported string) (string, error) {
	switch family {
	case types.ChainFamilyEVM:
		addr, err := EthereumAddressFromKey(exported)
		if err != nil {
			return "", err
		}
		return addr.Hex(), nil
	case types.ChainFamilySVM:
		return SolanaAddressFromKey(exported)
	default:
		return "", fmt.Errorf("unknown chain family: %q", family)
	}
}
