// Package keys generates local key material for test doubles.
package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// GenerateEthereumKey generates a new Ethereum private key
func GenerateEthereumKey() (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return privateKey, nil
}

// EthereumAddress derives the address of key.
func EthereumAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ExportEthereumKey returns the 0x-prefixed hex encoding of key.
func ExportEthereumKey(key *ecdsa.PrivateKey) string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}

// SolanaKey is an ed25519 key pair addressed by its base58 public key.
type SolanaKey struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSolanaKey generates a new ed25519 key pair.
func GenerateSolanaKey() (*SolanaKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return &SolanaKey{Public: pub, Private: priv}, nil
}

// Address returns the base58 public key.
func (k *SolanaKey) Address() string {
	return base58.Encode(k.Public)
}

// Export returns the base58 64-byte secret key.
func (k *SolanaKey) Export() string {
	return base58.Encode(k.Private)
}

// Sign signs message with the private key.
func (k *SolanaKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}
