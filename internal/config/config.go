package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/better-wallet/embedded-connect/internal/validation"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// DevChainID is used when no EVM chain is configured. Polygon Amoy testnet.
const DevChainID uint64 = 80002

// Connection modes
const (
	ModeEmbedded = "embedded"
	ModeBridged  = "bridged"
)

// EncryptionSessionFunc resolves an automatic-recovery encryption session.
// otpCode is empty on the first attempt.
type EncryptionSessionFunc func(ctx context.Context, accessToken, userID, otpCode string) (string, error)

// SolanaConfig is present only when the application enables Solana wallets.
type SolanaConfig struct {
	Cluster string
	RPCURL  string
}

// WalletConfig is the process-wide, read-mostly wallet configuration.
// The core never mutates it after Load.
type WalletConfig struct {
	// Custody backend
	PublishableKey string

	// EVM
	ChainID   uint64 // 0 = not configured
	RPCURLs   map[uint64]string
	PolicyIDs map[uint64]string

	// Recovery
	RecoverySessionURL string
	RecoveryOTPURL     string
	OTPRequestsPerSec  int
	EncryptionSession  EncryptionSessionFunc

	// Defaults
	DefaultAccountType types.AccountType
	ConnectMode        string
	ChainFamily        types.ChainFamily

	Solana *SolanaConfig
}

// Load loads configuration from environment variables
func Load() (*WalletConfig, error) {
	rpcURLs, err := parseChainMap(getEnv("EVM_RPC_URLS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: EVM_RPC_URLS: %w", err)
	}
	policyIDs, err := parseChainMap(getEnv("EVM_POLICY_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: EVM_POLICY_IDS: %w", err)
	}

	accountType, ok := types.ParseAccountType(getEnv("ACCOUNT_TYPE", string(types.AccountTypeSmartAccount)))
	if !ok {
		return nil, fmt.Errorf("invalid configuration: ACCOUNT_TYPE must be 'eoa' or 'smart_account', got: %s", os.Getenv("ACCOUNT_TYPE"))
	}
	family, ok := types.ParseChainFamily(getEnv("CHAIN_FAMILY", string(types.ChainFamilyEVM)))
	if !ok {
		return nil, fmt.Errorf("invalid configuration: CHAIN_FAMILY must be 'evm' or 'svm', got: %s", os.Getenv("CHAIN_FAMILY"))
	}

	cfg := &WalletConfig{
		PublishableKey:     getEnv("CUSTODY_PUBLISHABLE_KEY", ""),
		ChainID:            getEnvUint("EVM_CHAIN_ID", 0),
		RPCURLs:            rpcURLs,
		PolicyIDs:          policyIDs,
		RecoverySessionURL: getEnv("RECOVERY_SESSION_URL", ""),
		RecoveryOTPURL:     getEnv("RECOVERY_OTP_URL", ""),
		OTPRequestsPerSec:  getEnvInt("RECOVERY_OTP_RPS", 1),
		DefaultAccountType: accountType,
		ConnectMode:        strings.ToLower(getEnv("CONNECT_MODE", ModeEmbedded)),
		ChainFamily:        family,
	}

	if cluster := getEnv("SOLANA_CLUSTER", ""); cluster != "" {
		cfg.Solana = &SolanaConfig{
			Cluster: cluster,
			RPCURL:  getEnv("SOLANA_RPC_URL", ""),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *WalletConfig) Validate() error {
	if c.PublishableKey == "" {
		return fmt.Errorf("CUSTODY_PUBLISHABLE_KEY is required")
	}

	if c.ConnectMode != ModeEmbedded && c.ConnectMode != ModeBridged {
		return fmt.Errorf("CONNECT_MODE must be 'embedded' or 'bridged', got: %s", c.ConnectMode)
	}

	if c.DefaultAccountType != types.AccountTypeEOA && c.DefaultAccountType != types.AccountTypeSmartAccount {
		return fmt.Errorf("ACCOUNT_TYPE must be 'eoa' or 'smart_account', got: %s", c.DefaultAccountType)
	}

	if c.ChainFamily == types.ChainFamilySVM {
		if c.Solana == nil {
			return fmt.Errorf("SOLANA_CLUSTER is required when CHAIN_FAMILY is 'svm'")
		}
		if c.ConnectMode == ModeBridged {
			return fmt.Errorf("CONNECT_MODE 'bridged' is only supported for CHAIN_FAMILY 'evm'")
		}
	}

	if c.OTPRequestsPerSec < 0 {
		return fmt.Errorf("RECOVERY_OTP_RPS cannot be negative")
	}

	return nil
}

// HasSolana reports whether Solana wallets are enabled.
func (c *WalletConfig) HasSolana() bool {
	return c != nil && c.Solana != nil
}

// RPCURL returns the RPC endpoint configured for a chain.
func (c *WalletConfig) RPCURL(chainID uint64) (string, bool) {
	url, ok := c.RPCURLs[chainID]
	return url, ok
}

// PolicyID returns the gas policy configured for a chain.
func (c *WalletConfig) PolicyID(chainID uint64) string {
	return c.PolicyIDs[chainID]
}

// ChainIDs returns the configured RPC chains in ascending order.
func (c *WalletConfig) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.RPCURLs))
	for id := range c.RPCURLs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// parseChainMap parses "1=https://a,137=https://b".
func parseChainMap(raw string) (map[uint64]string, error) {
	out := make(map[uint64]string)
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("entry %q must be chainId=value", pair)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q has invalid chain id", pair)
		}
		if err := validation.ValidateChainID(id); err != nil {
			return nil, fmt.Errorf("entry %q: %w", pair, err)
		}
		out[id] = strings.TrimSpace(value)
	}

	return out, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvUint gets an unsigned integer environment variable with a default value
func getEnvUint(key string, defaultValue uint64) uint64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
