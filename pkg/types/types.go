package types

import "strings"

// ChainFamily identifies the address format and signing capability of an account.
type ChainFamily string

// ChainFamily constants
const (
	ChainFamilyEVM ChainFamily = "evm"
	ChainFamilySVM ChainFamily = "svm"
)

// ParseChainFamily parses a chain family tag, accepting the common aliases.
func ParseChainFamily(s string) (ChainFamily, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "evm", "ethereum", "eth":
		return ChainFamilyEVM, true
	case "svm", "solana", "sol":
		return ChainFamilySVM, true
	}
	return "", false
}

// RecoveryMethod is the mechanism used to re-authorize an embedded key.
type RecoveryMethod string

// RecoveryMethod constants. RecoveryMethodNone means the backend never recorded one.
const (
	RecoveryMethodNone      RecoveryMethod = ""
	RecoveryMethodPassword  RecoveryMethod = "password"
	RecoveryMethodPasskey   RecoveryMethod = "passkey"
	RecoveryMethodAutomatic RecoveryMethod = "automatic"
)

// AccountType constants
type AccountType string

const (
	AccountTypeEOA          AccountType = "eoa"
	AccountTypeSmartAccount AccountType = "smart_account"
)

// ParseAccountType parses an account type tag.
func ParseAccountType(s string) (AccountType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eoa", "externally_owned":
		return AccountTypeEOA, true
	case "smart_account", "smart", "smartaccount":
		return AccountTypeSmartAccount, true
	}
	return "", false
}

// Account is a server-custodied key record. Only RecoveryMethod changes after creation.
type Account struct {
	ID                 string         `json:"id"`
	Address            string         `json:"address"`
	ChainFamily        ChainFamily    `json:"chain_family"`
	ChainID            uint64         `json:"chain_id,omitempty"`
	AccountType        AccountType    `json:"account_type,omitempty"`
	OwnerAddress       string         `json:"owner_address,omitempty"`
	ImplementationType string         `json:"implementation_type,omitempty"`
	RecoveryMethod     RecoveryMethod `json:"recovery_method,omitempty"`
	PasskeyID          string         `json:"passkey_id,omitempty"`
}

// User is the authenticated principal the accounts belong to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// EmbeddedState is the custody backend's view of the embedded signer lifecycle.
type EmbeddedState int

const (
	EmbeddedStateNone EmbeddedState = iota
	EmbeddedStateUnauthenticated
	EmbeddedStateSignerNotConfigured
	EmbeddedStateCreatingAccount
	EmbeddedStateReady
)

func (s EmbeddedState) String() string {
	switch s {
	case EmbeddedStateUnauthenticated:
		return "UNAUTHENTICATED"
	case EmbeddedStateSignerNotConfigured:
		return "EMBEDDED_SIGNER_NOT_CONFIGURED"
	case EmbeddedStateCreatingAccount:
		return "CREATING_ACCOUNT"
	case EmbeddedStateReady:
		return "READY"
	default:
		return "NONE"
	}
}

// RecoveryParams is the payload the custody backend expects for create/recover.
// Exactly the fields belonging to Method are set. Never persisted.
type RecoveryParams struct {
	Method            RecoveryMethod `json:"recovery_method"`
	Password          string         `json:"password,omitempty"`
	PasskeyID         string         `json:"passkey_id,omitempty"`
	EncryptionSession string         `json:"encryption_session,omitempty"`
}

// PasswordParams builds password recovery params.
func PasswordParams(password string) RecoveryParams {
	return RecoveryParams{Method: RecoveryMethodPassword, Password: password}
}

// PasskeyParams builds passkey recovery params. An empty id lets the platform pick.
func PasskeyParams(passkeyID string) RecoveryParams {
	return RecoveryParams{Method: RecoveryMethodPasskey, PasskeyID: passkeyID}
}

// AutomaticParams builds automatic recovery params.
func AutomaticParams(session string) RecoveryParams {
	return RecoveryParams{Method: RecoveryMethodAutomatic, EncryptionSession: session}
}

// Status is the discriminant of the wallet state machine.
type Status string

// Status constants
const (
	StatusDisconnected    Status = "disconnected"
	StatusFetchingWallets Status = "fetching-wallets"
	StatusConnecting      Status = "connecting"
	StatusCreating        Status = "creating"
	StatusReconnecting    Status = "reconnecting"
	StatusNeedsRecovery   Status = "needs-recovery"
	StatusConnected       Status = "connected"
	StatusError           Status = "error"
)
