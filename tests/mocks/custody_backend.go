// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/pkg/types"
	"github.com/better-wallet/embedded-connect/tests/keys"
	"github.com/google/uuid"
)

// MockBackend is an in-memory custody backend with real keys.
type MockBackend struct {
	mu sync.Mutex

	accounts  []types.Account
	evmKeys   map[string]*ecdsa.PrivateKey
	solKeys   map[string]*keys.SolanaKey
	passwords map[string]string
	activeID  string
	state     types.EmbeddedState
	chainID   uint64

	// Call tracking
	CreateCalls      int
	RecoverCalls     int
	ListCalls        int
	GetCalls         int
	ProviderCalls    int
	SetRecoveryCalls int
	LogoutCalls      int
	LastRecover      types.RecoveryParams
	LastCreate       custody.CreateRequest
	LastProvider     custody.ProviderRequest

	// Failure injection
	CreateErr      error
	RecoverErr     error
	GetErr         error
	ListErr        error
	ProviderErr    error
	SetRecoveryErr error
	SwitchChainErr error

	// ReportChainID, when set, is what eth_chainId answers on new providers.
	ReportChainID uint64

	// RecoverGate, when set, blocks Recover until a value is received.
	RecoverGate chan struct{}
	// RecoverStarted, when set, receives the account id as Recover begins.
	RecoverStarted chan string
	// GetGate and GetStarted do the same for Get.
	GetGate    chan struct{}
	GetStarted chan struct{}
	// ExportOverride, when set, is returned by ExportPrivateKey.
	ExportOverride string

	getInFlight int

	provider *MockEthereumProvider
}

// NewMockBackend creates a backend with no accounts in READY state.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		evmKeys:   make(map[string]*ecdsa.PrivateKey),
		solKeys:   make(map[string]*keys.SolanaKey),
		passwords: make(map[string]string),
		state:     types.EmbeddedStateReady,
	}
}

// AddAccount seeds an account and returns it. password is stored for
// password-protected accounts.
func (m *MockBackend) AddAccount(family types.ChainFamily, method types.RecoveryMethod, password string) types.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.newAccountLocked(family, types.AccountTypeEOA, 0)
	acc.RecoveryMethod = method
	if method == types.RecoveryMethodPassword {
		m.passwords[acc.ID] = password
	}
	m.accounts = append(m.accounts, acc)
	return acc
}

func (m *MockBackend) newAccountLocked(family types.ChainFamily, accountType types.AccountType, chainID uint64) types.Account {
	acc := types.Account{
		ID:          uuid.New().String(),
		ChainFamily: family,
		ChainID:     chainID,
		AccountType: accountType,
	}
	switch family {
	case types.ChainFamilySVM:
		key, _ := keys.GenerateSolanaKey()
		acc.Address = key.Address()
		m.solKeys[acc.ID] = key
	default:
		key, _ := keys.GenerateEthereumKey()
		acc.Address = keys.EthereumAddress(key).Hex()
		m.evmKeys[acc.ID] = key
	}
	if accountType == types.AccountTypeSmartAccount {
		acc.OwnerAddress = acc.Address
		acc.ImplementationType = "upgradeable_v06"
	}
	return acc
}

// SetActiveOnBackend marks an account as already unlocked server-side.
func (m *MockBackend) SetActiveOnBackend(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = accountID
}

// SetEmbeddedState overrides the reported embedded state.
func (m *MockBackend) SetEmbeddedState(s types.EmbeddedState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// ActiveID returns the backend's active account id.
func (m *MockBackend) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// GetInFlight returns the number of Get calls that have not returned.
func (m *MockBackend) GetInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getInFlight
}

// Provider returns the last provider handed out.
func (m *MockBackend) Provider() *MockEthereumProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

func (m *MockBackend) List(ctx context.Context) ([]types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]types.Account, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}

func (m *MockBackend) Create(ctx context.Context, req custody.CreateRequest) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	m.LastCreate = req
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	acc := m.newAccountLocked(req.ChainFamily, req.AccountType, req.ChainID)
	acc.RecoveryMethod = req.Recovery.Method
	acc.PasskeyID = req.Recovery.PasskeyID
	if req.Recovery.Method == types.RecoveryMethodPassword {
		m.passwords[acc.ID] = req.Recovery.Password
	}
	m.accounts = append(m.accounts, acc)
	m.activeID = acc.ID
	return &acc, nil
}

func (m *MockBackend) Recover(ctx context.Context, accountID string, params types.RecoveryParams) error {
	if m.RecoverStarted != nil {
		m.RecoverStarted <- accountID
	}
	if m.RecoverGate != nil {
		select {
		case <-m.RecoverGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecoverCalls++
	m.LastRecover = params
	if m.RecoverErr != nil {
		return m.RecoverErr
	}

	acc, ok := m.findLocked(accountID)
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	switch params.Method {
	case types.RecoveryMethodPassword:
		if m.passwords[acc.ID] != params.Password {
			return fmt.Errorf("wrong recovery password")
		}
	case types.RecoveryMethodAutomatic:
		if params.EncryptionSession == "" {
			return fmt.Errorf("missing encryption session")
		}
	case types.RecoveryMethodPasskey:
	default:
		return fmt.Errorf("unknown recovery method %q", params.Method)
	}

	m.activeID = acc.ID
	return nil
}

func (m *MockBackend) Get(ctx context.Context) (*types.Account, error) {
	m.mu.Lock()
	m.getInFlight++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.getInFlight--
		m.mu.Unlock()
	}()

	if m.GetStarted != nil {
		m.GetStarted <- struct{}{}
	}
	if m.GetGate != nil {
		select {
		case <-m.GetGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	acc, ok := m.findLocked(m.activeID)
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (m *MockBackend) EthereumProvider(ctx context.Context, req custody.ProviderRequest) (custody.EthereumProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ProviderCalls++
	m.LastProvider = req
	if m.ProviderErr != nil {
		return nil, m.ProviderErr
	}
	acc, ok := m.findLocked(m.activeID)
	if !ok || acc.ChainFamily != types.ChainFamilyEVM {
		return nil, fmt.Errorf("no active ethereum account")
	}

	chainID := req.ChainID
	if chainID == 0 {
		chainID = m.chainID
	}
	m.provider = NewMockEthereumProvider(m.evmKeys[acc.ID], chainID)
	m.provider.SwitchErr = m.SwitchChainErr
	m.provider.ReportChainID = m.ReportChainID
	return m.provider, nil
}

func (m *MockBackend) SolanaSigner(ctx context.Context, account types.Account) (custody.SolanaSigner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ProviderCalls++
	if m.ProviderErr != nil {
		return nil, m.ProviderErr
	}
	key, ok := m.solKeys[account.ID]
	if !ok {
		return nil, fmt.Errorf("solana account %s not found", account.ID)
	}
	return &MockSolanaSigner{key: key}, nil
}

func (m *MockBackend) SetRecoveryMethod(ctx context.Context, previous, next types.RecoveryParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetRecoveryCalls++
	if m.SetRecoveryErr != nil {
		return m.SetRecoveryErr
	}
	for i := range m.accounts {
		if m.accounts[i].ID != m.activeID {
			continue
		}
		if previous.Method == types.RecoveryMethodPassword && m.passwords[m.activeID] != previous.Password {
			return fmt.Errorf("wrong recovery password")
		}
		m.accounts[i].RecoveryMethod = next.Method
		m.accounts[i].PasskeyID = next.PasskeyID
		if next.Method == types.RecoveryMethodPassword {
			m.passwords[m.activeID] = next.Password
		}
		return nil
	}
	return fmt.Errorf("no active account")
}

func (m *MockBackend) ExportPrivateKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ExportOverride != "" {
		return m.ExportOverride, nil
	}
	if key, ok := m.evmKeys[m.activeID]; ok {
		return keys.ExportEthereumKey(key), nil
	}
	if key, ok := m.solKeys[m.activeID]; ok {
		return key.Export(), nil
	}
	return "", fmt.Errorf("no active account")
}

func (m *MockBackend) EmbeddedState(ctx context.Context) (types.EmbeddedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MockBackend) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LogoutCalls++
	m.activeID = ""
	return nil
}

func (m *MockBackend) findLocked(id string) (types.Account, bool) {
	if id == "" {
		return types.Account{}, false
	}
	for _, acc := range m.accounts {
		if strings.EqualFold(acc.ID, id) {
			return acc, true
		}
	}
	return types.Account{}, false
}
