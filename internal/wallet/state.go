package wallet

import (
	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/validation"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// ConnectedWallet is an immutable view over an embedded account. A fresh view
// is built on every transition into connecting, reconnecting or connected.
type ConnectedWallet struct {
	ID                 string
	Address            string
	ChainFamily        types.ChainFamily
	ChainID            uint64 // zero for Solana and undeployed EOAs
	AccountType        types.AccountType
	OwnerAddress       string
	ImplementationType string
	RecoveryMethod     types.RecoveryMethod
	WalletIndex        int

	signer *custody.Signer
}

func newConnectedWallet(acc types.Account, index int, chainID uint64, signer *custody.Signer) *ConnectedWallet {
	w := &ConnectedWallet{
		ID:                 acc.ID,
		Address:            validation.NormalizeAddress(acc.ChainFamily, acc.Address),
		ChainFamily:        acc.ChainFamily,
		AccountType:        acc.AccountType,
		OwnerAddress:       acc.OwnerAddress,
		ImplementationType: acc.ImplementationType,
		RecoveryMethod:     acc.RecoveryMethod,
		WalletIndex:        index,
		signer:             signer,
	}
	if acc.ChainFamily == types.ChainFamilyEVM {
		w.ChainID = chainID
	}
	return w
}

// GetProvider returns the wallet's signer. Until activation completes it
// fails with wallet_not_found "Provider not ready yet".
func (w *ConnectedWallet) GetProvider() (*custody.Signer, error) {
	if !w.Ready() {
		return nil, apperrors.New(apperrors.ErrCodeWalletNotFound, apperrors.ProviderNotReadyMessage)
	}
	return w.signer, nil
}

// Ready reports whether the wallet has a signer.
func (w *ConnectedWallet) Ready() bool {
	return w != nil && w.signer != nil
}

// withSigner returns a copy of w bound to signer.
func (w *ConnectedWallet) withSigner(signer *custody.Signer) *ConnectedWallet {
	cp := *w
	cp.signer = signer
	return &cp
}

// State is the machine's discriminated union. ActiveWallet is set for
// connecting, reconnecting, needs-recovery, connected and for error when a
// wallet was being activated. Provider is set only for connected.
type State struct {
	Status       types.Status
	ActiveWallet *ConnectedWallet
	Provider     *custody.Signer
	Error        string
}

func disconnectedState() State {
	return State{Status: types.StatusDisconnected}
}

func creatingState() State {
	return State{Status: types.StatusCreating}
}

func connectingState(stub *ConnectedWallet) State {
	return State{Status: types.StatusConnecting, ActiveWallet: stub}
}

func reconnectingState(stub *ConnectedWallet) State {
	return State{Status: types.StatusReconnecting, ActiveWallet: stub}
}

func needsRecoveryState(stub *ConnectedWallet) State {
	return State{Status: types.StatusNeedsRecovery, ActiveWallet: stub}
}

func connectedState(w *ConnectedWallet) State {
	return State{Status: types.StatusConnected, ActiveWallet: w, Provider: w.signer}
}

// errorState keeps prior when an activation failed; prior is nil for create.
func errorState(prior *ConnectedWallet, err error) State {
	s := State{Status: types.StatusError, Error: apperrors.Message(err)}
	if prior != nil {
		s.ActiveWallet = prior.withSigner(nil)
	}
	return s
}
