package wallet

import (
	"context"

	"github.com/better-wallet/embedded-connect/internal/crypto"
	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/logger"
	"github.com/better-wallet/embedded-connect/internal/recovery"
	"github.com/better-wallet/embedded-connect/internal/session"
	"github.com/better-wallet/embedded-connect/internal/validation"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// Operation names used in logs and metrics.
const (
	OpCreate      = "create"
	OpSetActive   = "setActive"
	OpSetRecovery = "setRecovery"
	OpExport      = "exportPrivateKey"
	OpDisconnect  = "disconnect"
	OpReconnect   = "autoReconnect"
)

// CreateOptions configures Create. Zero values fall back to configuration.
type CreateOptions struct {
	AccountType types.AccountType
	// ChainID is the smart account's target chain.
	ChainID        uint64
	RecoveryMethod types.RecoveryMethod
	Password       string
	PasskeyID      string
	OTPCode        string

	OnSuccess func(*ConnectedWallet)
	OnError   func(error)
}

// SetActiveOptions configures SetActive. Any of RecoveryMethod, Password,
// OTPCode, or a PasskeyID for a non-passkey account counts as explicit
// recovery input.
type SetActiveOptions struct {
	Address        string
	ChainID        uint64
	RecoveryMethod types.RecoveryMethod
	Password       string
	PasskeyID      string
	OTPCode        string

	OnSuccess func(*ConnectedWallet)
	OnError   func(error)
}

// SetRecoveryOptions describes a recovery method rotation.
type SetRecoveryOptions struct {
	Previous recovery.Intent
	Next     recovery.Intent
}

// Create provisions a new embedded account, unlocks it and makes it active.
// It always ends in connected or error.
func (m *Machine) Create(ctx context.Context, opts CreateOptions) (*ConnectedWallet, error) {
	ctx = m.opContext(ctx, OpCreate)
	if err := m.lock(ctx); err != nil {
		return nil, m.reportOnly(ctx, OpCreate, err, opts.OnError)
	}
	defer m.unlock()

	m.transition(ctx, creatingState())

	req := m.createRequest(opts)
	params, err := m.builder.Build(ctx, recovery.Intent{
		Method:    opts.RecoveryMethod,
		PasskeyID: opts.PasskeyID,
		Password:  opts.Password,
		OTPCode:   opts.OTPCode,
	})
	if err != nil {
		return nil, m.fail(ctx, OpCreate, err, nil, opts.OnError)
	}
	req.Recovery = params

	acc, err := m.backend.Create(ctx, req)
	if err != nil {
		return nil, m.fail(ctx, OpCreate, apperrors.Wrap(err, "Failed to create wallet"), nil, opts.OnError)
	}

	if err := m.session.Refresh(ctx, session.RefreshOptions{Silent: true}); err != nil {
		logger.Warn(ctx, "account refresh after create failed", "error", err)
	}

	signer, err := m.strategy.InitProvider(ctx, m.backend, *acc, req.ChainID)
	if err != nil {
		return nil, m.fail(ctx, OpCreate, err, nil, opts.OnError)
	}

	w := newConnectedWallet(*acc, m.indexOf(acc.ID), m.chainIDFor(*acc, req.ChainID), signer)
	if !m.transition(ctx, connectedState(w)) {
		return w, nil
	}
	m.watchProvider(signer)
	m.session.SetActiveEmbeddedAddress(w.Address)

	logger.Info(ctx, "embedded wallet created", "address", w.Address, "account_type", acc.AccountType, "recovery_method", params.Method)
	if opts.OnSuccess != nil {
		opts.OnSuccess(w)
	}
	return w, nil
}

// createRequest resolves account type and chain. EOAs and Solana accounts
// carry no chain id; smart accounts default to the strategy's chain.
func (m *Machine) createRequest(opts CreateOptions) custody.CreateRequest {
	req := custody.CreateRequest{ChainFamily: m.family, AccountType: types.AccountTypeEOA}
	if m.family != types.ChainFamilyEVM {
		return req
	}

	accountType := opts.AccountType
	if accountType == "" && m.cfg != nil {
		accountType = m.cfg.DefaultAccountType
	}
	if accountType == "" {
		accountType = types.AccountTypeSmartAccount
	}
	req.AccountType = accountType

	if accountType == types.AccountTypeSmartAccount {
		req.ChainID = opts.ChainID
		if req.ChainID == 0 {
			req.ChainID, _ = m.strategy.ChainID()
		}
	}
	return req
}

// SetActive activates an existing account. Calls are served one at a time;
// a second call waits for the first to settle.
func (m *Machine) SetActive(ctx context.Context, opts SetActiveOptions) (*ConnectedWallet, error) {
	ctx = m.opContext(ctx, OpSetActive)
	if err := m.lock(ctx); err != nil {
		return nil, m.reportOnly(ctx, OpSetActive, err, opts.OnError)
	}
	defer m.unlock()

	before := m.current()
	prior := before.ActiveWallet

	if err := validation.ValidateAddress(m.family, opts.Address); err != nil {
		return nil, m.fail(ctx, OpSetActive, apperrors.NewWithDetail(apperrors.ErrCodeValidation, "Invalid wallet address", err.Error()), prior, opts.OnError)
	}
	acc, index, ok := m.findAccount(opts.Address)
	if !ok {
		return nil, m.fail(ctx, OpSetActive, apperrors.WalletNotFound(opts.Address), prior, opts.OnError)
	}

	chainID := m.chainIDFor(acc, opts.ChainID)
	stub := newConnectedWallet(acc, index, chainID, nil)
	m.transition(ctx, connectingState(stub))

	if !m.unlocked(ctx, before, acc) {
		params, proceed, err := m.resolveRecovery(ctx, acc, opts)
		if err != nil {
			if apperrors.IsOTPRequired(err) {
				logger.Info(ctx, "wallet needs a one-time code", "address", stub.Address)
				m.transition(ctx, needsRecoveryState(stub))
				return nil, err
			}
			return nil, m.fail(ctx, OpSetActive, err, stub, opts.OnError)
		}
		if !proceed {
			logger.Info(ctx, "wallet needs recovery input", "address", stub.Address, "recovery_method", acc.RecoveryMethod)
			m.transition(ctx, needsRecoveryState(stub))
			return stub, nil
		}

		if err := m.backend.Recover(ctx, acc.ID, params); err != nil {
			return nil, m.fail(ctx, OpSetActive, apperrors.Wrap(err, "Failed to recover wallet"), stub, opts.OnError)
		}
	}

	signer, err := m.strategy.InitProvider(ctx, m.backend, acc, chainID)
	if err != nil {
		return nil, m.fail(ctx, OpSetActive, err, stub, opts.OnError)
	}

	w := stub.withSigner(signer)
	if !m.transition(ctx, connectedState(w)) {
		return w, nil
	}
	m.watchProvider(signer)
	m.session.SetActiveEmbeddedAddress(w.Address)

	logger.Info(ctx, "embedded wallet connected", "address", w.Address, "wallet_index", w.WalletIndex)
	if opts.OnSuccess != nil {
		opts.OnSuccess(w)
	}
	return w, nil
}

// unlocked reports whether acc needs no recovery: the machine was connected
// to it before this operation began, or the backend reports it as its active
// account.
func (m *Machine) unlocked(ctx context.Context, prior State, acc types.Account) bool {
	if prior.Status == types.StatusConnected && prior.ActiveWallet != nil && prior.ActiveWallet.ID == acc.ID {
		return true
	}

	active, err := m.backend.Get(ctx)
	if err != nil {
		logger.Debug(ctx, "active account lookup failed", "error", err)
		return false
	}
	return active != nil && active.ID == acc.ID
}

// resolveRecovery returns proceed=false when the account is password
// protected and no password was supplied.
func (m *Machine) resolveRecovery(ctx context.Context, acc types.Account, opts SetActiveOptions) (types.RecoveryParams, bool, error) {
	explicit := opts.RecoveryMethod != types.RecoveryMethodNone ||
		opts.Password != "" ||
		opts.OTPCode != "" ||
		(opts.PasskeyID != "" && acc.RecoveryMethod != types.RecoveryMethodPasskey)

	if explicit {
		method := opts.RecoveryMethod
		if method == types.RecoveryMethodNone {
			switch {
			case opts.Password != "":
				method = types.RecoveryMethodPassword
			case opts.PasskeyID != "":
				method = types.RecoveryMethodPasskey
			default:
				method = types.RecoveryMethodAutomatic
			}
		}
		params, err := m.builder.Build(ctx, recovery.Intent{
			Method:    method,
			PasskeyID: opts.PasskeyID,
			Password:  opts.Password,
			OTPCode:   opts.OTPCode,
		})
		return params, err == nil, err
	}

	switch acc.RecoveryMethod {
	case types.RecoveryMethodPasskey:
		passkeyID := opts.PasskeyID
		if passkeyID == "" {
			passkeyID = acc.PasskeyID
		}
		return types.PasskeyParams(passkeyID), true, nil
	case types.RecoveryMethodPassword:
		return types.RecoveryParams{}, false, nil
	default:
		params, err := m.builder.Build(ctx, recovery.Intent{Method: types.RecoveryMethodAutomatic})
		return params, err == nil, err
	}
}

// SetRecovery rotates the active account's recovery method and refreshes the
// account cache. The machine's status is left unchanged.
func (m *Machine) SetRecovery(ctx context.Context, opts SetRecoveryOptions) error {
	ctx = m.opContext(ctx, OpSetRecovery)
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	previous, err := m.builder.Build(ctx, opts.Previous)
	if err != nil {
		return m.reportOnly(ctx, OpSetRecovery, err, nil)
	}
	next, err := m.builder.Build(ctx, opts.Next)
	if err != nil {
		return m.reportOnly(ctx, OpSetRecovery, err, nil)
	}

	if err := m.backend.SetRecoveryMethod(ctx, previous, next); err != nil {
		return m.reportOnly(ctx, OpSetRecovery, apperrors.Wrap(err, "Failed to set recovery method"), nil)
	}
	if err := m.session.Refresh(ctx, session.RefreshOptions{Silent: true}); err != nil {
		return m.reportOnly(ctx, OpSetRecovery, apperrors.Wrap(err, "Failed to refresh accounts"), nil)
	}

	cur := m.current()
	if cur.Status == types.StatusConnected && cur.ActiveWallet != nil {
		if acc, index, ok := m.findAccount(cur.ActiveWallet.Address); ok {
			m.transition(ctx, connectedState(newConnectedWallet(acc, index, cur.ActiveWallet.ChainID, cur.Provider)))
		}
	}

	logger.Info(ctx, "recovery method updated", "from", previous.Method, "to", next.Method)
	return nil
}

// ExportPrivateKey returns the active account's key from the backend. While
// connected the key must control the active wallet, or its owner for smart
// accounts.
func (m *Machine) ExportPrivateKey(ctx context.Context) (string, error) {
	ctx = m.opContext(ctx, OpExport)
	key, err := m.backend.ExportPrivateKey(ctx)
	if err != nil {
		return "", m.reportOnly(ctx, OpExport, apperrors.Wrap(err, "Failed to export private key"), nil)
	}
	if err := m.verifyExport(key); err != nil {
		return "", m.reportOnly(ctx, OpExport, err, nil)
	}
	return key, nil
}

func (m *Machine) verifyExport(key string) error {
	cur := m.current()
	if cur.Status != types.StatusConnected || cur.ActiveWallet == nil {
		return nil
	}
	want := cur.ActiveWallet.Address
	if cur.ActiveWallet.OwnerAddress != "" {
		want = cur.ActiveWallet.OwnerAddress
	}

	got, err := crypto.KeyAddress(m.family, key)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeWallet, "Exported key is malformed")
	}
	if !validation.SameAddress(m.family, got, want) {
		return apperrors.New(apperrors.ErrCodeWallet, "Exported key does not belong to the active wallet")
	}
	return nil
}

// Disconnect tears down the strategy's connection and clears the session.
// It does not re-arm auto-reconnect.
func (m *Machine) Disconnect(ctx context.Context) error {
	ctx = m.opContext(ctx, OpDisconnect)
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	if err := m.strategy.Disconnect(ctx, m.backend); err != nil {
		return m.reportOnly(ctx, OpDisconnect, err, nil)
	}

	m.mu.Lock()
	m.autoAttempted = true
	m.mu.Unlock()

	m.unwatchProvider()
	m.session.Reset()
	m.transition(ctx, disconnectedState())
	logger.Info(ctx, "wallet disconnected")
	return nil
}

func (m *Machine) findAccount(address string) (types.Account, int, bool) {
	for i, acc := range m.session.AccountsFor(m.family) {
		if validation.SameAddress(m.family, acc.Address, address) {
			return acc, i, true
		}
	}
	return types.Account{}, 0, false
}

func (m *Machine) indexOf(accountID string) int {
	for i, acc := range m.session.AccountsFor(m.family) {
		if acc.ID == accountID {
			return i
		}
	}
	return 0
}

// fail moves the machine to error, keeping prior when set, and reports err.
func (m *Machine) fail(ctx context.Context, op string, err error, prior *ConnectedWallet, onError func(error)) error {
	err = apperrors.Wrap(err, "Wallet operation failed")
	m.transition(ctx, errorState(prior, err))
	return m.reportOnly(ctx, op, err, onError)
}

// reportOnly logs and counts err without touching state.
func (m *Machine) reportOnly(ctx context.Context, op string, err error, onError func(error)) error {
	err = apperrors.Wrap(err, "Wallet operation failed")
	code := apperrors.ErrCodeWallet
	if appErr, ok := apperrors.IsAppError(err); ok {
		code = appErr.Code
	}
	m.metrics.Failure(string(m.family), op, code)
	logger.Error(ctx, "wallet operation failed", "error", err, "code", code)
	if onError != nil {
		onError(err)
	}
	return err
}
