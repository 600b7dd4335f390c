// Package recoveryflow maps a wallet's recovery method to the procedure that
// unlocks it, including the one-time-code branch of automatic recovery.
package recoveryflow

import (
	"context"
	"sync"

	"github.com/better-wallet/embedded-connect/internal/logger"
	"github.com/better-wallet/embedded-connect/internal/recovery"
	"github.com/better-wallet/embedded-connect/internal/wallet"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// Route is a navigation target for the host UI.
type Route string

const (
	RoutePassword  Route = "recover-password"
	RoutePasskey   Route = "recover-passkey"
	RouteOTP       Route = "recover-otp"
	RouteConnected Route = "connected"
)

// FlowContext bundles what a procedure may do. Navigate and SetError may be nil.
type FlowContext struct {
	SetActive func(ctx context.Context, opts wallet.SetActiveOptions) (*wallet.ConnectedWallet, error)
	Navigate  func(Route)
	SetError  func(message string)

	// OTP and Env are only used by automatic recovery.
	OTP recovery.OTPRequester
	Env recovery.Env

	state *flowState
}

// Procedure is one recovery entry point.
type Procedure func(ctx context.Context, w *wallet.ConnectedWallet, fc *FlowContext) error

// flowState is what a procedure leaves behind for the follow-up submit call.
type flowState struct {
	mu        sync.Mutex
	pending   *wallet.ConnectedWallet
	method    types.RecoveryMethod
	needsOTP  bool
	challenge *recovery.OTPChallenge
}

func (s *flowState) await(w *wallet.ConnectedWallet, method types.RecoveryMethod, challenge *recovery.OTPChallenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = w
	s.method = method
	s.challenge = challenge
	s.needsOTP = challenge != nil
}

// take returns the pending wallet if it awaits method, and clears the state.
func (s *flowState) take(method types.RecoveryMethod) (*wallet.ConnectedWallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.method != method {
		return nil, false
	}
	w := s.pending
	s.pending, s.method, s.needsOTP, s.challenge = nil, types.RecoveryMethodNone, false, nil
	return w, true
}

func (fc *FlowContext) pending() *flowState {
	if fc.state == nil {
		fc.state = &flowState{}
	}
	return fc.state
}

func (fc *FlowContext) navigate(r Route) {
	if fc.Navigate != nil {
		fc.Navigate(r)
	}
}

func (fc *FlowContext) fail(err error) error {
	if fc.SetError != nil {
		fc.SetError(apperrors.Message(err))
	}
	return err
}

func (fc *FlowContext) activate(ctx context.Context, opts wallet.SetActiveOptions) error {
	if fc.SetActive == nil {
		return apperrors.Configuration("Recovery flow has no wallet to activate")
	}
	_, err := fc.SetActive(ctx, opts)
	return err
}

// PasswordFlow sends the user to the password prompt. SubmitPassword finishes it.
func PasswordFlow(ctx context.Context, w *wallet.ConnectedWallet, fc *FlowContext) error {
	fc.pending().await(w, types.RecoveryMethodPassword, nil)
	fc.navigate(RoutePassword)
	return nil
}

// PasskeyFlow unlocks with the platform passkey picker.
func PasskeyFlow(ctx context.Context, w *wallet.ConnectedWallet, fc *FlowContext) error {
	fc.navigate(RoutePasskey)
	err := fc.activate(ctx, wallet.SetActiveOptions{
		Address:        w.Address,
		RecoveryMethod: types.RecoveryMethodPasskey,
	})
	if err != nil {
		return fc.fail(err)
	}
	fc.navigate(RouteConnected)
	return nil
}

// AutomaticFlow unlocks with an encryption session. When the backend asks for
// a one-time code it requests one and waits for SubmitOTP instead of failing.
func AutomaticFlow(ctx context.Context, w *wallet.ConnectedWallet, fc *FlowContext) error {
	err := fc.activate(ctx, wallet.SetActiveOptions{
		Address:        w.Address,
		RecoveryMethod: types.RecoveryMethodAutomatic,
	})
	if err == nil {
		fc.navigate(RouteConnected)
		return nil
	}
	if !apperrors.IsOTPRequired(err) {
		return fc.fail(err)
	}

	challenge, err := requestOTP(ctx, fc)
	if err != nil {
		return fc.fail(err)
	}
	logger.Info(ctx, "one-time code sent", "request_id", challenge.RequestID, "sent_to", challenge.SentTo)

	fc.pending().await(w, types.RecoveryMethodAutomatic, challenge)
	fc.navigate(RouteOTP)
	return nil
}

func requestOTP(ctx context.Context, fc *FlowContext) (*recovery.OTPChallenge, error) {
	if fc.OTP == nil {
		return nil, apperrors.Configuration("One-time code requests are not configured")
	}
	if fc.Env == nil {
		return nil, apperrors.Authentication("No authentication context to request a one-time code")
	}
	token, err := fc.Env.AccessToken(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "Failed to resolve access token")
	}
	userID, err := fc.Env.UserID(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "Failed to resolve user id")
	}
	return fc.OTP.RequestOTP(ctx, token, userID)
}

// Dispatcher routes a recovery method to its procedure and holds the state
// the procedures leave for the follow-up submit.
type Dispatcher struct {
	fc    FlowContext
	flows map[types.RecoveryMethod]Procedure
}

// New creates a dispatcher with the password, passkey and automatic flows.
func New(fc FlowContext) *Dispatcher {
	fc.state = &flowState{}
	return &Dispatcher{
		fc: fc,
		flows: map[types.RecoveryMethod]Procedure{
			types.RecoveryMethodPassword:  PasswordFlow,
			types.RecoveryMethodPasskey:   PasskeyFlow,
			types.RecoveryMethodAutomatic: AutomaticFlow,
		},
	}
}

// Procedure returns the entry procedure for method. An unset method is automatic.
func (d *Dispatcher) Procedure(method types.RecoveryMethod) (Procedure, bool) {
	if method == types.RecoveryMethodNone {
		method = types.RecoveryMethodAutomatic
	}
	p, ok := d.flows[method]
	return p, ok
}

// Dispatch runs the procedure for method against w. A wallet that already
// has its signer goes straight to the connected route.
func (d *Dispatcher) Dispatch(ctx context.Context, method types.RecoveryMethod, w *wallet.ConnectedWallet) error {
	if w == nil {
		return d.fc.fail(apperrors.New(apperrors.ErrCodeWalletNotFound, "No wallet to recover"))
	}
	p, ok := d.Procedure(method)
	if !ok {
		return d.fc.fail(apperrors.Unsupported("recovery method: " + string(method)))
	}
	if w.Ready() {
		d.fc.navigate(RouteConnected)
		return nil
	}
	return p(logger.WithOperation(ctx, "recover:"+string(method)), w, &d.fc)
}

// NeedsOTP reports whether automatic recovery is waiting for a one-time code.
func (d *Dispatcher) NeedsOTP() bool {
	d.fc.state.mu.Lock()
	defer d.fc.state.mu.Unlock()
	return d.fc.state.needsOTP
}

// Challenge returns the outstanding one-time code challenge, or nil.
func (d *Dispatcher) Challenge() *recovery.OTPChallenge {
	d.fc.state.mu.Lock()
	defer d.fc.state.mu.Unlock()
	return d.fc.state.challenge
}

// SubmitOTP retries automatic recovery with code. The retry happens once:
// whatever its outcome, the challenge is consumed.
func (d *Dispatcher) SubmitOTP(ctx context.Context, code string) error {
	if code == "" {
		return d.fc.fail(apperrors.Validation("One-time code is required"))
	}
	w, ok := d.fc.state.take(types.RecoveryMethodAutomatic)
	if !ok {
		return d.fc.fail(apperrors.Validation("No one-time code was requested"))
	}

	err := d.fc.activate(ctx, wallet.SetActiveOptions{
		Address:        w.Address,
		RecoveryMethod: types.RecoveryMethodAutomatic,
		OTPCode:        code,
	})
	if err != nil {
		return d.fc.fail(err)
	}
	d.fc.navigate(RouteConnected)
	return nil
}

// SubmitPassword finishes a password flow.
func (d *Dispatcher) SubmitPassword(ctx context.Context, password string) error {
	if password == "" {
		return d.fc.fail(apperrors.Validation("Password is required for password recovery"))
	}
	w, ok := d.fc.state.take(types.RecoveryMethodPassword)
	if !ok {
		return d.fc.fail(apperrors.Validation("No password recovery in progress"))
	}

	err := d.fc.activate(ctx, wallet.SetActiveOptions{
		Address:        w.Address,
		RecoveryMethod: types.RecoveryMethodPassword,
		Password:       password,
	})
	if err != nil {
		// Keep the prompt open for another attempt.
		d.fc.state.await(w, types.RecoveryMethodPassword, nil)
		return d.fc.fail(err)
	}
	d.fc.navigate(RouteConnected)
	return nil
}
