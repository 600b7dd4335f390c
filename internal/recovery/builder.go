// Package recovery turns a recovery intent into the payload the custody
// backend expects, resolving encryption sessions and one-time codes for
// automatic recovery.
package recovery

import (
	"context"
	"net/http"
	"time"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/logger"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// Intent is a caller's high-level recovery request. An empty Method means automatic.
type Intent struct {
	Method    types.RecoveryMethod
	PasskeyID string
	Password  string
	OTPCode   string
}

// Env exposes the ambient auth context. Both calls are made on every
// automatic build; results are never cached.
type Env interface {
	AccessToken(ctx context.Context) (string, error)
	UserID(ctx context.Context) (string, error)
}

// Builder builds RecoveryParams.
type Builder struct {
	cfg      *config.WalletConfig
	env      Env
	sessions *SessionResolver
}

// NewBuilder creates a builder. httpClient may be nil.
func NewBuilder(cfg *config.WalletConfig, env Env, httpClient *http.Client) *Builder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	var resolver *SessionResolver
	if cfg != nil {
		resolver = NewSessionResolver(cfg.EncryptionSession, cfg.RecoverySessionURL, httpClient)
	}
	return &Builder{cfg: cfg, env: env, sessions: resolver}
}

// Build returns the params for intent. PASSWORD and PASSKEY never touch the
// network. AUTOMATIC fails with an authentication error before any request
// when no token or user id is available, and may return the OTP-required
// signal from the session endpoint.
func (b *Builder) Build(ctx context.Context, intent Intent) (types.RecoveryParams, error) {
	method := intent.Method
	if method == types.RecoveryMethodNone {
		method = types.RecoveryMethodAutomatic
	}

	switch method {
	case types.RecoveryMethodPassword:
		if intent.Password == "" {
			return types.RecoveryParams{}, apperrors.Validation("Password is required for password recovery")
		}
		return types.PasswordParams(intent.Password), nil

	case types.RecoveryMethodPasskey:
		return types.PasskeyParams(intent.PasskeyID), nil

	case types.RecoveryMethodAutomatic:
		return b.buildAutomatic(ctx, intent.OTPCode)

	default:
		return types.RecoveryParams{}, apperrors.Unsupported("recovery method: " + string(method))
	}
}

func (b *Builder) buildAutomatic(ctx context.Context, otpCode string) (types.RecoveryParams, error) {
	if b.cfg == nil {
		return types.RecoveryParams{}, apperrors.Configuration("Wallet config is required for automatic recovery")
	}
	if b.env == nil {
		return types.RecoveryParams{}, apperrors.Authentication("No authentication context for automatic recovery")
	}

	token, err := b.env.AccessToken(ctx)
	if err != nil {
		return types.RecoveryParams{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeAuthentication,
			Message: "Failed to resolve access token",
			Cause:   err,
		}
	}
	if token == "" {
		return types.RecoveryParams{}, apperrors.Authentication("Access token is required for automatic recovery")
	}

	userID, err := b.env.UserID(ctx)
	if err != nil || userID == "" {
		return types.RecoveryParams{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeAuthentication,
			Message: "User id is required for automatic recovery",
			Cause:   err,
		}
	}

	session, err := b.sessions.Resolve(ctx, token, userID, otpCode)
	if err != nil {
		if apperrors.IsOTPRequired(err) {
			logger.Info(ctx, "encryption session requires a one-time code", "user_id", userID)
		}
		return types.RecoveryParams{}, err
	}

	return types.AutomaticParams(session), nil
}
