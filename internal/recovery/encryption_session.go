package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/better-wallet/embedded-connect/internal/config"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
)

// otpRequiredCode is the structured error the session endpoint returns when
// the user must confirm with a one-time code.
const otpRequiredCode = "OTP_REQUIRED"

type sessionRequest struct {
	UserID  string `json:"user_id"`
	OTPCode string `json:"otp_code,omitempty"`
}

type sessionResponse struct {
	Session string `json:"session"`
	Error   string `json:"error,omitempty"`
}

// SessionResolver obtains encryption sessions from a caller callback or,
// when none is configured, from an HTTP endpoint.
type SessionResolver struct {
	fn       config.EncryptionSessionFunc
	endpoint string
	client   *http.Client
}

// NewSessionResolver creates a resolver. fn takes priority over endpoint.
func NewSessionResolver(fn config.EncryptionSessionFunc, endpoint string, client *http.Client) *SessionResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &SessionResolver{fn: fn, endpoint: endpoint, client: client}
}

// Resolve returns an encryption session. otpCode is empty on the first try.
func (r *SessionResolver) Resolve(ctx context.Context, accessToken, userID, otpCode string) (string, error) {
	if r.fn != nil {
		session, err := r.fn(ctx, accessToken, userID, otpCode)
		if err != nil {
			return "", apperrors.Wrap(err, "Failed to get encryption session")
		}
		if session == "" {
			return "", apperrors.New(apperrors.ErrCodeWallet, "Encryption session callback returned an empty session")
		}
		return session, nil
	}

	if r.endpoint == "" {
		return "", apperrors.Configuration("Automatic recovery requires an encryption session callback or endpoint")
	}

	return r.fetch(ctx, accessToken, userID, otpCode)
}

func (r *SessionResolver) fetch(ctx context.Context, accessToken, userID, otpCode string) (string, error) {
	b, err := json.Marshal(sessionRequest{UserID: userID, OTPCode: otpCode})
	if err != nil {
		return "", apperrors.Wrap(err, "Failed to encode encryption session request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(b))
	if err != nil {
		return "", apperrors.Wrap(err, "Failed to build encryption session request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, "Failed to get encryption session")
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	var out sessionResponse
	decodeErr := json.Unmarshal(bodyBytes, &out)

	if resp.StatusCode == http.StatusNotFound || (decodeErr == nil && out.Error == otpRequiredCode) {
		return "", apperrors.OTPRequired()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)),
			"Failed to get encryption session",
		)
	}
	if decodeErr != nil {
		return "", apperrors.Wrap(fmt.Errorf("decode encryption session response: %w", decodeErr), "Failed to get encryption session")
	}
	if out.Session == "" {
		return "", apperrors.New(apperrors.ErrCodeWallet, "Encryption session endpoint returned an empty session")
	}

	return out.Session, nil
}
