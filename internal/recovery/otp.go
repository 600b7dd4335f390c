package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/better-wallet/embedded-connect/internal/metrics"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// OTPChallenge describes a one-time code the backend sent to the user.
type OTPChallenge struct {
	RequestID string    `json:"request_id"`
	SentTo    string    `json:"sent_to,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// OTPRequester asks the backend to send the user a one-time code.
type OTPRequester interface {
	RequestOTP(ctx context.Context, accessToken, userID string) (*OTPChallenge, error)
}

type otpRequest struct {
	UserID string `json:"user_id"`
}

type otpResponse struct {
	RequestID string `json:"request_id"`
	SentTo    string `json:"sent_to"`
}

// HTTPOTPRequester requests codes over HTTP, throttled by a token bucket so a
// retrying UI cannot flood the user with messages.
type HTTPOTPRequester struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewHTTPOTPRequester creates a requester. perSecond <= 0 disables throttling.
func NewHTTPOTPRequester(endpoint string, perSecond int, client *http.Client, rec *metrics.Recorder) *HTTPOTPRequester {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &HTTPOTPRequester{
		endpoint: endpoint,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  rec,
		now:      time.Now,
	}
}

// RequestOTP implements OTPRequester.
func (o *HTTPOTPRequester) RequestOTP(ctx context.Context, accessToken, userID string) (*OTPChallenge, error) {
	if o.endpoint == "" {
		return nil, apperrors.Configuration("RECOVERY_OTP_URL is required to request a one-time code")
	}
	if accessToken == "" || userID == "" {
		return nil, apperrors.Authentication("Access token and user id are required to request a one-time code")
	}
	if !o.limiter.Allow() {
		o.metrics.OTPRequest("limited")
		return nil, apperrors.RateLimited("one-time code requested too often")
	}

	challenge, err := o.send(ctx, accessToken, userID)
	if err != nil {
		o.metrics.OTPRequest("failed")
		return nil, err
	}
	o.metrics.OTPRequest("sent")
	return challenge, nil
}

func (o *HTTPOTPRequester) send(ctx context.Context, accessToken, userID string) (*OTPChallenge, error) {
	b, _ := json.Marshal(otpRequest{UserID: userID})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, apperrors.Wrap(err, "Failed to build one-time code request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "Failed to request one-time code")
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)),
			"Failed to request one-time code",
		)
	}

	var out otpResponse
	if len(bytes.TrimSpace(bodyBytes)) > 0 {
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			return nil, apperrors.Wrap(fmt.Errorf("decode one-time code response: %w", err), "Failed to request one-time code")
		}
	}
	if out.RequestID == "" {
		out.RequestID = uuid.NewString()
	}

	return &OTPChallenge{
		RequestID: out.RequestID,
		SentTo:    out.SentTo,
		IssuedAt:  o.now(),
	}, nil
}
