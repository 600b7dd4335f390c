package errors

import (
	"errors"
	"fmt"
)

// AppError is a typed wallet error. Cause, when set, is the root failure
// reported by the custody backend or transport.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the root cause to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches two AppErrors by code, so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Error codes
const (
	ErrCodeConfiguration  = "configuration_error"
	ErrCodeAuthentication = "authentication_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeWalletNotFound = "wallet_not_found"
	ErrCodeUnsupported    = "unsupported_operation"
	ErrCodeWallet         = "wallet_error"
	ErrCodeOTPRequired    = "otp_required"
	ErrCodeRateLimited    = "rate_limited"
)

// ProviderNotReadyMessage is reported by a connecting wallet stub.
const ProviderNotReadyMessage = "Provider not ready yet"

// Predefined errors, usable as errors.Is targets.
var (
	ErrOTPRequired = &AppError{
		Code:    ErrCodeOTPRequired,
		Message: "One-time code required to resolve encryption session",
	}

	ErrProviderNotReady = &AppError{
		Code:    ErrCodeWalletNotFound,
		Message: ProviderNotReadyMessage,
	}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string) *AppError {
	return &AppError{Code: code, Message: message, Detail: detail}
}

// Configuration reports missing or invalid wallet configuration.
func Configuration(message string) *AppError {
	return New(ErrCodeConfiguration, message)
}

// Authentication reports a missing access token or user id.
func Authentication(message string) *AppError {
	return New(ErrCodeAuthentication, message)
}

// Validation reports missing required recovery input.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(address string) *AppError {
	return NewWithDetail(ErrCodeWalletNotFound, "Wallet not found", fmt.Sprintf("address: %s", address))
}

// Unsupported reports an operation or recovery method that is not handled.
func Unsupported(what string) *AppError {
	return NewWithDetail(ErrCodeUnsupported, "Unsupported operation", what)
}

// RateLimited reports a locally throttled request.
func RateLimited(what string) *AppError {
	return NewWithDetail(ErrCodeRateLimited, "Too many requests", what)
}

// OTPRequired returns a fresh OTP-required signal.
func OTPRequired() *AppError {
	return &AppError{Code: ErrCodeOTPRequired, Message: ErrOTPRequired.Message}
}

// Wrap wraps an unexpected failure as a wallet_error. Typed errors are
// returned unchanged so their code survives the state machine boundary.
func Wrap(cause error, message string) error {
	if cause == nil {
		return nil
	}
	if _, ok := IsAppError(cause); ok {
		return cause
	}
	return &AppError{Code: ErrCodeWallet, Message: message, Cause: cause}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

// IsOTPRequired reports whether err is the OTP-required control signal.
func IsOTPRequired(err error) bool {
	return HasCode(err, ErrCodeOTPRequired)
}

// Message returns the human-readable form stored in machine state.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := IsAppError(err); ok {
		if appErr.Detail != "" {
			return fmt.Sprintf("%s (%s)", appErr.Message, appErr.Detail)
		}
		if appErr.Cause != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
		return appErr.Message
	}
	return err.Error()
}
