// Package helpers provides common test utilities for the embedded-connect test suite.
package helpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecoveryServer serves the encryption-session and one-time-code endpoints.
type RecoveryServer struct {
	*httptest.Server

	mu sync.Mutex

	// RequireOTP makes the session endpoint demand Code before issuing a session.
	RequireOTP bool
	// OTPAsNotFound answers a missing code with a bare 404 instead of OTP_REQUIRED.
	OTPAsNotFound bool
	Code          string
	Session       string
	FailStatus    int

	SessionCalls int
	OTPCalls     int
	LastUserID   string
	LastOTPCode  string
	LastAuth     string
}

// NewRecoveryServer starts a server issuing session "sess_test" and code "123456".
func NewRecoveryServer(t *testing.T) *RecoveryServer {
	t.Helper()

	s := &RecoveryServer{Code: "123456", Session: "sess_test"}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleSession)
	mux.HandleFunc("/otp", s.handleOTP)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// SessionURL is the encryption-session endpoint.
func (s *RecoveryServer) SessionURL() string { return s.URL + "/session" }

// OTPURL is the one-time-code endpoint.
func (s *RecoveryServer) OTPURL() string { return s.URL + "/otp" }

// Calls returns the session and OTP call counts.
func (s *RecoveryServer) Calls() (session, otp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SessionCalls, s.OTPCalls
}

// LastRequest returns the user id, otp code and Authorization header of the
// most recent session request.
func (s *RecoveryServer) LastRequest() (userID, otpCode, auth string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastUserID, s.LastOTPCode, s.LastAuth
}

func (s *RecoveryServer) handleSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string `json:"user_id"`
		OTPCode string `json:"otp_code"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.SessionCalls++
	s.LastUserID = body.UserID
	s.LastOTPCode = body.OTPCode
	s.LastAuth = r.Header.Get("Authorization")
	requireOTP, asNotFound, code, session, fail := s.RequireOTP, s.OTPAsNotFound, s.Code, s.Session, s.FailStatus
	s.mu.Unlock()

	if fail != 0 {
		writeJSON(w, fail, map[string]string{"error": "INTERNAL"})
		return
	}
	if requireOTP && body.OTPCode != code {
		if asNotFound {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "OTP_REQUIRED"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": session})
}

func (s *RecoveryServer) handleOTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.OTPCalls++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"request_id": "otp_req_1", "sent_to": "u***@example.com"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StaticEnv is a recovery environment with fixed values.
type StaticEnv struct {
	mu         sync.Mutex
	Token      string
	User       string
	TokenCalls int
}

func (e *StaticEnv) AccessToken(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TokenCalls++
	return e.Token, nil
}

func (e *StaticEnv) UserID(ctx context.Context) (string, error) {
	return e.User, nil
}
