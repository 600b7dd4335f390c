// Package metrics exposes prometheus counters for the wallet state machines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "embedded_wallet"

// Recorder holds the wallet collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	otpRequests *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Wallet state machine transitions by chain family and target status.",
		}, []string{"chain_family", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed wallet operations by chain family, operation and error code.",
		}, []string{"chain_family", "operation", "code"}),
		otpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_requests_total",
			Help:      "One-time code requests issued for automatic recovery, by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{r.transitions, r.failures, r.otpRequests} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Transition counts a state change.
func (r *Recorder) Transition(family, status string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(family, status).Inc()
}

// Failure counts a failed operation.
func (r *Recorder) Failure(family, operation, code string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(family, operation, code).Inc()
}

// OTPRequest counts an OTP request. outcome is "sent", "limited" or "failed".
func (r *Recorder) OTPRequest(outcome string) {
	if r == nil {
		return
	}
	r.otpRequests.WithLabelValues(outcome).Inc()
}
