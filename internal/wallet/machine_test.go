package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/metrics"
	"github.com/better-wallet/embedded-connect/internal/recovery"
	"github.com/better-wallet/embedded-connect/internal/session"
	"github.com/better-wallet/embedded-connect/pkg/types"
	"github.com/better-wallet/embedded-connect/tests/fixtures"
	"github.com/better-wallet/embedded-connect/tests/helpers"
	"github.com/better-wallet/embedded-connect/tests/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type harness struct {
	cfg     *config.WalletConfig
	backend *mocks.MockBackend
	session *session.Session
	srv     *helpers.RecoveryServer
	reg     *prometheus.Registry
	machine *Machine

	mu     sync.Mutex
	states []State
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	family types.ChainFamily
	lister func(*mocks.MockBackend) custody.AccountLister
}

func withFamily(f types.ChainFamily) harnessOption {
	return func(c *harnessConfig) { c.family = f }
}

func withLister(fn func(*mocks.MockBackend) custody.AccountLister) harnessOption {
	return func(c *harnessConfig) { c.lister = fn }
}

func newHarness(t *testing.T, seed func(b *mocks.MockBackend), opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{family: types.ChainFamilyEVM}
	for _, opt := range opts {
		opt(&hc)
	}

	h := &harness{
		cfg:     fixtures.NewSolanaWalletConfig(),
		backend: mocks.NewMockBackend(),
		srv:     helpers.NewRecoveryServer(t),
		reg:     prometheus.NewRegistry(),
	}
	h.cfg.RecoverySessionURL = h.srv.SessionURL()

	if seed != nil {
		seed(h.backend)
	}

	var lister custody.AccountLister = h.backend
	if hc.lister != nil {
		lister = hc.lister(h.backend)
	}

	h.session = session.New(session.Options{
		Accounts: lister,
		Tokens:   func(ctx context.Context) (string, error) { return "tok", nil },
		Logout:   h.backend.Logout,
	})
	h.session.SetUser(&types.User{ID: "usr_1", Email: "user@example.com"})
	require.NoError(t, h.session.Refresh(context.Background(), session.RefreshOptions{}))

	rec, err := metrics.NewRecorder(h.reg)
	require.NoError(t, err)

	wopts := Options{
		Config:   h.cfg,
		Backend:  h.backend,
		Session:  h.session,
		Recovery: recovery.NewBuilder(h.cfg, h.session, h.srv.Client()),
		Metrics:  rec,
	}
	if hc.family == types.ChainFamilySVM {
		h.machine, err = NewSolana(wopts)
	} else {
		h.machine, err = NewEthereum(wopts)
	}
	require.NoError(t, err)
	t.Cleanup(h.machine.Close)

	h.machine.Subscribe(func(s State) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	})

	return h
}

func (h *harness) observed() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, len(h.states))
	copy(out, h.states)
	return out
}

func (h *harness) statuses() []types.Status {
	var out []types.Status
	for _, s := range h.observed() {
		out = append(out, s.Status)
	}
	return out
}

// requireInvariant checks the state shape contract.
func requireInvariant(t *testing.T, s State) {
	t.Helper()

	switch s.Status {
	case types.StatusDisconnected, types.StatusFetchingWallets, types.StatusCreating:
		require.Nil(t, s.ActiveWallet, "status %s must not expose a wallet", s.Status)
	case types.StatusConnecting, types.StatusReconnecting, types.StatusNeedsRecovery, types.StatusConnected:
		require.NotNil(t, s.ActiveWallet, "status %s must expose a wallet", s.Status)
	case types.StatusError:
		require.NotEmpty(t, s.Error)
	default:
		t.Fatalf("unknown status %q", s.Status)
	}

	if s.Status == types.StatusConnected {
		require.NotNil(t, s.Provider)
		require.True(t, s.ActiveWallet.Ready())
	} else {
		require.Nil(t, s.Provider, "status %s must not expose a provider", s.Status)
		if s.ActiveWallet != nil {
			_, err := s.ActiveWallet.GetProvider()
			require.Error(t, err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
