package wallet

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/recovery"
	"github.com/better-wallet/embedded-connect/internal/session"
	apperrors "github.com/better-wallet/embedded-connect/pkg/errors"
	"github.com/better-wallet/embedded-connect/pkg/types"
	"github.com/better-wallet/embedded-connect/tests/keys"
	"github.com/better-wallet/embedded-connect/tests/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_FromNoAccounts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	listBefore := h.backend.ListCalls

	var succeeded *ConnectedWallet
	w, err := h.machine.Create(ctx, CreateOptions{OnSuccess: func(w *ConnectedWallet) { succeeded = w }})
	require.NoError(t, err)

	s := h.machine.State()
	assert.Equal(t, types.StatusConnected, s.Status)
	require.NotNil(t, s.ActiveWallet)
	assert.NotEmpty(t, s.ActiveWallet.Address)
	assert.Equal(t, w.Address, s.ActiveWallet.Address)
	assert.Same(t, w, succeeded)
	assert.NotNil(t, s.Provider.Ethereum())

	assert.Equal(t, 1, h.backend.CreateCalls)
	assert.Equal(t, 1, h.backend.ListCalls-listBefore, "exactly one silent refresh")
	assert.Equal(t, w.Address, h.session.ActiveEmbeddedAddress())

	assert.Equal(t, types.AccountTypeSmartAccount, h.backend.LastCreate.AccountType)
	assert.Equal(t, uint64(137), h.backend.LastCreate.ChainID)
	assert.Equal(t, types.RecoveryMethodAutomatic, h.backend.LastCreate.Recovery.Method)
	assert.Equal(t, "sess_test", h.backend.LastCreate.Recovery.EncryptionSession)

	assert.Equal(t, []types.Status{types.StatusCreating, types.StatusConnected}, h.statuses(),
		"silent refresh must not surface fetching-wallets")
	for _, st := range h.observed() {
		requireInvariant(t, st)
	}
}

func TestCreate_AccountTypes(t *testing.T) {
	ctx := context.Background()

	t.Run("eoa has no chain id", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.machine.Create(ctx, CreateOptions{
			AccountType:    types.AccountTypeEOA,
			RecoveryMethod: types.RecoveryMethodPassword,
			Password:       "hunter2",
		})
		require.NoError(t, err)
		assert.Equal(t, types.AccountTypeEOA, h.backend.LastCreate.AccountType)
		assert.Zero(t, h.backend.LastCreate.ChainID)
		assert.Equal(t, types.PasswordParams("hunter2"), h.backend.LastCreate.Recovery)
		sessionCalls, _ := h.srv.Calls()
		assert.Zero(t, sessionCalls)
	})

	t.Run("smart account on requested chain", func(t *testing.T) {
		h := newHarness(t, nil)
		w, err := h.machine.Create(ctx, CreateOptions{
			ChainID:        80002,
			RecoveryMethod: types.RecoveryMethodPasskey,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(80002), h.backend.LastCreate.ChainID)
		assert.Equal(t, uint64(80002), w.ChainID)
		assert.Equal(t, uint64(80002), h.backend.LastProvider.ChainID)
	})
}

func TestCreate_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("backend failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.backend.CreateErr = errors.New("custody unavailable")

		var reported error
		_, err := h.machine.Create(ctx, CreateOptions{OnError: func(err error) { reported = err }})
		require.Error(t, err)
		assert.Equal(t, err, reported)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeWallet))
		assert.ErrorIs(t, err, h.backend.CreateErr)

		s := h.machine.State()
		assert.Equal(t, types.StatusError, s.Status)
		assert.Nil(t, s.ActiveWallet)
		assert.Contains(t, s.Error, "custody unavailable")

		count, err := testutil.GatherAndCount(h.reg, "embedded_wallet_operation_failures_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("missing password", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.machine.Create(ctx, CreateOptions{RecoveryMethod: types.RecoveryMethodPassword})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		assert.Equal(t, types.StatusError, h.machine.State().Status)
		assert.Zero(t, h.backend.CreateCalls)
	})

	t.Run("retry after error", func(t *testing.T) {
		h := newHarness(t, nil)
		h.backend.ProviderErr = errors.New("provider down")
		_, err := h.machine.Create(ctx, CreateOptions{})
		require.Error(t, err)
		assert.Equal(t, types.StatusError, h.machine.State().Status)

		h.backend.ProviderErr = nil
		_, err = h.machine.Create(ctx, CreateOptions{})
		require.NoError(t, err)
		assert.Equal(t, types.StatusConnected, h.machine.State().Status)
	})
}

func TestSetActive_PasswordAccountNeedsRecovery(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPassword, "x")
	})
	ctx := context.Background()

	w, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address})
	require.NoError(t, err)
	assert.False(t, w.Ready())

	s := h.machine.State()
	assert.Equal(t, types.StatusNeedsRecovery, s.Status)
	assert.Empty(t, s.Error)
	require.NotNil(t, s.ActiveWallet)
	assert.Equal(t, acc.Address, s.ActiveWallet.Address)
	assert.Zero(t, h.backend.RecoverCalls)
	sessionCalls, _ := h.srv.Calls()
	assert.Zero(t, sessionCalls, "password accounts must not attempt automatic recovery")

	_, err = h.machine.SetActive(ctx, SetActiveOptions{
		Address:        acc.Address,
		RecoveryMethod: types.RecoveryMethodPassword,
		Password:       "x",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusConnected, h.machine.State().Status)
	assert.Equal(t, types.PasswordParams("x"), h.backend.LastRecover)

	assert.Equal(t, []types.Status{
		types.StatusConnecting, types.StatusNeedsRecovery,
		types.StatusConnecting, types.StatusConnected,
	}, h.statuses())
}

func TestSetActive_WrongPasswordKeepsWallet(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPassword, "x")
	})

	var reported error
	_, err := h.machine.SetActive(context.Background(), SetActiveOptions{
		Address:  acc.Address,
		Password: "nope",
		OnError:  func(err error) { reported = err },
	})
	require.Error(t, err)
	assert.Equal(t, err, reported)

	s := h.machine.State()
	assert.Equal(t, types.StatusError, s.Status)
	require.NotNil(t, s.ActiveWallet)
	assert.Equal(t, acc.Address, s.ActiveWallet.Address)
	assert.Nil(t, s.Provider)
	assert.Contains(t, s.Error, "wrong recovery password")
	requireInvariant(t, s)
}

func TestSetActive_CaseInsensitiveLookup(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})

	w, err := h.machine.SetActive(context.Background(), SetActiveOptions{Address: strings.ToLower(acc.Address)})
	require.NoError(t, err)
	assert.Equal(t, acc.Address, w.Address, "address is reported checksummed")
	assert.Equal(t, types.PasskeyParams(""), h.backend.LastRecover)
}

func TestSetActive_WalletNotFound(t *testing.T) {
	h := newHarness(t, func(b *mocks.MockBackend) {
		b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})

	_, err := h.machine.SetActive(context.Background(), SetActiveOptions{Address: "0x0000000000000000000000000000000000000001"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeWalletNotFound))

	s := h.machine.State()
	assert.Equal(t, types.StatusError, s.Status)
	assert.Nil(t, s.ActiveWallet)
}

func TestSetActive_PasskeyHint(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})

	_, err := h.machine.SetActive(context.Background(), SetActiveOptions{Address: acc.Address, PasskeyID: "pk_hint"})
	require.NoError(t, err)
	assert.Equal(t, types.PasskeyParams("pk_hint"), h.backend.LastRecover)
}

func TestSetActive_IdempotentReactivation(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})
	ctx := context.Background()
	opts := SetActiveOptions{Address: acc.Address, RecoveryMethod: types.RecoveryMethodPasskey}

	first, err := h.machine.SetActive(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConnected, h.machine.State().Status)

	second, err := h.machine.SetActive(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConnected, h.machine.State().Status)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, h.backend.RecoverCalls)
	assert.NotSame(t, first, second, "a fresh view is built on every activation")
}

func TestSetActive_SkipsRecoverWhenBackendAlreadyUnlocked(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodNone, "")
		b.SetActiveOnBackend(acc.ID)
	})

	_, err := h.machine.SetActive(context.Background(), SetActiveOptions{Address: acc.Address})
	require.NoError(t, err)
	assert.Equal(t, types.StatusConnected, h.machine.State().Status)
	assert.Zero(t, h.backend.RecoverCalls)
	sessionCalls, _ := h.srv.Calls()
	assert.Zero(t, sessionCalls)
}

func TestSetActive_AutomaticOTPRoundTrip(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodAutomatic, "")
	})
	h.srv.RequireOTP = true
	ctx := context.Background()

	_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address})
	require.Error(t, err)
	assert.True(t, apperrors.IsOTPRequired(err))

	s := h.machine.State()
	assert.Equal(t, types.StatusNeedsRecovery, s.Status)
	assert.Empty(t, s.Error, "OTP required is not a terminal error")
	assert.Zero(t, h.backend.RecoverCalls)

	_, err = h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address, OTPCode: "123456"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusConnected, h.machine.State().Status)
	assert.Equal(t, 1, h.backend.RecoverCalls)
	assert.Equal(t, types.AutomaticParams("sess_test"), h.backend.LastRecover)

	sessionCalls, _ := h.srv.Calls()
	assert.Equal(t, 2, sessionCalls)
	assert.NotContains(t, h.statuses(), types.StatusError)
}

func TestSetActive_StubProviderNotReady(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})
	h.backend.RecoverStarted = make(chan string, 1)
	h.backend.RecoverGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.machine.SetActive(context.Background(), SetActiveOptions{Address: acc.Address})
		done <- err
	}()

	<-h.backend.RecoverStarted
	s := h.machine.State()
	assert.Equal(t, types.StatusConnecting, s.Status)
	require.NotNil(t, s.ActiveWallet)
	assert.Equal(t, acc.Address, s.ActiveWallet.Address)

	_, err := s.ActiveWallet.GetProvider()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeWalletNotFound))
	assert.Equal(t, apperrors.ProviderNotReadyMessage, apperrors.Message(err))

	h.backend.RecoverGate <- struct{}{}
	require.NoError(t, <-done)

	signer, err := h.machine.State().ActiveWallet.GetProvider()
	require.NoError(t, err)
	assert.NotNil(t, signer.Ethereum())
}

func TestSetActive_Serialized(t *testing.T) {
	var accA, accB types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		accA = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
		accB = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})
	h.backend.RecoverStarted = make(chan string, 2)
	h.backend.RecoverGate = make(chan struct{})
	ctx := context.Background()

	results := make(chan *ConnectedWallet, 2)
	go func() {
		w, err := h.machine.SetActive(ctx, SetActiveOptions{Address: accA.Address})
		assert.NoError(t, err)
		results <- w
	}()
	require.Equal(t, accA.ID, <-h.backend.RecoverStarted)

	go func() {
		w, err := h.machine.SetActive(ctx, SetActiveOptions{Address: accB.Address})
		assert.NoError(t, err)
		results <- w
	}()

	select {
	case id := <-h.backend.RecoverStarted:
		t.Fatalf("second activation started recovering %s before the first settled", id)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, accA.ID, h.machine.State().ActiveWallet.ID, "second call must not publish its stub early")

	h.backend.RecoverGate <- struct{}{}
	first := <-results
	assert.Equal(t, accA.Address, first.Address)

	require.Equal(t, accB.ID, <-h.backend.RecoverStarted)
	h.backend.RecoverGate <- struct{}{}
	second := <-results
	assert.Equal(t, accB.Address, second.Address)

	s := h.machine.State()
	assert.Equal(t, types.StatusConnected, s.Status)
	assert.Equal(t, accB.ID, s.ActiveWallet.ID)
	assert.Equal(t, 1, s.ActiveWallet.WalletIndex)
	assert.Same(t, s.Provider, s.ActiveWallet.signer)
	assert.Equal(t, accB.Address, h.session.ActiveEmbeddedAddress())

	for _, st := range h.observed() {
		requireInvariant(t, st)
	}
}

func TestCreate_SerializedWithSetActive(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})
	h.backend.RecoverStarted = make(chan string, 1)
	h.backend.RecoverGate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address})
		assert.NoError(t, err)
	}()
	<-h.backend.RecoverStarted

	var created *ConnectedWallet
	go func() {
		defer wg.Done()
		var err error
		created, err = h.machine.Create(ctx, CreateOptions{RecoveryMethod: types.RecoveryMethodPasskey})
		assert.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.backend.CreateCalls)

	h.backend.RecoverGate <- struct{}{}
	wg.Wait()

	assert.Equal(t, 1, h.backend.CreateCalls)
	assert.Equal(t, created.Address, h.machine.State().ActiveWallet.Address)
}

func TestSetActive_ContextCancelledWhileWaiting(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})
	h.backend.RecoverStarted = make(chan string, 1)
	h.backend.RecoverGate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.machine.SetActive(context.Background(), SetActiveOptions{Address: acc.Address})
	}()
	<-h.backend.RecoverStarted

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.backend.RecoverGate <- struct{}{}
	<-done
	assert.Equal(t, types.StatusConnected, h.machine.State().Status)
}

func TestStatusFieldInvariant(t *testing.T) {
	var pw, auto types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		pw = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPassword, "x")
		auto = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodAutomatic, "")
	})
	ctx := context.Background()
	requireInvariant(t, h.machine.State())

	_, _ = h.machine.SetActive(ctx, SetActiveOptions{Address: pw.Address})
	_, _ = h.machine.SetActive(ctx, SetActiveOptions{Address: pw.Address, Password: "wrong"})
	_, _ = h.machine.SetActive(ctx, SetActiveOptions{Address: pw.Address, Password: "x"})

	h.srv.RequireOTP = true
	_, _ = h.machine.SetActive(ctx, SetActiveOptions{Address: auto.Address})
	_, _ = h.machine.SetActive(ctx, SetActiveOptions{Address: auto.Address, OTPCode: "123456"})

	h.backend.CreateErr = errors.New("boom")
	_, _ = h.machine.Create(ctx, CreateOptions{RecoveryMethod: types.RecoveryMethodPasskey})
	h.backend.CreateErr = nil
	_, _ = h.machine.Create(ctx, CreateOptions{RecoveryMethod: types.RecoveryMethodPasskey})

	require.NoError(t, h.machine.Disconnect(ctx))

	states := h.observed()
	seen := map[types.Status]bool{}
	for _, s := range states {
		requireInvariant(t, s)
		seen[s.Status] = true
	}
	for _, want := range []types.Status{
		types.StatusConnecting, types.StatusNeedsRecovery, types.StatusError,
		types.StatusConnected, types.StatusCreating, types.StatusDisconnected,
	} {
		assert.True(t, seen[want], "never observed %s", want)
	}
}

func TestSetRecovery(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPassword, "x")
	})
	ctx := context.Background()

	_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address, Password: "x"})
	require.NoError(t, err)

	err = h.machine.SetRecovery(ctx, SetRecoveryOptions{
		Previous: recovery.Intent{Method: types.RecoveryMethodPassword, Password: "x"},
		Next:     recovery.Intent{Method: types.RecoveryMethodPasskey, PasskeyID: "pk_new"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.backend.SetRecoveryCalls)

	s := h.machine.State()
	assert.Equal(t, types.StatusConnected, s.Status)
	assert.Equal(t, types.RecoveryMethodPasskey, s.ActiveWallet.RecoveryMethod)
	assert.NotNil(t, s.Provider)

	accounts := h.session.AccountsFor(types.ChainFamilyEVM)
	require.Len(t, accounts, 1)
	assert.Equal(t, types.RecoveryMethodPasskey, accounts[0].RecoveryMethod)
}

func TestSetRecovery_Failures(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPassword, "x")
	})
	ctx := context.Background()
	_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address, Password: "x"})
	require.NoError(t, err)

	err = h.machine.SetRecovery(ctx, SetRecoveryOptions{
		Previous: recovery.Intent{Method: types.RecoveryMethodPassword},
		Next:     recovery.Intent{Method: types.RecoveryMethodPasskey},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Zero(t, h.backend.SetRecoveryCalls)

	h.backend.SetRecoveryErr = errors.New("rotation rejected")
	err = h.machine.SetRecovery(ctx, SetRecoveryOptions{
		Previous: recovery.Intent{Method: types.RecoveryMethodPassword, Password: "x"},
		Next:     recovery.Intent{Method: types.RecoveryMethodPasskey},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, h.backend.SetRecoveryErr)
	assert.Equal(t, types.StatusConnected, h.machine.State().Status, "setRecovery failures do not change status")
}

func TestExportPrivateKey(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.machine.ExportPrivateKey(ctx)
	require.Error(t, err)

	_, err = h.machine.Create(ctx, CreateOptions{AccountType: types.AccountTypeEOA, RecoveryMethod: types.RecoveryMethodPasskey})
	require.NoError(t, err)

	key, err := h.machine.ExportPrivateKey(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "0x"))
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.machine.Create(ctx, CreateOptions{RecoveryMethod: types.RecoveryMethodPasskey})
	require.NoError(t, err)

	require.NoError(t, h.machine.Disconnect(ctx))
	s := h.machine.State()
	assert.Equal(t, types.StatusDisconnected, s.Status)
	assert.Nil(t, s.ActiveWallet)
	assert.Equal(t, 1, h.backend.LogoutCalls)
	assert.Nil(t, h.session.User())
	assert.Empty(t, h.session.ActiveEmbeddedAddress())
}

func TestWalletsAndQueries(t *testing.T) {
	var first, second types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		b.AddAccount(types.ChainFamilySVM, types.RecoveryMethodAutomatic, "")
		first = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
		second = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})
	ctx := context.Background()

	wallets := h.machine.Wallets()
	require.Len(t, wallets, 2)
	assert.Equal(t, 0, wallets[0].WalletIndex)
	assert.Equal(t, 1, wallets[1].WalletIndex)
	assert.False(t, wallets[1].Ready())
	assert.True(t, h.machine.IsConnected(ctx))
	assert.Equal(t, first.Address, h.machine.Address(ctx))

	_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: second.Address})
	require.NoError(t, err)

	wallets = h.machine.Wallets()
	assert.True(t, wallets[1].Ready())
	assert.False(t, wallets[0].Ready())
	assert.Equal(t, second.Address, h.machine.Address(ctx))
}

func TestClose_DiscardsLateResults(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})
	h.backend.RecoverStarted = make(chan string, 1)
	h.backend.RecoverGate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.machine.SetActive(context.Background(), SetActiveOptions{Address: acc.Address})
	}()
	<-h.backend.RecoverStarted

	h.machine.Close()
	h.backend.RecoverGate <- struct{}{}
	<-done

	assert.Equal(t, types.StatusConnecting, h.machine.State().Status)
	assert.Empty(t, h.session.ActiveEmbeddedAddress())
}

type gatedLister struct {
	inner custody.AccountLister

	mu   sync.Mutex
	gate chan struct{}
}

func (l *gatedLister) block() {
	l.mu.Lock()
	l.gate = make(chan struct{})
	l.mu.Unlock()
}

func (l *gatedLister) release() {
	l.mu.Lock()
	close(l.gate)
	l.gate = nil
	l.mu.Unlock()
}

func (l *gatedLister) List(ctx context.Context) ([]types.Account, error) {
	l.mu.Lock()
	gate := l.gate
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return l.inner.List(ctx)
}

func TestState_FetchingWalletsOverlay(t *testing.T) {
	lister := &gatedLister{}
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	}, withLister(func(b *mocks.MockBackend) custody.AccountLister {
		lister.inner = b
		return lister
	}))
	ctx := context.Background()

	_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address})
	require.NoError(t, err)

	lister.block()
	refreshed := make(chan error, 1)
	go func() { refreshed <- h.session.Refresh(ctx, session.RefreshOptions{}) }()

	waitFor(t, func() bool { return h.machine.State().Status == types.StatusFetchingWallets })
	s := h.machine.State()
	assert.Nil(t, s.ActiveWallet)
	assert.Nil(t, s.Provider)

	lister.release()
	require.NoError(t, <-refreshed)
	s = h.machine.State()
	assert.Equal(t, types.StatusConnected, s.Status)
	assert.Equal(t, acc.Address, s.ActiveWallet.Address)
	assert.Contains(t, h.statuses(), types.StatusFetchingWallets, "listeners see the overlay on a connected machine")
}

func TestSetActive_ConnectedAccountSkipsRecovery(t *testing.T) {
	tests := []struct {
		name   string
		method types.RecoveryMethod
		first  SetActiveOptions
		again  SetActiveOptions
	}{
		{
			name:   "passkey",
			method: types.RecoveryMethodPasskey,
		},
		{
			name:   "password without a password",
			method: types.RecoveryMethodPassword,
			first:  SetActiveOptions{Password: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc types.Account
			h := newHarness(t, func(b *mocks.MockBackend) {
				acc = b.AddAccount(types.ChainFamilyEVM, tt.method, "x")
			})
			ctx := context.Background()

			tt.first.Address = acc.Address
			_, err := h.machine.SetActive(ctx, tt.first)
			require.NoError(t, err)
			require.Equal(t, 1, h.backend.RecoverCalls)

			h.backend.GetErr = errors.New("backend lookup unavailable")
			tt.again.Address = acc.Address
			w, err := h.machine.SetActive(ctx, tt.again)
			require.NoError(t, err)
			assert.True(t, w.Ready())

			assert.Equal(t, 1, h.backend.RecoverCalls)
			assert.Equal(t, types.StatusConnected, h.machine.State().Status)
			assert.NotContains(t, h.statuses(), types.StatusNeedsRecovery)
		})
	}
}

func TestSetActive_InvalidAddress(t *testing.T) {
	h := newHarness(t, func(b *mocks.MockBackend) {
		b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPasskey, "")
	})

	for _, addr := range []string{"", "not-an-address", "0x1234", "0xZZ00000000000000000000000000000000000001"} {
		_, err := h.machine.SetActive(context.Background(), SetActiveOptions{Address: addr})
		require.Error(t, err, addr)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation), addr)
		assert.Equal(t, types.StatusError, h.machine.State().Status)
	}
	assert.Zero(t, h.backend.RecoverCalls)
	assert.Zero(t, h.backend.GetCalls)
}

func TestSubscribe_ListenerMayCallOperations(t *testing.T) {
	var acc types.Account
	h := newHarness(t, func(b *mocks.MockBackend) {
		acc = b.AddAccount(types.ChainFamilyEVM, types.RecoveryMethodPassword, "x")
	})
	ctx := context.Background()

	var once sync.Once
	nested := make(chan error, 1)
	h.machine.Subscribe(func(s State) {
		if s.Status != types.StatusNeedsRecovery {
			return
		}
		once.Do(func() {
			_, err := h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address, Password: "x"})
			nested <- err
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.machine.SetActive(ctx, SetActiveOptions{Address: acc.Address})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SetActive from a state listener deadlocked")
	}
	require.NoError(t, <-nested)

	assert.Equal(t, types.StatusConnected, h.machine.State().Status)
	assert.Equal(t, []types.Status{
		types.StatusConnecting,
		types.StatusNeedsRecovery,
		types.StatusConnecting,
		types.StatusConnected,
	}, h.statuses())
}

func TestExportPrivateKey_VerifiesKey(t *testing.T) {
	other, err := keys.GenerateEthereumKey()
	require.NoError(t, err)

	tests := []struct {
		name     string
		override string
		wantMsg  string
	}{
		{
			name:     "key of another account",
			override: keys.ExportEthereumKey(other),
			wantMsg:  "does not belong to the active wallet",
		},
		{
			name:     "malformed key",
			override: "0xnotakey",
			wantMsg:  "malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()

			_, err := h.machine.Create(ctx, CreateOptions{RecoveryMethod: types.RecoveryMethodPasskey})
			require.NoError(t, err)

			h.backend.ExportOverride = tt.override
			key, err := h.machine.ExportPrivateKey(ctx)
			require.Error(t, err)
			assert.Empty(t, key)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeWallet))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, types.StatusConnected, h.machine.State().Status)
		})
	}
}
