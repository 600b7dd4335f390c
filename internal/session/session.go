// Package session holds the authenticated user's context: access tokens,
// the embedded account cache and the active embedded address. One Session is
// shared by every wallet state machine in the process.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/better-wallet/embedded-connect/internal/custody"
	"github.com/better-wallet/embedded-connect/internal/logger"
	"github.com/better-wallet/embedded-connect/pkg/types"
)

// TokenSource returns a fresh access token. It is called on every use.
type TokenSource func(ctx context.Context) (string, error)

// EventKind identifies what changed in the session.
type EventKind int

const (
	EventUser EventKind = iota
	EventLoading
	EventAccounts
	EventActiveAddress
)

// Event is delivered to listeners after the session changed.
type Event struct {
	Kind EventKind
}

// Options configures a Session.
type Options struct {
	Accounts custody.AccountLister
	Tokens   TokenSource
	// Logout clears the remote session, typically custody.Backend.Logout.
	Logout func(ctx context.Context) error
}

// RefreshOptions controls how the account cache is reloaded.
type RefreshOptions struct {
	// Silent reloads without flipping the loading flag other consumers observe.
	Silent bool
}

// Session is safe for concurrent use.
type Session struct {
	lister custody.AccountLister
	tokens TokenSource
	logout func(ctx context.Context) error

	mu       sync.RWMutex
	user     *types.User
	accounts []types.Account
	loading  bool
	loaded   bool
	active   string

	listenerMu sync.Mutex
	listeners  map[uint64]func(Event)
	nextID     uint64
}

// New creates a session with no user.
func New(opts Options) *Session {
	return &Session{
		lister:    opts.Accounts,
		tokens:    opts.Tokens,
		logout:    opts.Logout,
		listeners: make(map[uint64]func(Event)),
	}
}

// SetUser records the authenticated user.
func (s *Session) SetUser(user *types.User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.publish(Event{Kind: EventUser})
}

// User returns the authenticated user or nil.
func (s *Session) User() *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// AccessToken resolves a fresh access token. Empty when none is available.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if s.tokens == nil || s.User() == nil {
		return "", nil
	}
	return s.tokens(ctx)
}

// UserID returns the authenticated user's id. Empty when logged out.
func (s *Session) UserID(ctx context.Context) (string, error) {
	if u := s.User(); u != nil {
		return u.ID, nil
	}
	return "", nil
}

// Refresh reloads the embedded account list.
func (s *Session) Refresh(ctx context.Context, opts RefreshOptions) error {
	if s.lister == nil {
		return fmt.Errorf("session has no account lister")
	}

	if !opts.Silent {
		s.setLoading(true)
	}

	accounts, err := s.lister.List(ctx)

	s.mu.Lock()
	if err == nil {
		s.accounts = accounts
		s.loaded = true
	}
	if !opts.Silent {
		s.loading = false
	}
	s.mu.Unlock()

	if err != nil {
		if !opts.Silent {
			s.publish(Event{Kind: EventLoading})
		}
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	logger.Debug(ctx, "refreshed embedded accounts", "count", len(accounts), "silent", opts.Silent)
	s.publish(Event{Kind: EventAccounts})
	return nil
}

func (s *Session) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
	s.publish(Event{Kind: EventLoading})
}

// Loading reports whether a non-silent refresh is in progress.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Loaded reports whether the account list has been fetched at least once.
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Accounts returns a copy of every cached account.
func (s *Session) Accounts() []types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// AccountsFor returns the cached accounts of one chain family, in backend order.
func (s *Session) AccountsFor(family types.ChainFamily) []types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Account
	for _, acc := range s.accounts {
		if acc.ChainFamily == family {
			out = append(out, acc)
		}
	}
	return out
}

// ActiveEmbeddedAddress returns the most recently activated embedded address.
func (s *Session) ActiveEmbeddedAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveEmbeddedAddress records the active embedded address. Every
// successful create or activation across all chain families writes it; the
// last writer wins.
func (s *Session) SetActiveEmbeddedAddress(address string) {
	s.mu.Lock()
	s.active = address
	s.mu.Unlock()
	s.publish(Event{Kind: EventActiveAddress})
}

// Logout ends the remote session and clears all cached state.
func (s *Session) Logout(ctx context.Context) error {
	if s.logout != nil {
		if err := s.logout(ctx); err != nil {
			return fmt.Errorf("failed to log out: %w", err)
		}
	}

	s.Reset()
	return nil
}

// Reset clears the user, account cache and active address without
// contacting the backend.
func (s *Session) Reset() {
	s.mu.Lock()
	s.user = nil
	s.accounts = nil
	s.loaded = false
	s.loading = false
	s.active = ""
	s.mu.Unlock()

	s.publish(Event{Kind: EventUser})
}

// Subscribe registers fn for session changes and returns its unsubscribe func.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Session) publish(ev Event) {
	s.listenerMu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
