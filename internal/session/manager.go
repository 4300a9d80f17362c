// Package session owns the authenticated-identity state machine: sign-in,
// sign-up, sign-out, OAuth handoff, token-expiry monitoring, and scheduled
// refresh. A Manager is an explicitly owned instance with its own lifecycle;
// consumers receive state through Subscribe rather than through any shared
// global.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/identity"
	"github.com/careerforge/careerforge-cloud/internal/ratelimit"
)

// State is one node of the session state machine.
type State string

const (
	// StateUninitialized is the only initial state: the provider has not yet
	// reported whether a restored session exists.
	StateUninitialized State = "uninitialized"
	// StateAuthenticating means a sign-in call is in flight.
	StateAuthenticating State = "authenticating"
	// StateAuthenticated means a valid identity with a live token is held.
	StateAuthenticated State = "authenticated"
	// StateRefreshing means a token refresh is in flight.
	StateRefreshing State = "refreshing"
	// StateUnauthenticated is a stable, re-enterable no-session state after a
	// failed authentication or a provider-reported absence.
	StateUnauthenticated State = "unauthenticated"
	// StateSignedOut is a stable, re-enterable state after an explicit
	// sign-out.
	StateSignedOut State = "signed_out"
)

const (
	defaultCheckInterval = 60 * time.Second
	defaultRefreshLeeway = 5 * time.Minute
)

// Update is one state-change notification delivered to subscribers. Err is
// set when a background failure (failed proactive refresh) must surface to
// the UI instead of being retried silently.
type Update struct {
	State    State
	Identity *identity.Identity
	Err      error
}

// Config tunes a Manager. The zero value means defaults.
type Config struct {
	// CheckInterval is how often the expiry monitor compares now to expiry.
	CheckInterval time.Duration
	// RefreshLeeway is how close to expiry a proactive refresh triggers.
	RefreshLeeway time.Duration
	// RollbackFailedSignOut restores the local identity when the provider
	// rejects a sign-out. Off by default: a user must always be able to
	// leave an unresponsive session locally.
	RollbackFailedSignOut bool
	// Now overrides the time source for tests.
	Now func() time.Time
}

// Manager owns the identity state machine.
type Manager struct {
	provider identity.Provider
	limiter  *ratelimit.AttemptLimiter
	cfg      Config
	now      func() time.Time

	// root scope for the event intake, the monitor, and any provider call
	// that must die with the manager.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu              sync.Mutex
	state           State
	identity        *identity.Identity
	refreshing      bool
	refreshFailures int
	expiryNotified  bool
	monitorCancel   context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// NewManager creates a Manager and starts consuming the provider's event
// stream. The stream is what first resolves Uninitialized into a decided
// state; until then consumers should treat the session as loading.
func NewManager(provider identity.Provider, limiter *ratelimit.AttemptLimiter, cfg Config) (*Manager, error) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.RefreshLeeway <= 0 {
		cfg.RefreshLeeway = defaultRefreshLeeway
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider:   provider,
		limiter:    limiter,
		cfg:        cfg,
		now:        cfg.Now,
		rootCtx:    ctx,
		rootCancel: cancel,
		state:      StateUninitialized,
		subs:       make(map[int]chan Update),
	}

	events, err := provider.Events(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	go m.consumeEvents(events)

	return m, nil
}

// Close tears the manager down: cancels in-flight provider calls, stops the
// expiry monitor, and ends the event subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopMonitorLocked()
	m.mu.Unlock()
	m.rootCancel()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a copy of the current identity, or nil when no session is
// held.
func (m *Manager) Current() *identity.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	ident := *m.identity
	return &ident
}

// SignUp registers a new account. Local validation and the rate limiter both
// run before any provider contact. A success does not transition to
// Authenticated: the provider requires email verification before a session
// exists, so the pending identity is returned instead.
func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) (*identity.Pending, error) {
	if err := validateSignUp(email, password, displayName); err != nil {
		return nil, err
	}
	if m.limiter.ShouldBlock() {
		return nil, fault.New(fault.KindRateLimited, "too many attempts, try again later")
	}

	pending, err := m.provider.SignUp(ctx, email, password, displayName)
	if err != nil {
		m.limiter.RecordAttempt()
		return nil, err
	}
	return pending, nil
}

// SignIn authenticates with email and password. On success the manager
// transitions to Authenticated and resets the rate limiter; on failure it
// records the attempt and surfaces the classified error.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*identity.Identity, error) {
	if err := validateSignIn(email, password); err != nil {
		return nil, err
	}
	if m.limiter.ShouldBlock() {
		return nil, fault.New(fault.KindRateLimited, "too many attempts, try again later")
	}

	m.setState(StateAuthenticating, nil, nil)

	ident, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.limiter.RecordAttempt()
		m.setState(StateUnauthenticated, nil, nil)
		return nil, err
	}

	m.limiter.Reset()
	m.adopt(ident)
	return m.Current(), nil
}

// SignInWithProvider starts a redirect-based OAuth flow. The resulting
// identity arrives asynchronously through the provider's event channel, not
// through this call's return value.
func (m *Manager) SignInWithProvider(name, redirectURL string) (string, error) {
	if m.limiter.ShouldBlock() {
		return "", fault.New(fault.KindRateLimited, "too many attempts, try again later")
	}
	return m.provider.AuthorizeURL(name, redirectURL)
}

// SignOut clears the local identity and resets the rate limiter immediately,
// then attempts the provider-side sign-out. A provider failure is returned
// for reporting but, unless RollbackFailedSignOut is set, never restores
// the local session.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	prev := m.identity
	m.identity = nil
	m.state = StateSignedOut
	m.refreshFailures = 0
	m.expiryNotified = false
	m.stopMonitorLocked()
	m.mu.Unlock()

	m.limiter.Reset()
	m.publish(Update{State: StateSignedOut})

	if prev == nil {
		return nil
	}

	if err := m.provider.SignOut(ctx, prev.AccessToken); err != nil {
		slog.Warn("provider sign-out failed", "error", err)
		if m.cfg.RollbackFailedSignOut {
			m.adopt(prev)
		}
		return err
	}
	return nil
}

// RefreshSession renews the token. Concurrent calls collapse into one: a
// refresh already in flight short-circuits with a RefreshInProgress fault
// instead of issuing a second network call. On failure the session stays in
// place (stale) and the caller decides whether to force a sign-out.
func (m *Manager) RefreshSession(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		return fault.New(fault.KindRefreshInProgress, "refresh already in flight")
	}
	if m.identity == nil {
		m.mu.Unlock()
		return fault.New(fault.KindSessionExpired, "no session to refresh")
	}
	refreshToken := m.identity.RefreshToken
	m.refreshing = true
	m.state = StateRefreshing
	m.mu.Unlock()

	m.publish(Update{State: StateRefreshing, Identity: m.Current()})

	ident, err := m.provider.Refresh(ctx, refreshToken)

	m.mu.Lock()
	m.refreshing = false
	if err != nil {
		m.refreshFailures++
		// The stale identity is kept; the caller decides whether a failed
		// refresh forces a sign-out.
		if m.identity != nil {
			m.state = StateAuthenticated
		}
		m.mu.Unlock()

		if fault.KindOf(err) == fault.KindNetwork {
			return err
		}
		return fault.Wrap(fault.KindSessionExpired, "session refresh failed", err)
	}
	m.refreshFailures = 0
	m.mu.Unlock()

	m.adopt(ident)
	return nil
}

// adopt installs an identity wholesale, enters Authenticated, and (re)starts
// the expiry monitor.
func (m *Manager) adopt(ident *identity.Identity) {
	m.mu.Lock()
	m.identity = ident
	m.state = StateAuthenticated
	m.refreshFailures = 0
	m.expiryNotified = false
	m.startMonitorLocked()
	m.mu.Unlock()

	m.publish(Update{State: StateAuthenticated, Identity: m.Current()})
}

// Subscribe returns a channel of state updates and an unsubscribe function.
// Slow subscribers miss intermediate updates rather than blocking the
// manager.
func (m *Manager) Subscribe() (<-chan Update, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Update, 16)
	m.subs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (m *Manager) publish(u Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (m *Manager) setState(s State, ident *identity.Identity, err error) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.publish(Update{State: s, Identity: ident, Err: err})
}

// consumeEvents applies provider push notifications as state transitions
// identical in shape to the explicit operations. This is how Uninitialized
// first resolves after process start, and how cross-tab refreshes and
// revocations reach this instance.
func (m *Manager) consumeEvents(events <-chan identity.Event) {
	for event := range events {
		switch event.Type {
		case identity.EventInitialSession:
			if event.Identity != nil {
				m.adopt(event.Identity)
			} else {
				m.setState(StateUnauthenticated, nil, nil)
			}
		case identity.EventSignedIn:
			if event.Identity != nil {
				m.limiter.Reset()
				m.adopt(event.Identity)
			}
		case identity.EventTokenRefreshed:
			if event.Identity != nil {
				m.adopt(event.Identity)
			}
		case identity.EventSignedOut:
			m.mu.Lock()
			m.identity = nil
			m.state = StateSignedOut
			m.stopMonitorLocked()
			m.mu.Unlock()
			m.publish(Update{State: StateSignedOut})
		}
	}
}

// startMonitorLocked launches the expiry monitor if it is not already
// running. Caller holds m.mu.
func (m *Manager) startMonitorLocked() {
	if m.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.rootCtx)
	m.monitorCancel = cancel
	go m.runMonitor(ctx)
}

// stopMonitorLocked tears the monitor down so no orphaned timer fires a
// refresh for a session that no longer exists. Caller holds m.mu.
func (m *Manager) stopMonitorLocked() {
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
}

// runMonitor checks the token expiry on every tick while authenticated and
// triggers one proactive refresh when less than RefreshLeeway remains. A
// failed refresh is attempted once; after a second consecutive failure the
// error surfaces to subscribers instead of retrying silently.
func (m *Manager) runMonitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.state != StateAuthenticated || m.identity == nil {
			m.mu.Unlock()
			continue
		}
		remaining := m.identity.ExpiresAt.Sub(m.now())
		failures := m.refreshFailures
		notified := m.expiryNotified
		if failures >= 2 && remaining < m.cfg.RefreshLeeway {
			m.expiryNotified = true
		}
		m.mu.Unlock()

		if remaining >= m.cfg.RefreshLeeway {
			continue
		}

		if failures >= 2 {
			// Surface the expiry once; republishing the same error on
			// every tick would flood slow subscribers.
			if !notified {
				m.publish(Update{
					State:    StateAuthenticated,
					Identity: m.Current(),
					Err:      fault.New(fault.KindSessionExpired, "session could not be refreshed"),
				})
			}
			continue
		}

		if err := m.RefreshSession(ctx); err != nil {
			if fault.KindOf(err) == fault.KindRefreshInProgress {
				continue
			}
			slog.Warn("proactive session refresh failed", "error", err)
		}
	}
}
