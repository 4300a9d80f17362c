package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/identity"
	"github.com/careerforge/careerforge-cloud/internal/ratelimit"
)

// fakeProvider is a scriptable identity.Provider for state machine tests.
type fakeProvider struct {
	mu           sync.Mutex
	signInErr    error
	refreshErr   error
	signOutErr   error
	signInCalls  int
	signUpCalls  int
	refreshCalls int
	signOutCalls int
	refreshGate  chan struct{} // when set, Refresh blocks until closed
	issuedExpiry time.Time
	events       chan identity.Event
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		issuedExpiry: time.Now().Add(time.Hour),
		events:       make(chan identity.Event, 8),
	}
}

func (f *fakeProvider) issue() *identity.Identity {
	return &identity.Identity{
		UserID:       "user-1",
		Email:        "jo@example.com",
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    f.issuedExpiry,
	}
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password, displayName string) (*identity.Pending, error) {
	f.mu.Lock()
	f.signUpCalls++
	err := f.signInErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &identity.Pending{UserID: "user-1", Email: email}, nil
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	f.mu.Lock()
	f.signInCalls++
	err := f.signInErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.issue(), nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*identity.Identity, error) {
	f.mu.Lock()
	f.refreshCalls++
	err := f.refreshErr
	gate := f.refreshGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return f.issue(), nil
}

func (f *fakeProvider) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeProvider) AuthorizeURL(provider, redirectURL string) (string, error) {
	return "https://id.example.com/authorize?provider=" + provider, nil
}

func (f *fakeProvider) Events(ctx context.Context) (<-chan identity.Event, error) {
	return f.events, nil
}

func (f *fakeProvider) calls() (signIn, refresh, signOut int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signInCalls, f.refreshCalls, f.signOutCalls
}

func newTestManager(t *testing.T, provider *fakeProvider, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(provider, ratelimit.New(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		close(provider.events)
	})
	return m
}

func TestSignInSuccessTransitionsToAuthenticated(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	ident, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, m.State())
	assert.Equal(t, "user-1", ident.UserID)
	require.NotNil(t, m.Current())
}

func TestSignInFailureIsExclusiveOutcome(t *testing.T) {
	provider := newFakeProvider()
	provider.signInErr = fault.New(fault.KindInvalidCredentials, "wrong password")
	m := newTestManager(t, provider, Config{})

	ident, err := m.SignIn(context.Background(), "jo@example.com", "wrong")

	// Either Authenticated or a classified error, never both and never neither.
	require.Error(t, err)
	assert.Nil(t, ident)
	assert.Equal(t, fault.KindInvalidCredentials, fault.KindOf(err))
	assert.Equal(t, StateUnauthenticated, m.State())
	assert.Nil(t, m.Current())
}

func TestSignInValidationNeverContactsProvider(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	testCases := []struct {
		name     string
		email    string
		password string
	}{
		{"bad email", "not-an-email", "hunter22"},
		{"empty password", "jo@example.com", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.SignIn(context.Background(), tc.email, tc.password)
			assert.Equal(t, fault.KindValidation, fault.KindOf(err))
		})
	}

	signIn, _, _ := provider.calls()
	assert.Zero(t, signIn, "validation failures must stay local")
}

func TestSignUpValidation(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	testCases := []struct {
		name        string
		email       string
		password    string
		displayName string
		wantErr     bool
	}{
		{"valid", "jo@example.com", "hunter2222", "Jo Doe", false},
		{"valid without name", "jo@example.com", "hunter2222", "", false},
		{"short password", "jo@example.com", "short", "", true},
		{"long password", "jo@example.com", string(make([]byte, 129)), "", true},
		{"short name", "jo@example.com", "hunter2222", "J", true},
		{"bad email", "jo@", "hunter2222", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pending, err := m.SignUp(context.Background(), tc.email, tc.password, tc.displayName)
			if tc.wantErr {
				assert.Equal(t, fault.KindValidation, fault.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.email, pending.Email)
			// A successful sign-up does not create a session.
			assert.NotEqual(t, StateAuthenticated, m.State())
		})
	}
}

func TestRateLimiterGatesSignIn(t *testing.T) {
	provider := newFakeProvider()
	provider.signInErr = fault.New(fault.KindInvalidCredentials, "wrong password")
	m := newTestManager(t, provider, Config{})

	for i := 0; i < ratelimit.DefaultMaxAttempts; i++ {
		_, err := m.SignIn(context.Background(), "jo@example.com", "wrong")
		assert.Equal(t, fault.KindInvalidCredentials, fault.KindOf(err))
	}

	_, err := m.SignIn(context.Background(), "jo@example.com", "wrong")
	assert.Equal(t, fault.KindRateLimited, fault.KindOf(err))

	signIn, _, _ := provider.calls()
	assert.Equal(t, ratelimit.DefaultMaxAttempts, signIn, "blocked attempts must not reach the provider")
}

func TestSuccessfulSignInResetsLimiter(t *testing.T) {
	provider := newFakeProvider()
	provider.signInErr = fault.New(fault.KindInvalidCredentials, "wrong password")
	m := newTestManager(t, provider, Config{})

	for i := 0; i < ratelimit.DefaultMaxAttempts-1; i++ {
		_, _ = m.SignIn(context.Background(), "jo@example.com", "wrong")
	}

	provider.mu.Lock()
	provider.signInErr = nil
	provider.mu.Unlock()

	_, err := m.SignIn(context.Background(), "jo@example.com", "right")
	require.NoError(t, err)

	// The limiter is reset, so further failures start a fresh count.
	provider.mu.Lock()
	provider.signInErr = fault.New(fault.KindInvalidCredentials, "wrong password")
	provider.mu.Unlock()

	_, err = m.SignIn(context.Background(), "jo@example.com", "wrong")
	assert.Equal(t, fault.KindInvalidCredentials, fault.KindOf(err), "fresh failure should reach the provider, not be rate limited")
}

func TestRefreshSessionSingleFlight(t *testing.T) {
	provider := newFakeProvider()
	gate := make(chan struct{})
	provider.refreshGate = gate
	m := newTestManager(t, provider, Config{})

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() { firstDone <- m.RefreshSession(context.Background()) }()

	// Wait until the first refresh is parked inside the provider call.
	require.Eventually(t, func() bool {
		_, refreshes, _ := provider.calls()
		return refreshes == 1
	}, time.Second, 5*time.Millisecond)

	err = m.RefreshSession(context.Background())
	assert.Equal(t, fault.KindRefreshInProgress, fault.KindOf(err))

	close(gate)
	require.NoError(t, <-firstDone)

	_, refreshes, _ := provider.calls()
	assert.Equal(t, 1, refreshes, "concurrent refreshes must collapse to one network call")
	assert.Equal(t, StateAuthenticated, m.State())
}

func TestRefreshFailureKeepsStaleSession(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	provider.mu.Lock()
	provider.refreshErr = fault.New(fault.KindSessionExpired, "refresh token not found")
	provider.mu.Unlock()

	err = m.RefreshSession(context.Background())
	assert.Equal(t, fault.KindSessionExpired, fault.KindOf(err))

	// The caller decides whether to force sign-out; the manager keeps the
	// stale session in place.
	assert.Equal(t, StateAuthenticated, m.State())
	assert.NotNil(t, m.Current())
}

func TestRefreshWithoutSession(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	err := m.RefreshSession(context.Background())
	assert.Equal(t, fault.KindSessionExpired, fault.KindOf(err))
}

func TestSignOutIsOptimisticallyLocal(t *testing.T) {
	provider := newFakeProvider()
	provider.signOutErr = fault.New(fault.KindNetwork, "provider unreachable")
	m := newTestManager(t, provider, Config{})

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	err = m.SignOut(context.Background())
	require.Error(t, err, "provider failure is reported")

	// But the local view is signed out regardless.
	assert.Equal(t, StateSignedOut, m.State())
	assert.Nil(t, m.Current())
}

func TestSignOutRollbackWhenConfigured(t *testing.T) {
	provider := newFakeProvider()
	provider.signOutErr = fault.New(fault.KindNetwork, "provider unreachable")
	m := newTestManager(t, provider, Config{RollbackFailedSignOut: true})

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	err = m.SignOut(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateAuthenticated, m.State())
	assert.NotNil(t, m.Current())
}

func TestSignInWithProviderIsRateLimitGated(t *testing.T) {
	provider := newFakeProvider()
	provider.signInErr = fault.New(fault.KindInvalidCredentials, "wrong password")
	m := newTestManager(t, provider, Config{})

	url, err := m.SignInWithProvider("github", "https://app/callback")
	require.NoError(t, err)
	assert.Contains(t, url, "provider=github")

	for i := 0; i < ratelimit.DefaultMaxAttempts; i++ {
		_, _ = m.SignIn(context.Background(), "jo@example.com", "wrong")
	}

	_, err = m.SignInWithProvider("github", "https://app/callback")
	assert.Equal(t, fault.KindRateLimited, fault.KindOf(err))
}

func TestProviderEventsResolveInitialState(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	assert.Equal(t, StateUninitialized, m.State())

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	provider.events <- identity.Event{Type: identity.EventInitialSession, Identity: provider.issue()}

	select {
	case u := <-updates:
		assert.Equal(t, StateAuthenticated, u.State)
		require.NotNil(t, u.Identity)
		assert.Equal(t, "user-1", u.Identity.UserID)
	case <-time.After(time.Second):
		t.Fatal("no update after initial session event")
	}
}

func TestProviderEventsResolveToUnauthenticated(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	provider.events <- identity.Event{Type: identity.EventInitialSession}

	select {
	case u := <-updates:
		assert.Equal(t, StateUnauthenticated, u.State)
		assert.Nil(t, u.Identity)
	case <-time.After(time.Second):
		t.Fatal("no update after empty initial session event")
	}
}

func TestSignedOutEventClearsSession(t *testing.T) {
	provider := newFakeProvider()
	m := newTestManager(t, provider, Config{})

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	provider.events <- identity.Event{Type: identity.EventSignedOut}

	require.Eventually(t, func() bool {
		return m.State() == StateSignedOut
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, m.Current())
}

func TestMonitorTriggersSingleProactiveRefresh(t *testing.T) {
	provider := newFakeProvider()
	// Token expires in 3 minutes: inside the 5-minute refresh leeway.
	provider.issuedExpiry = time.Now().Add(3 * time.Minute)
	m := newTestManager(t, provider, Config{CheckInterval: 20 * time.Millisecond})

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	// A successful refresh issues a token with a fresh expiry, so exactly
	// one refresh should fire, not a tight loop.
	provider.mu.Lock()
	provider.issuedExpiry = time.Now().Add(time.Hour)
	provider.mu.Unlock()

	require.Eventually(t, func() bool {
		_, refreshes, _ := provider.calls()
		return refreshes >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	_, refreshes, _ := provider.calls()
	assert.Equal(t, 1, refreshes, "monitor must not loop refreshes")
}

func TestMonitorSurfacesAfterConsecutiveFailures(t *testing.T) {
	provider := newFakeProvider()
	provider.issuedExpiry = time.Now().Add(3 * time.Minute)
	provider.refreshErr = fault.New(fault.KindSessionExpired, "refresh token revoked")
	m := newTestManager(t, provider, Config{CheckInterval: 15 * time.Millisecond})

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.Err != nil {
				assert.Equal(t, fault.KindSessionExpired, fault.KindOf(u.Err))
				_, refreshes, _ := provider.calls()
				assert.LessOrEqual(t, refreshes, 2, "no refresh storm after surfacing")
				return
			}
		case <-deadline:
			t.Fatal("monitor never surfaced the refresh failure")
		}
	}
}

func TestMonitorSurfacesExpiryExactlyOnce(t *testing.T) {
	provider := newFakeProvider()
	provider.issuedExpiry = time.Now().Add(3 * time.Minute)
	provider.refreshErr = fault.New(fault.KindSessionExpired, "refresh token revoked")
	m := newTestManager(t, provider, Config{CheckInterval: 10 * time.Millisecond})

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	_, err := m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	// Drain updates well past the point where the error surfaces; the
	// monitor keeps ticking but must not republish the same failure.
	var errored int
	deadline := time.After(time.Second)
	for done := false; !done; {
		select {
		case u := <-updates:
			if u.Err != nil {
				errored++
			}
		case <-deadline:
			done = true
		}
	}
	assert.Equal(t, 1, errored, "expiry error must surface exactly once")
}

func TestCloseStopsMonitor(t *testing.T) {
	provider := newFakeProvider()
	provider.issuedExpiry = time.Now().Add(3 * time.Minute)
	m, err := NewManager(provider, ratelimit.New(), Config{CheckInterval: 15 * time.Millisecond})
	require.NoError(t, err)

	_, err = m.SignIn(context.Background(), "jo@example.com", "hunter22")
	require.NoError(t, err)

	m.Close()
	close(provider.events)

	_, before, _ := provider.calls()
	time.Sleep(100 * time.Millisecond)
	_, after, _ := provider.calls()
	assert.Equal(t, before, after, "no refreshes may fire after Close")
}
