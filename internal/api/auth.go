package api

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/identity"
	"github.com/careerforge/careerforge-cloud/internal/ratelimit"
)

// AuthService handles authentication operations by delegating to the
// identity provider. Credential attempts are throttled per email address
// with a sliding window, independent of the per-IP request limiter.
type AuthService struct {
	provider identity.Provider

	mu       sync.Mutex
	limiters map[string]*emailLimiter
}

// emailLimiter pairs an attempt limiter with the time it was last touched
// so stale entries can be evicted.
type emailLimiter struct {
	limiter  *ratelimit.AttemptLimiter
	lastSeen time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(provider identity.Provider) *AuthService {
	a := &AuthService{
		provider: provider,
		limiters: make(map[string]*emailLimiter),
	}

	// Cleanup goroutine keeps the per-email map bounded; without it every
	// distinct address ever attempted would stay resident
	go a.cleanupLimiters()

	return a
}

// cleanupLimiters periodically drops limiters whose window elapsed over an
// hour ago.
func (a *AuthService) cleanupLimiters() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		a.evictStale(time.Now().Add(-time.Hour))
	}
}

// evictStale removes limiters not touched since the cutoff.
func (a *AuthService) evictStale(cutoff time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, entry := range a.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(a.limiters, key)
		}
	}
}

// limiterFor returns the attempt limiter for an email, creating it on first use.
func (a *AuthService) limiterFor(email string) *ratelimit.AttemptLimiter {
	key := strings.ToLower(strings.TrimSpace(email))

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.limiters[key]
	if !ok {
		entry = &emailLimiter{limiter: ratelimit.New()}
		a.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// SignUp handles POST /v1/auth/signup.
// A successful sign-up is pending email verification; no tokens are issued.
func (a *AuthService) SignUp(ctx context.Context, input *SignUpInput) (*SignUpOutput, error) {
	req := input.Body

	limiter := a.limiterFor(req.Email)
	if limiter.ShouldBlock() {
		return nil, humaError(fault.New(fault.KindRateLimited, "too many attempts"))
	}

	pending, err := a.provider.SignUp(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		// Failed sign-ups count against the window so the endpoint cannot
		// be used to probe for registered addresses without limit.
		limiter.RecordAttempt()
		return nil, humaError(err)
	}

	return &SignUpOutput{
		Body: SignUpResponse{
			UserID:    pending.UserID,
			Email:     pending.Email,
			Status:    "pending_verification",
			CreatedAt: pending.CreatedAt.Format(time.RFC3339),
		},
	}, nil
}

// SignIn handles POST /v1/auth/signin.
func (a *AuthService) SignIn(ctx context.Context, input *SignInInput) (*SignInOutput, error) {
	req := input.Body

	limiter := a.limiterFor(req.Email)
	if limiter.ShouldBlock() {
		return nil, humaError(fault.New(fault.KindRateLimited, "too many attempts"))
	}

	ident, err := a.provider.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		limiter.RecordAttempt()
		return nil, humaError(err)
	}

	// A successful sign-in clears the attempt window for this email
	limiter.Reset()

	return &SignInOutput{Body: sessionResponse(ident)}, nil
}

// Refresh handles POST /v1/auth/refresh.
func (a *AuthService) Refresh(ctx context.Context, input *RefreshInput) (*RefreshOutput, error) {
	ident, err := a.provider.Refresh(ctx, input.Body.RefreshToken)
	if err != nil {
		return nil, humaError(err)
	}

	return &RefreshOutput{Body: sessionResponse(ident)}, nil
}

// SignOut handles POST /v1/auth/signout.
// Revocation failures are logged but reported as success: the client has
// already discarded its tokens and retrying changes nothing for it.
func (a *AuthService) SignOut(ctx context.Context, input *SignOutInput) (*SignOutOutput, error) {
	token, ok := bearerToken(input.Authorization)
	if !ok {
		return nil, humaError(fault.New(fault.KindValidation, "missing bearer token"))
	}

	if err := a.provider.SignOut(ctx, token); err != nil {
		slog.Warn("sign-out revocation failed", "error", err, "kind", fault.KindOf(err))
	}

	return &SignOutOutput{Body: SignOutResponse{Status: "signed_out"}}, nil
}

// OAuthStart handles POST /v1/auth/oauth/{provider}.
// It returns the provider authorization URL; the session itself arrives
// through the provider's event stream after the user completes consent.
func (a *AuthService) OAuthStart(ctx context.Context, input *OAuthStartInput) (*OAuthStartOutput, error) {
	url, err := a.provider.AuthorizeURL(input.Provider, input.Body.RedirectURL)
	if err != nil {
		return nil, humaError(err)
	}

	return &OAuthStartOutput{Body: OAuthStartResponse{URL: url}}, nil
}

// sessionResponse converts a provider identity into the wire session shape.
func sessionResponse(ident *identity.Identity) SessionResponse {
	return SessionResponse{
		UserID:       ident.UserID,
		Email:        ident.Email,
		DisplayName:  ident.DisplayName,
		AccessToken:  ident.AccessToken,
		RefreshToken: ident.RefreshToken,
		ExpiresAt:    ident.ExpiresAt.Format(time.RFC3339),
	}
}
