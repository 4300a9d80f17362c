// Package identity is the boundary to the external identity provider. All
// provider responses are normalized here: raw HTTP errors become classified
// fault kinds, token payloads become Identity values, and the provider's
// push channel becomes a typed event stream. Nothing provider-specific leaks
// past this package.
package identity

import (
	"context"
	"time"
)

// Identity is the authenticated subject plus its token and expiry. It is
// replaced wholesale on every provider event, never merged field-by-field.
type Identity struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Pending is a successful sign-up that has not become a session yet because
// the provider requires email verification first.
type Pending struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType labels a provider push notification.
type EventType string

const (
	// EventInitialSession is the provider's answer at load time: the session
	// it restored, or nil when there is none.
	EventInitialSession EventType = "INITIAL_SESSION"
	// EventSignedIn means another channel (OAuth callback, another tab)
	// established a session.
	EventSignedIn EventType = "SIGNED_IN"
	// EventTokenRefreshed means the token was renewed, possibly by another tab.
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	// EventSignedOut means the session was ended or revoked.
	EventSignedOut EventType = "SIGNED_OUT"
)

// Event is an asynchronous identity-changed notification. Identity is nil
// for EventSignedOut and for an EventInitialSession with no restored session.
type Event struct {
	Type     EventType
	Identity *Identity
}

// Provider is the identity provider contract the session manager depends on.
// Every call is fallible and remote; errors come back classified.
type Provider interface {
	// SignUp registers a new account. A success is pending email
	// verification and does not carry a session.
	SignUp(ctx context.Context, email, password, displayName string) (*Pending, error)

	// SignInWithPassword exchanges credentials for an identity with tokens.
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)

	// Refresh exchanges a refresh token for a renewed identity.
	Refresh(ctx context.Context, refreshToken string) (*Identity, error)

	// SignOut revokes the session server-side.
	SignOut(ctx context.Context, accessToken string) error

	// AuthorizeURL builds the redirect URL for an OAuth provider flow. The
	// resulting identity arrives through Events, not through this call.
	AuthorizeURL(provider, redirectURL string) (string, error)

	// Events opens the provider's push channel. The returned channel closes
	// when ctx is cancelled or the stream ends unrecoverably.
	Events(ctx context.Context) (<-chan Event, error)
}
