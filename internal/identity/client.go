package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/careerforge/careerforge-cloud/internal/fault"
)

const defaultTimeout = 30 * time.Second

// HTTPClient talks to a GoTrue-compatible identity provider over REST.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPClient creates a provider client for the given base URL and
// publishable API key.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// tokenResponse is the provider's session payload shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		CreatedAt string `json:"created_at"`
		Metadata  struct {
			DisplayName string `json:"display_name"`
		} `json:"user_metadata"`
	} `json:"user"`
}

// request executes one provider call. Transport failures classify as network
// faults; 4xx/5xx responses are classified from status and body.
func (c *HTTPClient) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindNetwork, "identity provider unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "failed to read provider response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, classify(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// SignUp registers a new account with the provider. The returned Pending
// carries the created user but no session; the provider requires email
// verification before a session exists.
func (c *HTTPClient) SignUp(ctx context.Context, email, password, displayName string) (*Pending, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if displayName != "" {
		payload["data"] = map[string]string{"display_name": displayName}
	}

	body, err := c.request(ctx, http.MethodPost, "/signup", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, "malformed sign-up response", err)
	}

	return &Pending{UserID: resp.ID, Email: resp.Email, CreatedAt: resp.CreatedAt}, nil
}

// SignInWithPassword exchanges email/password for a session.
func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	body, err := c.request(ctx, http.MethodPost, "/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return c.parseSession(body)
}

// Refresh exchanges a refresh token for a renewed session.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*Identity, error) {
	body, err := c.request(ctx, http.MethodPost, "/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	return c.parseSession(body)
}

// SignOut revokes the session server-side.
func (c *HTTPClient) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.Wrap(fault.KindNetwork, "identity provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return classify(resp.StatusCode, body)
	}
	return nil
}

// AuthorizeURL builds the OAuth redirect URL for an external provider flow.
func (c *HTTPClient) AuthorizeURL(provider, redirectURL string) (string, error) {
	if provider == "" {
		return "", fault.New(fault.KindValidation, "provider name is required")
	}

	q := url.Values{}
	q.Set("provider", provider)
	if redirectURL != "" {
		q.Set("redirect_to", redirectURL)
	}
	return c.baseURL + "/authorize?" + q.Encode(), nil
}

// parseSession converts a token response into an Identity. Expiry comes from
// expires_at, then expires_in, then the access token's own exp claim. The JWT
// parse is unverified on purpose: only the provider holds the signing key,
// and this client needs the claim for scheduling, not for trust.
func (c *HTTPClient) parseSession(body []byte) (*Identity, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, "malformed session response", err)
	}
	if resp.AccessToken == "" {
		return nil, fault.New(fault.KindUnknown, "provider returned no access token")
	}

	expiresAt := time.Unix(resp.ExpiresAt, 0).UTC()
	if resp.ExpiresAt == 0 && resp.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}
	if resp.ExpiresAt == 0 && resp.ExpiresIn == 0 {
		if exp, err := tokenExpiry(resp.AccessToken); err == nil {
			expiresAt = exp
		}
	}

	return &Identity{
		UserID:       resp.User.ID,
		Email:        resp.User.Email,
		DisplayName:  resp.User.Metadata.DisplayName,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// tokenExpiry extracts the exp claim from an access token without verifying
// its signature.
func tokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse access token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("access token has no exp claim")
	}
	return exp.Time.UTC(), nil
}
