// Package api provides HTTP API types for careerforge-cloud
package api

// SignUpRequest defines the request body for POST /v1/auth/signup
type SignUpRequest struct {
	Email       string `json:"email" format:"email" doc:"Account email address"`
	Password    string `json:"password" minLength:"8" maxLength:"128" doc:"Account password"`
	DisplayName string `json:"displayName,omitempty" minLength:"2" maxLength:"100" doc:"Optional display name"`
}

// SignUpResponse defines the response body for POST /v1/auth/signup.
// A successful sign-up is pending email verification and carries no tokens.
type SignUpResponse struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Status    string `json:"status"` // always "pending_verification"
	CreatedAt string `json:"createdAt"`
}

// SignInRequest defines the request body for POST /v1/auth/signin
type SignInRequest struct {
	Email    string `json:"email" format:"email" doc:"Account email address"`
	Password string `json:"password" minLength:"1" doc:"Account password"`
}

// SessionResponse carries an established session with its tokens.
type SessionResponse struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
}

// RefreshRequest defines the request body for POST /v1/auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" minLength:"1" doc:"Refresh token from a previous session"`
}

// SignOutResponse defines the response body for POST /v1/auth/signout
type SignOutResponse struct {
	Status string `json:"status"` // always "signed_out"
}

// OAuthStartRequest defines the request body for POST /v1/auth/oauth/{provider}
type OAuthStartRequest struct {
	RedirectURL string `json:"redirectUrl" format:"uri" doc:"URL the provider redirects back to after consent"`
}

// OAuthStartResponse defines the response body for POST /v1/auth/oauth/{provider}
type OAuthStartResponse struct {
	URL string `json:"url" doc:"Provider authorization URL to redirect the user to"`
}

// UsageResponse defines the response body for GET /v1/usage
type UsageResponse struct {
	UserID          string         `json:"userId"`
	PlanType        string         `json:"planType"`
	Counts          map[string]int `json:"counts"`
	Limits          map[string]int `json:"limits"` // -1 means unlimited
	Version         int64          `json:"version"`
	LastResetDate   string         `json:"lastResetDate"`
	BillingCycleEnd string         `json:"billingCycleEnd"`
}

// IncrementUsageRequest defines the request body for POST /v1/usage/{feature}.
// Version is the record version the client last observed; a stale version is
// rejected with 409 VERSION_CONFLICT and the client must re-fetch usage.
type IncrementUsageRequest struct {
	Version  int64          `json:"version" minimum:"0" doc:"Usage record version the client last observed"`
	Metadata map[string]any `json:"metadata,omitempty" doc:"Optional audit context, e.g. the job posting acted on"`
}

// PlanLimit is one feature limit row within a plan.
type PlanLimit struct {
	PlanType string `json:"planType"`
	Feature  string `json:"feature"`
	Limit    int    `json:"limit"` // -1 means unlimited
}

// PlanLimitsResponse defines the response body for GET /v1/plans
type PlanLimitsResponse struct {
	Limits []PlanLimit `json:"limits"`
}

// SetPlanRequest defines the request body for PUT /v1/account/plan
type SetPlanRequest struct {
	PlanType string `json:"planType" minLength:"1" doc:"Plan name or alias; aliases normalize to free, pro, or premium"`
}

// SetPlanResponse defines the response body for PUT /v1/account/plan
type SetPlanResponse struct {
	PlanType string `json:"planType"` // the canonical tier after normalization
}

// AuditEntryResponse is one recorded usage increment.
type AuditEntryResponse struct {
	ID        string         `json:"id"`
	Feature   string         `json:"feature"`
	Amount    int            `json:"amount"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// AuditResponse defines the response body for GET /v1/usage/audit
type AuditResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
}
