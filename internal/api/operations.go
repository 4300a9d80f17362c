// Package api defines the huma input/output types for OpenAPI documentation.
package api

// Huma input/output types for API operations.
// These wrap the core types with path parameters, headers, and body.

// --- Auth ---

// SignUpInput is the input for POST /v1/auth/signup.
type SignUpInput struct {
	Body SignUpRequest
}

// SignUpOutput is the output for POST /v1/auth/signup.
type SignUpOutput struct {
	Body SignUpResponse
}

// SignInInput is the input for POST /v1/auth/signin.
type SignInInput struct {
	Body SignInRequest
}

// SignInOutput is the output for POST /v1/auth/signin.
type SignInOutput struct {
	Body SessionResponse
}

// RefreshInput is the input for POST /v1/auth/refresh.
type RefreshInput struct {
	Body RefreshRequest
}

// RefreshOutput is the output for POST /v1/auth/refresh.
type RefreshOutput struct {
	Body SessionResponse
}

// SignOutInput is the input for POST /v1/auth/signout.
// The access token to revoke comes from the Authorization header.
type SignOutInput struct {
	Authorization string `header:"Authorization" doc:"Bearer access token of the session to revoke"`
}

// SignOutOutput is the output for POST /v1/auth/signout.
type SignOutOutput struct {
	Body SignOutResponse
}

// OAuthStartInput is the input for POST /v1/auth/oauth/{provider}.
type OAuthStartInput struct {
	Provider string `path:"provider" doc:"OAuth provider" example:"google" enum:"google,github,linkedin"`
	Body     OAuthStartRequest
}

// OAuthStartOutput is the output for POST /v1/auth/oauth/{provider}.
type OAuthStartOutput struct {
	Body OAuthStartResponse
}

// --- Usage ---

// GetUsageInput is the input for GET /v1/usage.
type GetUsageInput struct {
}

// GetUsageOutput is the output for GET /v1/usage.
type GetUsageOutput struct {
	Body UsageResponse
}

// IncrementUsageInput is the input for POST /v1/usage/{feature}.
type IncrementUsageInput struct {
	Feature string `path:"feature" doc:"Feature counter to increment" example:"job_searches_used" minLength:"1"`
	Body    IncrementUsageRequest
}

// IncrementUsageOutput is the output for POST /v1/usage/{feature}.
type IncrementUsageOutput struct {
	Body UsageResponse
}

// GetPlanLimitsInput is the input for GET /v1/plans.
type GetPlanLimitsInput struct {
}

// GetPlanLimitsOutput is the output for GET /v1/plans.
type GetPlanLimitsOutput struct {
	Body PlanLimitsResponse
}

// SetPlanInput is the input for PUT /v1/account/plan.
type SetPlanInput struct {
	Body SetPlanRequest
}

// SetPlanOutput is the output for PUT /v1/account/plan.
type SetPlanOutput struct {
	Body SetPlanResponse
}

// ListAuditInput is the input for GET /v1/usage/audit.
type ListAuditInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of entries to return"`
}

// ListAuditOutput is the output for GET /v1/usage/audit.
type ListAuditOutput struct {
	Body AuditResponse
}

// --- Health ---

// HealthCheckInput is the input for GET /health.
type HealthCheckInput struct {
}

// HealthCheckOutput is the output for GET /health.
type HealthCheckOutput struct {
	Body struct {
		Status string `json:"status" doc:"Health status" example:"ok"`
	}
}
