package api

import (
	gocontext "context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/careerforge/careerforge-cloud/internal/db"
)

// Services holds all the service instances used by the API.
type Services struct {
	Auth  *AuthService
	Usage *UsageService
	DB    *db.Client
}

// RegisterRoutes registers all huma routes with their service handlers.
// It sets up the huma API with OpenAPI documentation and security schemes,
// then registers all endpoints with proper middleware.
func RegisterRoutes(router *chi.Mux, services *Services, verifier TokenVerifier, limiter *RequestLimiter) huma.API {
	config := huma.DefaultConfig("CareerForge Cloud API", "1.0.0")
	config.Info = OpenAPIInfo().Info
	config.Tags = OpenAPIInfo().Tags
	config.Servers = OpenAPIInfo().Servers

	humaAPI := humachi.New(router, config)

	if humaAPI.OpenAPI().Components.SecuritySchemes == nil {
		humaAPI.OpenAPI().Components.SecuritySchemes = make(map[string]*huma.SecurityScheme)
	}
	for name, scheme := range SecuritySchemes() {
		humaAPI.OpenAPI().Components.SecuritySchemes[name] = scheme
	}

	// OpenAPI spec endpoints (unauthenticated)
	router.Get("/openapi.json", handleOpenAPIJSON(humaAPI))
	router.Get("/openapi.yaml", handleOpenAPIYAML(humaAPI))

	// Health check (no auth, no rate limit)
	huma.Register(humaAPI, huma.Operation{
		OperationID: "health",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status. Does not require authentication.",
		Tags:        []string{"Health"},
	}, func(ctx gocontext.Context, input *HealthCheckInput) (*HealthCheckOutput, error) {
		if services.DB != nil {
			if err := services.DB.Health(ctx); err != nil {
				return nil, huma.Error503ServiceUnavailable(fmt.Sprintf("database health check failed: %v", err))
			}
		}
		return &HealthCheckOutput{
			Body: struct {
				Status string `json:"status" doc:"Health status" example:"ok"`
			}{Status: "ok"},
		}, nil
	})

	registerAuthRoutes(humaAPI, services, limiter)
	registerUsageRoutes(humaAPI, services, verifier, limiter)

	return humaAPI
}

// registerAuthRoutes registers the public auth endpoints. Per-IP request
// throttling for these paths is applied at the chi layer in server.go;
// per-email attempt limiting lives inside AuthService.
func registerAuthRoutes(humaAPI huma.API, services *Services, limiter *RequestLimiter) {
	ipLimit := humaIPLimitMiddleware(limiter)

	huma.Register(humaAPI, huma.Operation{
		OperationID:   "signUp",
		Method:        "POST",
		Path:          "/v1/auth/signup",
		Summary:       "Create an account",
		Description:   "Register a new account. The account is pending until the verification email is confirmed; no tokens are issued.",
		Tags:          []string{"Auth"},
		DefaultStatus: 201,
		Middlewares:   huma.Middlewares{ipLimit},
	}, services.Auth.SignUp)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "signIn",
		Method:      "POST",
		Path:        "/v1/auth/signin",
		Summary:     "Sign in with email and password",
		Description: "Exchange credentials for a session with access and refresh tokens. Repeated failures for the same email are throttled.",
		Tags:        []string{"Auth"},
		Middlewares: huma.Middlewares{ipLimit},
	}, services.Auth.SignIn)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "oauthStart",
		Method:      "POST",
		Path:        "/v1/auth/oauth/{provider}",
		Summary:     "Start an OAuth sign-in",
		Description: "Returns the provider authorization URL to redirect the user to. The session is established via the OAuth callback, not this call.",
		Tags:        []string{"Auth"},
		Middlewares: huma.Middlewares{ipLimit},
	}, services.Auth.OAuthStart)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "refreshSession",
		Method:      "POST",
		Path:        "/v1/auth/refresh",
		Summary:     "Refresh a session",
		Description: "Exchange a refresh token for a new access token. A used or revoked refresh token returns 401 SESSION_EXPIRED.",
		Tags:        []string{"Auth"},
		Middlewares: huma.Middlewares{ipLimit},
	}, services.Auth.Refresh)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "signOut",
		Method:      "POST",
		Path:        "/v1/auth/signout",
		Summary:     "Sign out",
		Description: "Revoke the session identified by the bearer access token. Always succeeds from the client's point of view.",
		Tags:        []string{"Auth"},
		Middlewares: huma.Middlewares{ipLimit},
	}, services.Auth.SignOut)
}

// registerUsageRoutes registers endpoints that require a valid access token.
func registerUsageRoutes(humaAPI huma.API, services *Services, verifier TokenVerifier, limiter *RequestLimiter) {
	authMiddleware := humaAuthMiddleware(verifier)
	userLimit := humaUserLimitMiddleware(limiter)
	securityRequirement := []map[string][]string{{"bearerAuth": {}}}

	huma.Register(humaAPI, huma.Operation{
		OperationID: "getUsage",
		Method:      "GET",
		Path:        "/v1/usage",
		Summary:     "Get usage",
		Description: "Returns the caller's usage record with per-feature counters, limits, and the record version for optimistic updates.",
		Tags:        []string{"Usage"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware, userLimit},
	}, services.Usage.GetUsage)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "incrementUsage",
		Method:      "POST",
		Path:        "/v1/usage/{feature}",
		Summary:     "Consume a feature unit",
		Description: "Atomically increment a feature counter. The request carries the record version last observed; a stale version returns 409 VERSION_CONFLICT, and exceeding the plan limit returns 429 QUOTA_EXCEEDED.",
		Tags:        []string{"Usage"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware, userLimit},
	}, services.Usage.IncrementUsage)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "getPlanLimits",
		Method:      "GET",
		Path:        "/v1/plans",
		Summary:     "Get plan limits",
		Description: "Returns the feature limits for every plan tier. A limit of -1 means unlimited.",
		Tags:        []string{"Usage"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware, userLimit},
	}, services.Usage.GetPlanLimits)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "setPlan",
		Method:      "PUT",
		Path:        "/v1/account/plan",
		Summary:     "Set the account plan",
		Description: "Set the caller's plan. Legacy plan names are accepted and normalized to free, pro, or premium.",
		Tags:        []string{"Usage"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware, userLimit},
	}, services.Usage.SetPlan)

	huma.Register(humaAPI, huma.Operation{
		OperationID: "listUsageAudit",
		Method:      "GET",
		Path:        "/v1/usage/audit",
		Summary:     "List usage audit entries",
		Description: "Returns the caller's most recent usage increments, newest first.",
		Tags:        []string{"Usage"},
		Security:    securityRequirement,
		Middlewares: huma.Middlewares{authMiddleware, userLimit},
	}, services.Usage.ListAudit)
}

// humaIPLimitMiddleware throttles request volume per client IP before the
// handler runs. Used on the public auth endpoints.
func humaIPLimitMiddleware(limiter *RequestLimiter) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		ip := ctx.RemoteAddr()
		if forwarded := ctx.Header("X-Forwarded-For"); forwarded != "" {
			ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
		}

		if !limiter.allow("ip:"+ip, authRequestsPerSecond) {
			writeHumaRateLimited(ctx)
			return
		}

		next(ctx)
	}
}

// humaUserLimitMiddleware throttles request volume per authenticated user.
// It must run after humaAuthMiddleware.
func humaUserLimitMiddleware(limiter *RequestLimiter) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		userID, ok := GetUserID(ctx.Context())
		if !ok {
			writeHumaUnauthorized(ctx, "unauthorized")
			return
		}

		if !limiter.allow("user:"+userID, userRequestsPerSecond) {
			writeHumaRateLimited(ctx)
			return
		}

		next(ctx)
	}
}

// writeHumaRateLimited writes a 429 response for huma middleware.
func writeHumaRateLimited(ctx huma.Context) {
	ctx.SetStatus(http.StatusTooManyRequests)
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetHeader("Retry-After", "1")
	_ = json.NewEncoder(ctx.BodyWriter()).Encode(ErrorResponse{
		Error: "too many requests",
		Code:  CodeRateLimited,
	})
}

// humaAuthMiddleware creates a huma middleware that verifies the access
// token and sets the user ID and plan in the context.
func humaAuthMiddleware(verifier TokenVerifier) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		token, ok := bearerToken(ctx.Header("Authorization"))
		if !ok {
			writeHumaUnauthorized(ctx, "missing authorization header")
			return
		}

		userID, plan, err := verifier.Verify(token)
		if err != nil {
			writeHumaUnauthorized(ctx, "invalid or expired token")
			return
		}

		newCtx := WithUserID(ctx.Context(), userID)
		if plan != "" {
			newCtx = WithUserPlan(newCtx, plan)
		}

		next(&humaContextWrapper{inner: ctx, overrideCtx: newCtx})
	}
}

// writeHumaUnauthorized writes a 401 Unauthorized response for huma middleware.
func writeHumaUnauthorized(ctx huma.Context, msg string) {
	ctx.SetStatus(http.StatusUnauthorized)
	ctx.SetHeader("Content-Type", "application/json")
	_ = json.NewEncoder(ctx.BodyWriter()).Encode(ErrorResponse{
		Error: msg,
		Code:  CodeUnauthorized,
	})
}

// humaContextWrapper wraps a huma.Context with a custom gocontext.Context.
type humaContextWrapper struct {
	inner       huma.Context
	overrideCtx gocontext.Context //nolint:containedctx // Required to override embedded huma.Context
}

// Implement all huma.Context methods by delegating to inner, except Context()
func (c *humaContextWrapper) Context() gocontext.Context             { return c.overrideCtx }
func (c *humaContextWrapper) Operation() *huma.Operation             { return c.inner.Operation() }
func (c *humaContextWrapper) TLS() *tls.ConnectionState              { return c.inner.TLS() }
func (c *humaContextWrapper) Version() huma.ProtoVersion             { return c.inner.Version() }
func (c *humaContextWrapper) Method() string                         { return c.inner.Method() }
func (c *humaContextWrapper) Host() string                           { return c.inner.Host() }
func (c *humaContextWrapper) RemoteAddr() string                     { return c.inner.RemoteAddr() }
func (c *humaContextWrapper) URL() url.URL                           { return c.inner.URL() }
func (c *humaContextWrapper) Param(name string) string               { return c.inner.Param(name) }
func (c *humaContextWrapper) Query(name string) string               { return c.inner.Query(name) }
func (c *humaContextWrapper) Header(name string) string              { return c.inner.Header(name) }
func (c *humaContextWrapper) EachHeader(cb func(name, value string)) { c.inner.EachHeader(cb) }
func (c *humaContextWrapper) BodyReader() io.Reader                  { return c.inner.BodyReader() }
func (c *humaContextWrapper) GetMultipartForm() (*multipart.Form, error) {
	return c.inner.GetMultipartForm()
}
func (c *humaContextWrapper) SetReadDeadline(t time.Time) error { return c.inner.SetReadDeadline(t) }
func (c *humaContextWrapper) SetStatus(code int)                { c.inner.SetStatus(code) }
func (c *humaContextWrapper) Status() int                       { return c.inner.Status() }
func (c *humaContextWrapper) SetHeader(name, value string)      { c.inner.SetHeader(name, value) }
func (c *humaContextWrapper) AppendHeader(name, value string)   { c.inner.AppendHeader(name, value) }
func (c *humaContextWrapper) BodyWriter() io.Writer             { return c.inner.BodyWriter() }
