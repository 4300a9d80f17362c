// Package api provides the HTTP surface for careerforge-cloud.
//
// It exposes two groups of endpoints:
//
// Auth (public, IP rate limited):
//   - POST /v1/auth/signup - Create an account
//   - POST /v1/auth/signin - Sign in with email and password
//   - POST /v1/auth/oauth/{provider} - Start an OAuth sign-in
//   - POST /v1/auth/refresh - Exchange a refresh token for a new session
//   - POST /v1/auth/signout - Revoke the current session
//
// Usage (JWT authenticated):
//   - GET  /v1/usage - Current usage record with per-feature counters
//   - POST /v1/usage/{feature} - Consume one unit of a feature
//   - GET  /v1/plans - Plan limits for all tiers
//   - GET  /v1/usage/audit - Recent usage audit entries
//
// Errors carry a machine-readable code derived from the fault taxonomy in
// internal/fault; see errors.go for the mapping.
package api
