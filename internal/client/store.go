// Package client talks to the hosted usage API over REST. Its UsageClient
// implements quota.Store, so a quota.Tracker in a client process runs
// against the hosted API exactly as the server runs it against Postgres.
// Error bodies are mapped back onto the fault taxonomy, so version
// conflicts and quota denials round-trip with their kind intact.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/careerforge/careerforge-cloud/internal/db"
	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/plans"
)

const defaultTimeout = 30 * time.Second

// TokenSource returns the current access token for a request. Wiring it as
// a function lets the session manager rotate tokens underneath the client.
type TokenSource func() string

// UsageClient calls the usage endpoints of a careerforge-cloud server.
type UsageClient struct {
	httpClient *http.Client
	baseURL    string
	token      TokenSource
}

// NewUsageClient creates a client for the given server base URL. The token
// source is consulted on every request.
func NewUsageClient(baseURL string, token TokenSource) *UsageClient {
	return &UsageClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		token:      token,
	}
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func (c *UsageClient) WithHTTPClient(client *http.Client) *UsageClient {
	c.httpClient = client
	return c
}

// usagePayload is the server's usage body shape.
type usagePayload struct {
	UserID          string         `json:"userId"`
	PlanType        string         `json:"planType"`
	Counts          map[string]int `json:"counts"`
	Version         int64          `json:"version"`
	LastResetDate   string         `json:"lastResetDate"`
	BillingCycleEnd string         `json:"billingCycleEnd"`
}

// request executes one API call. Transport failures classify as network
// faults; 4xx/5xx responses are classified from the error body's code.
func (c *UsageClient) request(ctx context.Context, method, path string, body any) ([]byte, error) {
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
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindNetwork, "usage API unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "failed to read API response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, classify(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// GetUsage fetches the caller's usage record. The server derives the user
// from the bearer token; userID is checked against the response so a stale
// token cannot silently hand back someone else's counters.
func (c *UsageClient) GetUsage(ctx context.Context, userID string) (*db.UsageRecord, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/usage", nil)
	if err != nil {
		return nil, err
	}

	rec, err := parseUsage(body)
	if err != nil {
		return nil, err
	}
	if userID != "" && rec.UserID != userID {
		return nil, fault.Newf(fault.KindSessionExpired, "usage returned for %s, expected %s", rec.UserID, userID)
	}
	return rec, nil
}

// IncrementUsage charges one unit of a feature with the last-observed
// version as the optimistic-concurrency stamp. The hosted API charges a
// single unit per call, so amounts other than one are rejected locally.
func (c *UsageClient) IncrementUsage(ctx context.Context, userID, feature string, amount int, expectedVersion int64, metadata map[string]any) (*db.UsageRecord, error) {
	if amount != 1 {
		return nil, fault.New(fault.KindValidation, "the usage API charges one unit per call")
	}

	payload := map[string]any{"version": expectedVersion}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}

	body, err := c.request(ctx, http.MethodPost, "/v1/usage/"+url.PathEscape(feature), payload)
	if err != nil {
		return nil, err
	}
	return parseUsage(body)
}

// GetPlanLimits fetches the full plan-limits table.
func (c *UsageClient) GetPlanLimits(ctx context.Context) ([]plans.Limit, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/plans", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Limits []struct {
			PlanType string `json:"planType"`
			Feature  string `json:"feature"`
			Limit    int    `json:"limit"`
		} `json:"limits"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, "malformed plan-limits response", err)
	}

	limits := make([]plans.Limit, 0, len(resp.Limits))
	for _, row := range resp.Limits {
		limits = append(limits, plans.Limit{PlanType: row.PlanType, Feature: row.Feature, Value: row.Limit})
	}
	return limits, nil
}

// parseUsage converts the API's usage body into the store record shape.
func parseUsage(body []byte) (*db.UsageRecord, error) {
	var p usagePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, "malformed usage response", err)
	}

	rec := &db.UsageRecord{
		UserID:   p.UserID,
		PlanType: p.PlanType,
		Counts:   p.Counts,
		Version:  p.Version,
	}
	if p.LastResetDate != "" {
		t, err := time.Parse(time.RFC3339, p.LastResetDate)
		if err != nil {
			return nil, fault.Wrap(fault.KindUnknown, "malformed usage reset date", err)
		}
		rec.LastResetDate = t
	}
	if p.BillingCycleEnd != "" {
		t, err := time.Parse(time.RFC3339, p.BillingCycleEnd)
		if err != nil {
			return nil, fault.Wrap(fault.KindUnknown, "malformed billing cycle end", err)
		}
		rec.BillingCycleEnd = t
	}
	return rec, nil
}
