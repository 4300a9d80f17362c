package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/quota"
)

func staticToken(token string) TokenSource {
	return func() string { return token }
}

func TestGetUsageParsesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/usage", r.URL.Path)
		assert.Equal(t, "Bearer at_abc", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"userId": "user-1",
			"planType": "free",
			"counts": {"job_searches_used": 2},
			"limits": {"job_searches_used": 3},
			"version": 7,
			"lastResetDate": "2026-08-01T00:00:00Z",
			"billingCycleEnd": "2026-09-01T00:00:00Z"
		}`))
	}))
	defer srv.Close()

	c := NewUsageClient(srv.URL, staticToken("at_abc"))
	rec, err := c.GetUsage(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "free", rec.PlanType)
	assert.Equal(t, 2, rec.Used("job_searches_used"))
	assert.Equal(t, int64(7), rec.Version)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), rec.LastResetDate)
}

func TestGetUsageRejectsMismatchedUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"userId": "someone-else", "planType": "free", "counts": {}, "version": 1}`))
	}))
	defer srv.Close()

	c := NewUsageClient(srv.URL, staticToken("at_abc"))
	_, err := c.GetUsage(context.Background(), "user-1")

	require.Error(t, err)
	assert.Equal(t, fault.KindSessionExpired, fault.KindOf(err))
}

func TestIncrementUsageSendsVersionStamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/usage/job_searches_used", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 7, body["version"])

		_, _ = w.Write([]byte(`{"userId": "user-1", "planType": "free", "counts": {"job_searches_used": 3}, "version": 8}`))
	}))
	defer srv.Close()

	c := NewUsageClient(srv.URL, staticToken("at_abc"))
	rec, err := c.IncrementUsage(context.Background(), "user-1", "job_searches_used", 1, 7, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(8), rec.Version)
	assert.Equal(t, 3, rec.Used("job_searches_used"))
}

func TestIncrementUsageRejectsMultiUnitCharges(t *testing.T) {
	c := NewUsageClient("http://unused", staticToken(""))
	_, err := c.IncrementUsage(context.Background(), "user-1", "job_searches_used", 2, 0, nil)

	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestClassifyRestoresFaultKinds(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected fault.Kind
	}{
		{"version conflict", http.StatusConflict, `{"error": "usage was modified concurrently", "code": "VERSION_CONFLICT"}`, fault.KindVersionConflict},
		{"quota exceeded", http.StatusTooManyRequests, `{"error": "limit reached", "code": "QUOTA_EXCEEDED", "feature": "job_searches_used", "used": 3, "limit": 3}`, fault.KindQuotaExceeded},
		{"rate limited", http.StatusTooManyRequests, `{"error": "too many requests", "code": "RATE_LIMITED"}`, fault.KindRateLimited},
		{"expired token", http.StatusUnauthorized, `{"error": "invalid or expired token", "code": "UNAUTHORIZED"}`, fault.KindSessionExpired},
		{"validation", http.StatusBadRequest, `{"error": "unknown feature", "code": "BAD_REQUEST"}`, fault.KindValidation},
		{"codeless 500", http.StatusInternalServerError, `boom`, fault.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewUsageClient(srv.URL, staticToken("at_abc"))
			_, err := c.GetUsage(context.Background(), "user-1")

			require.Error(t, err)
			assert.Equal(t, tt.expected, fault.KindOf(err))
		})
	}
}

func TestQuotaDenialCarriesUsageContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "plan limit reached", "code": "QUOTA_EXCEEDED", "feature": "job_searches_used", "used": 3, "limit": 3}`))
	}))
	defer srv.Close()

	c := NewUsageClient(srv.URL, staticToken("at_abc"))
	_, err := c.IncrementUsage(context.Background(), "user-1", "job_searches_used", 1, 3, nil)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "job_searches_used", fe.Feature)
	assert.Equal(t, 3, fe.Used)
	assert.Equal(t, 3, fe.Limit)
}

func TestGetPlanLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/plans", r.URL.Path)
		_, _ = w.Write([]byte(`{"limits": [
			{"planType": "free", "feature": "job_searches_used", "limit": 3},
			{"planType": "premium", "feature": "job_searches_used", "limit": -1}
		]}`))
	}))
	defer srv.Close()

	c := NewUsageClient(srv.URL, staticToken("at_abc"))
	limits, err := c.GetPlanLimits(context.Background())
	require.NoError(t, err)

	require.Len(t, limits, 2)
	assert.Equal(t, "free", limits[0].PlanType)
	assert.Equal(t, 3, limits[0].Value)
	assert.Equal(t, -1, limits[1].Value)
}

// usageFixture is a minimal server-side usage row for the tracker tests.
type usageFixture struct {
	mu      sync.Mutex
	counts  map[string]int
	version int64
	limit   int
}

func (f *usageFixture) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/usage", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.write(w)
	})
	mux.HandleFunc("GET /v1/plans", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"limits": [{"planType": "free", "feature": "job_searches_used", "limit": %d}]}`, f.limit)
	})
	mux.HandleFunc("POST /v1/usage/{feature}", func(w http.ResponseWriter, r *http.Request) {
		feature := r.PathValue("feature")

		var body struct {
			Version int64 `json:"version"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if body.Version != f.version {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error": "usage was modified concurrently", "code": "VERSION_CONFLICT"}`))
			return
		}
		if f.counts[feature] >= f.limit {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprintf(w, `{"error": "plan limit reached", "code": "QUOTA_EXCEEDED", "feature": %q, "used": %d, "limit": %d}`, feature, f.counts[feature], f.limit)
			return
		}
		f.counts[feature]++
		f.version++
		f.write(w)
	})
	return mux
}

func (f *usageFixture) write(w http.ResponseWriter) {
	resp := map[string]any{
		"userId":   "user-1",
		"planType": "free",
		"counts":   f.counts,
		"version":  f.version,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// The tracker, fed by the REST store, must enforce the same charge-and-deny
// cycle it enforces over a direct database store.
func TestTrackerOverRestStore(t *testing.T) {
	fixture := &usageFixture{counts: map[string]int{}, limit: 2}
	srv := httptest.NewServer(fixture.handler())
	defer srv.Close()

	store := NewUsageClient(srv.URL, staticToken("at_abc"))
	tracker := quota.NewTracker(store)

	_, err := tracker.LoadUsage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, tracker.IsBlocked("job_searches_used"))

	for i := 0; i < 2; i++ {
		_, err = tracker.Increment(context.Background(), "job_searches_used", 1, nil)
		require.NoError(t, err)
	}

	assert.True(t, tracker.IsBlocked("job_searches_used"))
	_, err = tracker.Increment(context.Background(), "job_searches_used", 1, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindQuotaExceeded, fault.KindOf(err))
}

// A concurrent charge from another device bumps the server version; the
// tracker's stale stamp must come back as a version conflict and a reload
// must let the retry land.
func TestTrackerOverRestStoreVersionConflict(t *testing.T) {
	fixture := &usageFixture{counts: map[string]int{}, limit: 5}
	srv := httptest.NewServer(fixture.handler())
	defer srv.Close()

	store := NewUsageClient(srv.URL, staticToken("at_abc"))
	tracker := quota.NewTracker(store)

	_, err := tracker.LoadUsage(context.Background(), "user-1")
	require.NoError(t, err)

	// Another device charges behind this tracker's back.
	fixture.mu.Lock()
	fixture.counts["job_searches_used"]++
	fixture.version++
	fixture.mu.Unlock()

	_, err = tracker.Increment(context.Background(), "job_searches_used", 1, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindVersionConflict, fault.KindOf(err))
	assert.True(t, tracker.IsBlocked("job_searches_used"), "stale tracker must fail closed")

	_, err = tracker.LoadUsage(context.Background(), "user-1")
	require.NoError(t, err)
	rec, err := tracker.Increment(context.Background(), "job_searches_used", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Used("job_searches_used"))
}
