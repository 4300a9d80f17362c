package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/careerforge-cloud/internal/db"
	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/identity"
	"github.com/careerforge/careerforge-cloud/internal/plans"
)

// mockProvider implements identity.Provider as a test double.
type mockProvider struct {
	mu sync.Mutex

	signUpErr  error
	signInErr  error
	refreshErr error
	signOutErr error

	pending *identity.Pending
	ident   *identity.Identity

	signUpCalls  int
	signInCalls  int
	signOutCalls int
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		pending: &identity.Pending{
			UserID:    "user-1",
			Email:     "ada@example.com",
			CreatedAt: time.Now().UTC(),
		},
		ident: &identity.Identity{
			UserID:       "user-1",
			Email:        "ada@example.com",
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
			ExpiresAt:    time.Now().UTC().Add(time.Hour),
		},
	}
}

func (m *mockProvider) SignUp(ctx context.Context, email, password, displayName string) (*identity.Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signUpCalls++
	if m.signUpErr != nil {
		return nil, m.signUpErr
	}
	return m.pending, nil
}

func (m *mockProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signInCalls++
	if m.signInErr != nil {
		return nil, m.signInErr
	}
	return m.ident, nil
}

func (m *mockProvider) Refresh(ctx context.Context, refreshToken string) (*identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.ident, nil
}

func (m *mockProvider) SignOut(ctx context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOutCalls++
	return m.signOutErr
}

func (m *mockProvider) AuthorizeURL(provider, redirectURL string) (string, error) {
	return "https://id.example.com/authorize?provider=" + provider, nil
}

func (m *mockProvider) Events(ctx context.Context) (<-chan identity.Event, error) {
	ch := make(chan identity.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// mockUsageStore implements UsageStore in memory with the store's version
// and limit semantics.
type mockUsageStore struct {
	mu      sync.Mutex
	records map[string]*db.UsageRecord
	audits  []db.AuditEntry
	limits  []plans.Limit
	err     error
}

func newMockUsageStore() *mockUsageStore {
	return &mockUsageStore{
		records: make(map[string]*db.UsageRecord),
		limits: []plans.Limit{
			{PlanType: plans.TierFree, Feature: plans.FeatureJobSearches, Value: 3},
			{PlanType: plans.TierPremium, Feature: plans.FeatureJobSearches, Value: plans.Unlimited},
		},
	}
}

func (m *mockUsageStore) GetUsage(ctx context.Context, userID string) (*db.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *mockUsageStore) IncrementUsage(ctx context.Context, userID, feature string, amount int, expectedVersion int64, metadata map[string]any) (*db.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	rec, ok := m.records[userID]
	if !ok {
		if expectedVersion != 0 {
			return nil, fault.New(fault.KindVersionConflict, "usage record was removed")
		}
		rec = db.NewPlaceholder(userID)
		m.records[userID] = rec
	} else if rec.Version != expectedVersion {
		return nil, fault.New(fault.KindVersionConflict, "usage record moved")
	}

	limit := 0
	for _, l := range m.limits {
		if l.PlanType == rec.PlanType && l.Feature == feature {
			limit = l.Value
		}
	}
	used := rec.Used(feature)
	if !plans.IsUnlimited(limit) && used+amount > limit {
		return nil, fault.QuotaExceeded(feature, used, limit)
	}

	rec.Counts[feature] = used + amount
	rec.Version++
	m.audits = append(m.audits, db.AuditEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Feature:   feature,
		Amount:    amount,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
	return rec.Clone(), nil
}

func (m *mockUsageStore) SetPlan(ctx context.Context, userID, planType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rec, ok := m.records[userID]
	if !ok {
		rec = db.NewPlaceholder(userID)
		m.records[userID] = rec
	}
	rec.PlanType = plans.Normalize(planType)
	return nil
}

func (m *mockUsageStore) GetPlanLimits(ctx context.Context) ([]plans.Limit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.limits, nil
}

func (m *mockUsageStore) ListAuditEntries(ctx context.Context, userID string, limit int) ([]db.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []db.AuditEntry
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audits[i].UserID == userID {
			out = append(out, m.audits[i])
		}
	}
	return out, nil
}
