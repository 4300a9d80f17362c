package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/careerforge-cloud/internal/db"
	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/plans"
)

// mockStore implements Store in memory with the same version-check and
// limit-enforcement contract as the real store.
type mockStore struct {
	mu      sync.Mutex
	records map[string]*db.UsageRecord
	limits  []plans.Limit
	getErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		records: make(map[string]*db.UsageRecord),
		limits: []plans.Limit{
			{PlanType: plans.TierFree, Feature: plans.FeatureJobSearches, Value: 3},
			{PlanType: plans.TierFree, Feature: plans.FeatureResumeTailorings, Value: 1},
			{PlanType: plans.TierPro, Feature: plans.FeatureJobSearches, Value: 50},
			{PlanType: plans.TierPremium, Feature: plans.FeatureJobSearches, Value: plans.Unlimited},
		},
	}
}

func (m *mockStore) GetUsage(ctx context.Context, userID string) (*db.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *mockStore) limitFor(planType, feature string) int {
	for _, l := range m.limits {
		if l.PlanType == plans.Normalize(planType) && l.Feature == feature {
			return l.Value
		}
	}
	return 0
}

func (m *mockStore) IncrementUsage(ctx context.Context, userID, feature string, amount int, expectedVersion int64, metadata map[string]any) (*db.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

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

	limit := m.limitFor(rec.PlanType, feature)
	used := rec.Used(feature)
	if !plans.IsUnlimited(limit) && used+amount > limit {
		return nil, fault.QuotaExceeded(feature, used, limit)
	}

	rec.Counts[feature] = used + amount
	rec.Version++
	return rec.Clone(), nil
}

func (m *mockStore) GetPlanLimits(ctx context.Context) ([]plans.Limit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits, nil
}

func (m *mockStore) setPlan(userID, planType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		rec = db.NewPlaceholder(userID)
		m.records[userID] = rec
	}
	rec.PlanType = planType
}

func TestIsBlockedFailsClosedBeforeLoad(t *testing.T) {
	tracker := NewTracker(newMockStore())

	assert.True(t, tracker.IsBlocked(plans.FeatureJobSearches),
		"unknown state must block usage rather than permit it")
}

func TestLoadUsageSynthesizesPlaceholderForNewUser(t *testing.T) {
	store := newMockStore()
	tracker := NewTracker(store)

	rec, err := tracker.LoadUsage(context.Background(), "fresh-user")
	require.NoError(t, err)

	assert.Equal(t, plans.TierFree, rec.PlanType)
	assert.EqualValues(t, 0, rec.Version)
	assert.False(t, tracker.IsBlocked(plans.FeatureJobSearches),
		"a brand-new user must never be blocked by a missing row")
}

func TestLoadUsageIdempotent(t *testing.T) {
	store := newMockStore()
	tracker := NewTracker(store)

	_, err := tracker.Increment(mustLoad(t, tracker, "user-1"), plans.FeatureJobSearches, 1, nil)
	require.NoError(t, err)

	first, err := tracker.LoadUsage(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := tracker.LoadUsage(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Counts, second.Counts)
}

// mustLoad loads usage for userID and returns a background context, keeping
// call sites compact.
func mustLoad(t *testing.T, tracker *Tracker, userID string) context.Context {
	t.Helper()
	_, err := tracker.LoadUsage(context.Background(), userID)
	require.NoError(t, err)
	return context.Background()
}

func TestFreeTierScenario(t *testing.T) {
	store := newMockStore()
	tracker := NewTracker(store)
	ctx := mustLoad(t, tracker, "user-1")

	// Fresh free user, limit 3: not blocked.
	assert.False(t, tracker.IsBlocked(plans.FeatureJobSearches))

	for i := 0; i < 3; i++ {
		_, err := tracker.Increment(ctx, plans.FeatureJobSearches, 1, map[string]any{"source": "test"})
		require.NoError(t, err, "increment %d", i+1)
	}

	// At the limit: blocked locally and rejected by the store.
	assert.True(t, tracker.IsBlocked(plans.FeatureJobSearches))

	_, err := tracker.Increment(ctx, plans.FeatureJobSearches, 1, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindQuotaExceeded, fault.KindOf(err))

	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, plans.FeatureJobSearches, fe.Feature)
	assert.Equal(t, 3, fe.Used)
	assert.Equal(t, 3, fe.Limit)
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	store := newMockStore()
	store.setPlan("vip", plans.TierPremium)
	rec := store.records["vip"]
	rec.Counts[plans.FeatureJobSearches] = 1000000

	tracker := NewTracker(store)
	ctx := mustLoad(t, tracker, "vip")

	assert.False(t, tracker.IsBlocked(plans.FeatureJobSearches),
		"unlimited limit must never block, regardless of usage count")

	_, err := tracker.Increment(ctx, plans.FeatureJobSearches, 1, nil)
	assert.NoError(t, err)
}

func TestIncrementReplacesCacheWholesale(t *testing.T) {
	store := newMockStore()
	tracker := NewTracker(store)
	ctx := mustLoad(t, tracker, "user-1")

	rec, err := tracker.Increment(ctx, plans.FeatureJobSearches, 1, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Version)

	snap := tracker.Snapshot()
	require.NotNil(t, snap)
	assert.EqualValues(t, 1, snap.Version)
	assert.Equal(t, 1, snap.Used(plans.FeatureJobSearches))
}

func TestVersionConflictSurfacesAndFailsClosed(t *testing.T) {
	store := newMockStore()
	tracker := NewTracker(store)
	ctx := mustLoad(t, tracker, "user-1")

	// Another actor moves the row after our load.
	_, err := store.IncrementUsage(ctx, "user-1", plans.FeatureJobSearches, 1, 0, nil)
	require.NoError(t, err)

	_, err = tracker.Increment(ctx, plans.FeatureJobSearches, 1, nil)
	assert.Equal(t, fault.KindVersionConflict, fault.KindOf(err))

	// The stale cache is dropped: blocked until the caller reloads.
	assert.True(t, tracker.IsBlocked(plans.FeatureJobSearches))

	// Reload resolves the conflict; the user's action may then be retried.
	_, err = tracker.LoadUsage(ctx, "user-1")
	require.NoError(t, err)
	_, err = tracker.Increment(ctx, plans.FeatureJobSearches, 1, nil)
	assert.NoError(t, err)
}

func TestConcurrentIncrementsExactlyOneWins(t *testing.T) {
	store := newMockStore()

	// Two trackers sharing a store model two tabs racing the same row.
	tabA := NewTracker(store)
	tabB := NewTracker(store)
	ctx := mustLoad(t, tabA, "user-1")
	mustLoad(t, tabB, "user-1")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, tracker := range []*Tracker{tabA, tabB} {
		wg.Add(1)
		go func(i int, tr *Tracker) {
			defer wg.Done()
			_, results[i] = tr.Increment(ctx, plans.FeatureJobSearches, 1, nil)
		}(i, tracker)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case fault.KindOf(err) == fault.KindVersionConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one racer may land")
	assert.Equal(t, 1, conflicts, "the loser must see a version conflict")

	rec, err := store.GetUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Used(plans.FeatureJobSearches), "the counter moves by exactly one")
}

func TestIncrementValidation(t *testing.T) {
	tracker := NewTracker(newMockStore())

	_, err := tracker.Increment(context.Background(), plans.FeatureJobSearches, 0, nil)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = tracker.Increment(context.Background(), plans.FeatureJobSearches, 1, nil)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err), "increment before any load has no user")
}

func TestStoreOutageClassifiesAsNetwork(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("connection refused")
	tracker := NewTracker(store)

	_, err := tracker.LoadUsage(context.Background(), "user-1")
	assert.Equal(t, fault.KindNetwork, fault.KindOf(err))
	assert.True(t, fault.Retryable(err))
}
