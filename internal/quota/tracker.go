// Package quota tracks per-user, per-billing-period feature usage against
// plan limits. The tracker holds a read-through cache of the store's
// authoritative usage row; it never mutates counters itself. Every charge
// goes through the store's atomic version-checked increment, and the returned
// row replaces the cache wholesale.
package quota

import (
	"context"
	"errors"
	"sync"

	"github.com/careerforge/careerforge-cloud/internal/db"
	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/plans"
)

// Store is the persistent-store contract the tracker depends on.
// Implemented by *db.Client.
type Store interface {
	// GetUsage returns the user's current usage row, performing any
	// server-side billing rollover first. Returns db.ErrNotFound when no row
	// exists yet.
	GetUsage(ctx context.Context, userID string) (*db.UsageRecord, error)

	// IncrementUsage atomically charges usage with an optimistic-concurrency
	// version check and server-side limit enforcement.
	IncrementUsage(ctx context.Context, userID, feature string, amount int, expectedVersion int64, metadata map[string]any) (*db.UsageRecord, error)

	// GetPlanLimits returns the full plan-limits table.
	GetPlanLimits(ctx context.Context) ([]plans.Limit, error)
}

// Tracker answers "is this feature blocked" and issues usage charges for one
// user at a time. Concurrent increments for the same user (another tab,
// another device, a retried request) are serialized by the store's version
// check, not locally: losers get a VersionConflict and must reload.
type Tracker struct {
	store    Store
	resolver *plans.Resolver

	mu     sync.Mutex
	userID string
	record *db.UsageRecord
	loaded bool
}

// NewTracker creates a Tracker over the given store. The resolver starts
// empty; LoadUsage installs the limits table.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:    store,
		resolver: plans.NewResolver(nil),
	}
}

// LoadUsage fetches the user's usage row and the plan-limits table in one
// combined load. A missing row synthesizes a zeroed placeholder; a
// brand-new user must never be blocked by a missing row.
func (t *Tracker) LoadUsage(ctx context.Context, userID string) (*db.UsageRecord, error) {
	if userID == "" {
		return nil, fault.New(fault.KindValidation, "user ID is required")
	}

	rec, err := t.store.GetUsage(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return nil, classifyStoreErr("load usage", err)
		}
		rec = db.NewPlaceholder(userID)
	}

	limits, err := t.store.GetPlanLimits(ctx)
	if err != nil {
		return nil, classifyStoreErr("load plan limits", err)
	}
	t.resolver.Replace(limits)

	t.mu.Lock()
	t.userID = userID
	t.record = rec.Clone()
	t.loaded = true
	t.mu.Unlock()

	return rec.Clone(), nil
}

// IsBlocked reports whether a feature must be refused locally. Unknown state
// blocks usage rather than permitting it (fail closed); an unlimited limit
// never blocks, no matter the count. This is a fast local pre-filter only;
// the store's increment is the actual gate.
func (t *Tracker) IsBlocked(featureID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded || t.record == nil {
		return true
	}

	limit := t.resolver.LimitFor(t.record.PlanType, featureID)
	if plans.IsUnlimited(limit) {
		return false
	}
	return t.record.Used(featureID) >= limit
}

// Limit resolves the current plan's limit for a feature, or 0 before load.
func (t *Tracker) Limit(featureID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded || t.record == nil {
		return 0
	}
	return t.resolver.LimitFor(t.record.PlanType, featureID)
}

// Snapshot returns a copy of the cached usage record, or nil before load.
func (t *Tracker) Snapshot() *db.UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.Clone()
}

// Increment charges amount units of a feature. The cached version rides along
// as the optimistic-concurrency stamp (0 when the row does not exist yet).
// On success the store's returned row replaces the cache wholesale. On a
// version conflict the caller must reload and may retry the user's action
// once, never the increment itself, which could double-charge if the
// original actually landed. A quota rejection is routine and user-facing,
// not a system fault.
func (t *Tracker) Increment(ctx context.Context, featureID string, amount int, metadata map[string]any) (*db.UsageRecord, error) {
	if amount <= 0 {
		return nil, fault.New(fault.KindValidation, "increment amount must be positive")
	}

	t.mu.Lock()
	userID := t.userID
	var expectedVersion int64
	if t.record != nil {
		expectedVersion = t.record.Version
	}
	t.mu.Unlock()

	if userID == "" {
		return nil, fault.New(fault.KindValidation, "no user loaded")
	}

	rec, err := t.store.IncrementUsage(ctx, userID, featureID, amount, expectedVersion, metadata)
	if err != nil {
		// A conflict means the local view is stale; drop it so the next
		// IsBlocked fails closed until the caller reloads.
		if fault.KindOf(err) == fault.KindVersionConflict {
			t.mu.Lock()
			t.loaded = false
			t.mu.Unlock()
		}
		return nil, classifyStoreErr("increment usage", err)
	}

	t.mu.Lock()
	t.record = rec.Clone()
	t.loaded = true
	t.mu.Unlock()

	return rec.Clone(), nil
}

// classifyStoreErr passes already-classified faults through and wraps raw
// store failures as network faults, which are the retryable class.
func classifyStoreErr(op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Wrap(fault.KindNetwork, op+" failed", err)
}
