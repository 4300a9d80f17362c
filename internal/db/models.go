package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/careerforge-cloud/internal/plans"
)

// UsageRecord is the authoritative per-user, per-billing-period set of
// feature usage counters. Version is monotonic and server-assigned: it only
// ever advances inside IncrementUsage's transaction, never client-side.
type UsageRecord struct {
	UserID          string         `json:"user_id"`
	PlanType        string         `json:"plan_type"`
	Counts          map[string]int `json:"counts"`
	Version         int64          `json:"version"`
	LastResetDate   time.Time      `json:"last_reset_date"`
	BillingCycleEnd time.Time      `json:"billing_cycle_end"`
}

// Used returns the counter for a feature, zero when untracked.
func (r *UsageRecord) Used(feature string) int {
	if r == nil || r.Counts == nil {
		return 0
	}
	return r.Counts[feature]
}

// Clone returns a deep copy so cached records can be handed out without
// aliasing the cache's map.
func (r *UsageRecord) Clone() *UsageRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Counts = make(map[string]int, len(r.Counts))
	for k, v := range r.Counts {
		cp.Counts[k] = v
	}
	return &cp
}

// NewPlaceholder synthesizes the zeroed local record used for the brief
// window before the store confirms a row exists. A brand-new user must never
// be blocked by a missing row.
func NewPlaceholder(userID string) *UsageRecord {
	counts := make(map[string]int, len(plans.Features))
	for _, f := range plans.Features {
		counts[f] = 0
	}
	now := time.Now().UTC()
	return &UsageRecord{
		UserID:          userID,
		PlanType:        plans.TierFree,
		Counts:          counts,
		Version:         0,
		LastResetDate:   now,
		BillingCycleEnd: now.AddDate(0, 1, 0),
	}
}

// AuditEntry is one append-only record of a usage increment.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Feature   string         `json:"feature"`
	Amount    int            `json:"amount"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
