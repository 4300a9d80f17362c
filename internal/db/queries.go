package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/plans"
)

// ErrNotFound is returned when no usage row exists for a user yet. Callers
// synthesize a zeroed placeholder rather than treating this as a failure.
var ErrNotFound = errors.New("usage record not found")

const usageColumns = `user_id, plan_type, counts, version, last_reset_date, billing_cycle_end`

// scanUsageRecord scans a database row into a UsageRecord.
func scanUsageRecord(row interface{ Scan(...any) error }) (*UsageRecord, error) {
	var rec UsageRecord
	var countsJSON []byte
	err := row.Scan(&rec.UserID, &rec.PlanType, &countsJSON, &rec.Version,
		&rec.LastResetDate, &rec.BillingCycleEnd)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(countsJSON, &rec.Counts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage counts: %w", err)
	}
	if rec.Counts == nil {
		rec.Counts = make(map[string]int)
	}
	return &rec, nil
}

// GetUsage retrieves a user's usage row. When the billing cycle has lapsed it
// performs the rollover (zeroed counters, advanced cycle, bumped version)
// before returning, so callers always see the current period.
func (c *Client) GetUsage(ctx context.Context, userID string) (*UsageRecord, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := getUsageForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if rolled := rolloverIfDue(rec, time.Now().UTC()); rolled {
		if err := writeUsage(ctx, tx, rec, rec.Version-1); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rec, nil
}

// IncrementUsage atomically charges one unit of feature consumption. The
// transaction verifies the caller's expectedVersion (optimistic concurrency),
// enforces the plan limit server-side, applies the increment, bumps the
// version, records an audit entry, and returns the full updated row.
//
// expectedVersion 0 means "row does not exist yet" and creates the row. A
// mismatch returns a VersionConflict fault and leaves the row unchanged; an
// over-limit increment returns a QuotaExceeded fault with the used/limit pair.
func (c *Client) IncrementUsage(ctx context.Context, userID, feature string, amount int, expectedVersion int64, metadata map[string]any) (*UsageRecord, error) {
	if amount <= 0 {
		return nil, fault.New(fault.KindValidation, "increment amount must be positive")
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	rec, err := getUsageForUpdate(ctx, tx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		if expectedVersion != 0 {
			return nil, fault.New(fault.KindVersionConflict, "usage record was removed")
		}
		rec = NewPlaceholder(userID)
		if err := insertUsage(ctx, tx, rec); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if rec.Version != expectedVersion {
			return nil, fault.Newf(fault.KindVersionConflict,
				"usage record moved to version %d (expected %d)", rec.Version, expectedVersion)
		}
	}

	rolloverIfDue(rec, now)

	limit, err := getLimit(ctx, tx, rec.PlanType, feature)
	if err != nil {
		return nil, err
	}
	used := rec.Used(feature)
	if !plans.IsUnlimited(limit) && used+amount > limit {
		return nil, fault.QuotaExceeded(feature, used, limit)
	}

	rec.Counts[feature] = used + amount
	rec.Version++
	if err := writeUsage(ctx, tx, rec, expectedVersion); err != nil {
		return nil, err
	}

	if err := insertAudit(ctx, tx, &AuditEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Feature:   feature,
		Amount:    amount,
		Metadata:  metadata,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rec, nil
}

// SetPlan updates a user's plan tier, normalizing legacy names first. Used by
// the billing webhook glue; creates the usage row if none exists yet.
func (c *Client) SetPlan(ctx context.Context, userID, planType string) error {
	tier := plans.Normalize(planType)

	tag, err := c.pool.Exec(ctx, `
		UPDATE usage_records
		SET plan_type = $2, version = version + 1
		WHERE user_id = $1
	`, userID, tier)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	rec := NewPlaceholder(userID)
	rec.PlanType = tier
	countsJSON, _ := json.Marshal(rec.Counts)
	_, err = c.pool.Exec(ctx, `
		INSERT INTO usage_records (user_id, plan_type, counts, version, last_reset_date, billing_cycle_end)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET plan_type = $2, version = usage_records.version + 1
	`, rec.UserID, rec.PlanType, countsJSON, rec.LastResetDate, rec.BillingCycleEnd)
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// GetPlanLimits returns the full plan-limits table.
func (c *Client) GetPlanLimits(ctx context.Context) ([]plans.Limit, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT plan_type, feature, limit_value
		FROM plan_limits
		ORDER BY plan_type, feature
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan limits: %w", err)
	}
	defer rows.Close()

	var limits []plans.Limit
	for rows.Next() {
		var l plans.Limit
		if err := rows.Scan(&l.PlanType, &l.Feature, &l.Value); err != nil {
			return nil, fmt.Errorf("failed to scan plan limit: %w", err)
		}
		limits = append(limits, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan limits: %w", err)
	}
	return limits, nil
}

// SeedPlanLimits upserts the given limits table. Called at bootstrap with
// the YAML defaults so a fresh database starts with a usable table.
func (c *Client) SeedPlanLimits(ctx context.Context, limits []plans.Limit) error {
	for _, l := range limits {
		_, err := c.pool.Exec(ctx, `
			INSERT INTO plan_limits (plan_type, feature, limit_value)
			VALUES ($1, $2, $3)
			ON CONFLICT (plan_type, feature) DO UPDATE SET limit_value = $3
		`, plans.Normalize(l.PlanType), l.Feature, l.Value)
		if err != nil {
			return fmt.Errorf("failed to seed plan limit %s/%s: %w", l.PlanType, l.Feature, err)
		}
	}
	return nil
}

// ListAuditEntries returns the most recent audit entries for a user, newest
// first.
func (c *Client) ListAuditEntries(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.pool.Query(ctx, `
		SELECT id, user_id, feature, amount, metadata, created_at
		FROM usage_audit
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Feature, &e.Amount, &metaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// getUsageForUpdate reads and row-locks a usage record inside tx.
func getUsageForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*UsageRecord, error) {
	rec, err := scanUsageRecord(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s
		FROM usage_records
		WHERE user_id = $1
		FOR UPDATE
	`, usageColumns), userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return rec, nil
}

// rolloverIfDue resets counters and advances the billing cycle when the
// period has lapsed. Returns true when a rollover was applied; the version
// bump is part of the rollover because the row materially changed.
func rolloverIfDue(rec *UsageRecord, now time.Time) bool {
	if !now.After(rec.BillingCycleEnd) {
		return false
	}
	for f := range rec.Counts {
		rec.Counts[f] = 0
	}
	for !rec.BillingCycleEnd.After(now) {
		rec.BillingCycleEnd = rec.BillingCycleEnd.AddDate(0, 1, 0)
	}
	rec.LastResetDate = now
	rec.Version++
	return true
}

func insertUsage(ctx context.Context, tx pgx.Tx, rec *UsageRecord) error {
	countsJSON, err := json.Marshal(rec.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO usage_records (user_id, plan_type, counts, version, last_reset_date, billing_cycle_end)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.UserID, rec.PlanType, countsJSON, rec.Version, rec.LastResetDate, rec.BillingCycleEnd)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func writeUsage(ctx context.Context, tx pgx.Tx, rec *UsageRecord, guardVersion int64) error {
	countsJSON, err := json.Marshal(rec.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE usage_records
		SET counts = $2, version = $3, last_reset_date = $4, billing_cycle_end = $5
		WHERE user_id = $1 AND version = $6
	`, rec.UserID, countsJSON, rec.Version, rec.LastResetDate, rec.BillingCycleEnd, guardVersion)
	if err != nil {
		return fmt.Errorf("failed to update usage record: %w", err)
	}
	// The row is locked FOR UPDATE, so a miss here means the guard version
	// was wrong, not that a racer slipped in.
	if tag.RowsAffected() == 0 {
		return fault.New(fault.KindVersionConflict, "usage record moved during update")
	}
	return nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry *AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO usage_audit (id, user_id, feature, amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.Feature, entry.Amount, metaJSON, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// getLimit looks up one plan/feature limit inside tx. Missing entries grant
// nothing, matching the resolver's fail-closed rule.
func getLimit(ctx context.Context, tx pgx.Tx, planType, feature string) (int, error) {
	var limit int
	err := tx.QueryRow(ctx, `
		SELECT limit_value
		FROM plan_limits
		WHERE plan_type = $1 AND feature = $2
	`, plans.Normalize(planType), feature).Scan(&limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get plan limit: %w", err)
	}
	return limit, nil
}
