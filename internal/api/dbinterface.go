package api

import (
	"context"

	"github.com/careerforge/careerforge-cloud/internal/db"
	"github.com/careerforge/careerforge-cloud/internal/plans"
)

// UsageStore is the database contract the API services depend on.
// *db.Client satisfies this interface; tests substitute a mock.
type UsageStore interface {
	GetUsage(ctx context.Context, userID string) (*db.UsageRecord, error)
	IncrementUsage(ctx context.Context, userID, feature string, amount int, expectedVersion int64, metadata map[string]any) (*db.UsageRecord, error)
	SetPlan(ctx context.Context, userID, planType string) error
	GetPlanLimits(ctx context.Context) ([]plans.Limit, error)
	ListAuditEntries(ctx context.Context, userID string, limit int) ([]db.AuditEntry, error)
}
