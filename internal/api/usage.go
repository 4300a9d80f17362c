package api

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/careerforge/careerforge-cloud/internal/db"
	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/plans"
)

// UsageService handles usage and plan operations.
type UsageService struct {
	store    UsageStore
	resolver *plans.Resolver
}

// NewUsageService creates a new UsageService.
func NewUsageService(store UsageStore, resolver *plans.Resolver) *UsageService {
	return &UsageService{store: store, resolver: resolver}
}

// GetUsage handles GET /v1/usage.
// Users with no usage row yet get a synthesized free-tier record so the
// dashboard can always render counters.
func (u *UsageService) GetUsage(ctx context.Context, input *GetUsageInput) (*GetUsageOutput, error) {
	userID, ok := GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	record, err := u.store.GetUsage(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			record = db.NewPlaceholder(userID)
		} else {
			slog.Error("failed to load usage", "error", err, "user_id", userID)
			return nil, humaError(err)
		}
	}

	return &GetUsageOutput{Body: u.usageResponse(record)}, nil
}

// IncrementUsage handles POST /v1/usage/{feature}.
// The increment is atomic server-side: the record version the client sends
// must match the stored version or the request fails with 409.
func (u *UsageService) IncrementUsage(ctx context.Context, input *IncrementUsageInput) (*IncrementUsageOutput, error) {
	userID, ok := GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	if !slices.Contains(plans.Features, input.Feature) {
		return nil, huma.Error400BadRequest("unknown feature: " + input.Feature)
	}

	record, err := u.store.IncrementUsage(ctx, userID, input.Feature, 1, input.Body.Version, input.Body.Metadata)
	if err != nil {
		if fault.KindOf(err) == fault.KindUnknown {
			slog.Error("failed to increment usage", "error", err, "user_id", userID, "feature", input.Feature)
		}
		return nil, humaError(err)
	}

	return &IncrementUsageOutput{Body: u.usageResponse(record)}, nil
}

// GetPlanLimits handles GET /v1/plans.
func (u *UsageService) GetPlanLimits(ctx context.Context, input *GetPlanLimitsInput) (*GetPlanLimitsOutput, error) {
	limits, err := u.store.GetPlanLimits(ctx)
	if err != nil {
		slog.Error("failed to load plan limits", "error", err)
		return nil, humaError(err)
	}

	response := PlanLimitsResponse{Limits: make([]PlanLimit, 0, len(limits))}
	for _, l := range limits {
		response.Limits = append(response.Limits, PlanLimit{
			PlanType: l.PlanType,
			Feature:  l.Feature,
			Limit:    l.Value,
		})
	}

	return &GetPlanLimitsOutput{Body: response}, nil
}

// SetPlan handles PUT /v1/account/plan.
// The plan name is normalized to a canonical tier before it is stored.
func (u *UsageService) SetPlan(ctx context.Context, input *SetPlanInput) (*SetPlanOutput, error) {
	userID, ok := GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	tier := plans.Normalize(input.Body.PlanType)
	if err := u.store.SetPlan(ctx, userID, tier); err != nil {
		slog.Error("failed to set plan", "error", err, "user_id", userID)
		return nil, humaError(err)
	}

	return &SetPlanOutput{Body: SetPlanResponse{PlanType: tier}}, nil
}

// ListAudit handles GET /v1/usage/audit.
func (u *UsageService) ListAudit(ctx context.Context, input *ListAuditInput) (*ListAuditOutput, error) {
	userID, ok := GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	entries, err := u.store.ListAuditEntries(ctx, userID, input.Limit)
	if err != nil {
		slog.Error("failed to list audit entries", "error", err, "user_id", userID)
		return nil, humaError(err)
	}

	response := AuditResponse{Entries: make([]AuditEntryResponse, 0, len(entries))}
	for _, e := range entries {
		response.Entries = append(response.Entries, AuditEntryResponse{
			ID:        e.ID.String(),
			Feature:   e.Feature,
			Amount:    e.Amount,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	return &ListAuditOutput{Body: response}, nil
}

// usageResponse converts a usage record into the wire shape, attaching the
// caller's per-feature limits for their plan.
func (u *UsageService) usageResponse(record *db.UsageRecord) UsageResponse {
	limits := make(map[string]int, len(plans.Features))
	for _, feature := range plans.Features {
		limits[feature] = u.resolver.LimitFor(record.PlanType, feature)
	}

	return UsageResponse{
		UserID:          record.UserID,
		PlanType:        record.PlanType,
		Counts:          record.Counts,
		Limits:          limits,
		Version:         record.Version,
		LastResetDate:   record.LastResetDate.Format(time.RFC3339),
		BillingCycleEnd: record.BillingCycleEnd.Format(time.RFC3339),
	}
}
