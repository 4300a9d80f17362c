// Package plans resolves per-feature usage limits for subscription tiers.
// The limits table is fetched out-of-band from the store and swapped in
// wholesale; lookups are pure and safe to call from render-adjacent code.
package plans

import (
	"strings"
	"sync"
)

// Canonical plan tiers. Historical aliases normalize to exactly one of these.
const (
	TierFree    = "free"
	TierPro     = "pro"
	TierPremium = "premium"
)

// Feature identifiers tracked against plan limits.
const (
	FeatureResumeTailorings = "resume_tailorings_used"
	FeatureCoverLetters     = "cover_letters_used"
	FeatureJobSearches      = "job_searches_used"
	FeatureInterviewPreps   = "interview_preps_used"
	FeatureCareerRoadmaps   = "career_roadmaps_used"
)

// Features lists every known feature identifier.
var Features = []string{
	FeatureResumeTailorings,
	FeatureCoverLetters,
	FeatureJobSearches,
	FeatureInterviewPreps,
	FeatureCareerRoadmaps,
}

// Unlimited is the sentinel limit meaning no quota applies.
const Unlimited = -1

// tierAliases maps retired tier names onto the current canonical set.
var tierAliases = map[string]string{
	"basic":        TierFree,
	"trial":        TierFree,
	"starter":      TierFree,
	"plus":         TierPro,
	"professional": TierPro,
	"elite":        TierPremium,
	"unlimited":    TierPremium,
	"enterprise":   TierPremium,
}

// Normalize maps a plan identifier to its canonical tier. Unknown names fall
// back to the lowest tier rather than failing, so a stale or corrupted plan
// string can never grant more than free-tier access.
func Normalize(planType string) string {
	p := strings.ToLower(strings.TrimSpace(planType))
	switch p {
	case TierFree, TierPro, TierPremium:
		return p
	}
	if canonical, ok := tierAliases[p]; ok {
		return canonical
	}
	return TierFree
}

// Limit is one row of the plan-limits table.
type Limit struct {
	PlanType string `yaml:"plan_type"`
	Feature  string `yaml:"feature"`
	Value    int    `yaml:"value"`
}

// Resolver answers limit lookups against an immutable snapshot of the limits
// table. Replace swaps the whole snapshot; LimitFor never fetches.
type Resolver struct {
	mu     sync.RWMutex
	limits map[string]map[string]int // tier -> feature -> limit
}

// NewResolver creates a resolver over the given table rows. Plan names are
// normalized at load time so lookups never re-normalize stored rows.
func NewResolver(rows []Limit) *Resolver {
	r := &Resolver{}
	r.Replace(rows)
	return r
}

// Replace swaps the limits snapshot wholesale. Called after each table fetch.
func (r *Resolver) Replace(rows []Limit) {
	limits := make(map[string]map[string]int)
	for _, row := range rows {
		tier := Normalize(row.PlanType)
		if limits[tier] == nil {
			limits[tier] = make(map[string]int)
		}
		limits[tier][row.Feature] = row.Value
	}

	r.mu.Lock()
	r.limits = limits
	r.mu.Unlock()
}

// LimitFor returns the limit for a plan/feature pair, Unlimited (-1) when the
// combination is marked unlimited, and 0 when the table has no entry: an
// unknown feature grants nothing until the table says otherwise.
func (r *Resolver) LimitFor(planType, featureID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	features, ok := r.limits[Normalize(planType)]
	if !ok {
		return 0
	}
	limit, ok := features[featureID]
	if !ok {
		return 0
	}
	return limit
}

// Loaded reports whether any table snapshot has been installed.
func (r *Resolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limits) > 0
}

// IsUnlimited checks if a limit value represents unlimited quota.
func IsUnlimited(limit int) bool {
	return limit < 0
}
