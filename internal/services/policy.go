package services

import (
	"time"

	"github.com/havenmh/haven/internal/models"
)

// MinimizationPolicy defines, per data category, what a disclosure may
// carry: the minimum field set a recipient needs, the optional extras,
// how the data is anonymized, the smallest group an aggregate may be
// computed over, and how long the grant may live.
type MinimizationPolicy struct {
	MinimumFields      []string
	OptionalFields     []string
	AnonymizationTier  string
	MinAggregationSize int
	RetentionCeiling   time.Duration
}

// Anonymization tiers.
const (
	TierBucketed  = "bucketed"
	TierHashed    = "hashed"
	TierEncrypted = "encrypted"
)

var minimizationPolicies = map[string]MinimizationPolicy{
	models.CategoryMoodData: {
		MinimumFields:      []string{"trend", "consistency"},
		OptionalFields:     []string{"category_counts", "average_7", "average_14"},
		AnonymizationTier:  TierBucketed,
		MinAggregationSize: 5,
		RetentionCeiling:   30 * 24 * time.Hour,
	},
	models.CategoryAssessmentData: {
		MinimumFields:      []string{"severity", "instrument"},
		OptionalFields:     []string{"total_score", "risk_level"},
		AnonymizationTier:  TierBucketed,
		MinAggregationSize: 5,
		RetentionCeiling:   90 * 24 * time.Hour,
	},
	models.CategorySessionFeedback: {
		MinimumFields:      []string{"satisfaction", "outcome"},
		OptionalFields:     []string{"category_hashes"},
		AnonymizationTier:  TierHashed,
		MinAggregationSize: 10,
		RetentionCeiling:   180 * 24 * time.Hour,
	},
	models.CategoryCrisisData: {
		MinimumFields:      []string{"risk_level"},
		OptionalFields:     []string{"stressor_categories", "immediate_risk"},
		AnonymizationTier:  TierBucketed,
		MinAggregationSize: 3,
		RetentionCeiling:   7 * 24 * time.Hour,
	},
	models.CategoryCredentialStatus: {
		MinimumFields:      []string{"badge_id", "license_verified"},
		OptionalFields:     []string{"education_verified", "experience_range"},
		AnonymizationTier:  TierBucketed,
		MinAggregationSize: 1,
		RetentionCeiling:   365 * 24 * time.Hour,
	},
	models.CategoryContactInfo: {
		MinimumFields:      []string{"contact_refs"},
		OptionalFields:     []string{"preferred_method"},
		AnonymizationTier:  TierEncrypted,
		MinAggregationSize: 1,
		RetentionCeiling:   24 * time.Hour,
	},
}

// PolicyFor returns the minimization policy for a category.
func PolicyFor(category string) (MinimizationPolicy, bool) {
	p, ok := minimizationPolicies[category]
	return p, ok
}

// EvaluateDisclosure is the single permission gate every disclosure and
// access path goes through. Every requested category must be
// individually permitted for the recipient class; anything else denies.
func EvaluateDisclosure(prefs *models.PrivacyPreferences, categories []string, recipient string) error {
	if len(categories) == 0 {
		return NewInvalidInputError("at least one category required")
	}
	if recipient == "" {
		return NewInvalidInputError("recipient required")
	}
	if prefs == nil {
		return NewDisclosureNotPermittedError("no privacy preferences on record")
	}
	for _, cat := range categories {
		if _, ok := minimizationPolicies[cat]; !ok {
			return NewValidationError("unknown data category: " + cat)
		}
		if !prefs.Allows(cat, recipient) {
			return NewDisclosureNotPermittedError("category " + cat + " not shareable with " + recipient)
		}
	}
	return nil
}

// SelectDisclosedFields applies the minimization policy: minimum fields
// always, optional fields only when the preference matrix grants the
// recipient full identity disclosure.
func SelectDisclosedFields(prefs *models.PrivacyPreferences, categories []string) map[string][]string {
	out := make(map[string][]string, len(categories))
	includeOptional := prefs != nil &&
		(prefs.IdentityDisclosure == models.IdentityPartial || prefs.IdentityDisclosure == models.IdentityFull)
	for _, cat := range categories {
		p, ok := minimizationPolicies[cat]
		if !ok {
			continue
		}
		fields := append([]string(nil), p.MinimumFields...)
		if includeOptional {
			fields = append(fields, p.OptionalFields...)
		}
		out[cat] = fields
	}
	return out
}

// ClampExpiry enforces each category's retention ceiling on a requested
// disclosure lifetime.
func ClampExpiry(categories []string, requested time.Duration) time.Duration {
	clamped := requested
	for _, cat := range categories {
		if p, ok := minimizationPolicies[cat]; ok && p.RetentionCeiling < clamped {
			clamped = p.RetentionCeiling
		}
	}
	return clamped
}
