// Package configresolver selects the effective workflow config for an
// org/property/jurisdiction at a point in time.
package configresolver

import (
	"time"

	"leasing-workers/internal/models"
)

// Query scopes a resolution.
type Query struct {
	OrgID            string
	PropertyID       string
	JurisdictionCode string
	AsOf             time.Time
}

// Rank is the ordering key shared by versioned, scoped documents: highest
// version, then latest effective time, then smallest id.
type Rank struct {
	Version     int
	EffectiveAt time.Time
	ID          string
}

// Before reports whether r sorts ahead of o.
func (r Rank) Before(o Rank) bool {
	if r.Version != o.Version {
		return r.Version > o.Version
	}
	if !r.EffectiveAt.Equal(o.EffectiveAt) {
		return r.EffectiveAt.After(o.EffectiveAt)
	}
	return r.ID < o.ID
}

func rankOf(c *models.WorkflowConfig) Rank {
	return Rank{Version: c.Version, EffectiveAt: c.EffectiveAt, ID: c.ID}
}

// InWindow reports whether a document with the given window applies at asOf.
func InWindow(effectiveAt time.Time, expiresAt *time.Time, asOf time.Time) bool {
	if effectiveAt.After(asOf) {
		return false
	}
	return expiresAt == nil || expiresAt.After(asOf)
}

// ResolveEffectiveConfig picks exactly one config from candidates, or nil
// when none applies and the caller must fall back to defaults.
//
//  1. Property-scoped configs for q.PropertyID, a jurisdiction match
//     preferred over a null jurisdiction.
//  2. The org-wide default (no property, no jurisdiction).
//  3. The org+jurisdiction default (no property, matching jurisdiction).
//
// Ties inside a tier break by Rank.
func ResolveEffectiveConfig(candidates []models.WorkflowConfig, q Query) *models.WorkflowConfig {
	var (
		propertyMatch   *models.WorkflowConfig
		propertyNull    *models.WorkflowConfig
		orgDefault      *models.WorkflowConfig
		jurisdictionDef *models.WorkflowConfig
	)

	pick := func(best **models.WorkflowConfig, c *models.WorkflowConfig) {
		if *best == nil || rankOf(c).Before(rankOf(*best)) {
			*best = c
		}
	}

	for i := range candidates {
		c := &candidates[i]
		if c.OrgID != q.OrgID || !InWindow(c.EffectiveAt, c.ExpiresAt, q.AsOf) {
			continue
		}
		jur := deref(c.JurisdictionCode)

		if c.PropertyID != nil {
			if q.PropertyID == "" || *c.PropertyID != q.PropertyID {
				continue
			}
			switch {
			case jur == "":
				pick(&propertyNull, c)
			case q.JurisdictionCode != "" && jur == q.JurisdictionCode:
				pick(&propertyMatch, c)
			}
			continue
		}

		switch {
		case jur == "":
			pick(&orgDefault, c)
		case q.JurisdictionCode != "" && jur == q.JurisdictionCode:
			pick(&jurisdictionDef, c)
		}
	}

	for _, c := range []*models.WorkflowConfig{propertyMatch, propertyNull, orgDefault, jurisdictionDef} {
		if c != nil {
			return c
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
