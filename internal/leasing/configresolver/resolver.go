package configresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/validation"
	"leasing-workers/internal/models"
)

// Source values for Resolution.Source.
const (
	SourceConfig   = "CONFIG"
	SourceDefaults = "DEFAULTS"
)

// Resolution is the policy in force for one query.
type Resolution struct {
	Config *models.WorkflowConfig
	Policy models.WorkflowPolicy
	Source string
}

// Resolver loads candidate configs from Postgres, through an optional cache,
// and applies ResolveEffectiveConfig.
type Resolver struct {
	cache    *Cache
	defaults models.WorkflowPolicy
	logger   logger.Logger
}

// NewResolver builds a Resolver. cache may be nil.
func NewResolver(cache *Cache, cfg config.LeasingConfig, log logger.Logger) *Resolver {
	return &Resolver{
		cache:    cache,
		defaults: DefaultPolicy(cfg.Defaults, cfg.ApplicationFeeCents),
		logger:   logger.Component(log, "config-resolver"),
	}
}

// Defaults returns the hard-coded fallback policy.
func (r *Resolver) Defaults() models.WorkflowPolicy {
	return r.defaults
}

// Resolve returns the effective policy for q. It never returns a nil
// Resolution without an error.
func (r *Resolver) Resolve(ctx context.Context, db database.DBTX, q Query) (*Resolution, error) {
	candidates, err := r.candidates(ctx, db, q)
	if err != nil {
		return nil, err
	}

	chosen := ResolveEffectiveConfig(candidates, q)
	if chosen == nil {
		r.logger.Debug("no workflow config resolved, using defaults", map[string]interface{}{
			"orgId":      q.OrgID,
			"propertyId": q.PropertyID,
		})
		return &Resolution{Policy: r.defaults, Source: SourceDefaults}, nil
	}

	return &Resolution{
		Config: chosen,
		Policy: mergePolicy(chosen.Policy, r.defaults),
		Source: SourceConfig,
	}, nil
}

// Invalidate drops cached candidates after a config write.
func (r *Resolver) Invalidate(ctx context.Context, orgID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, orgID)
}

func (r *Resolver) candidates(ctx context.Context, db database.DBTX, q Query) ([]models.WorkflowConfig, error) {
	if r.cache != nil {
		configs, ok, err := r.cache.Get(ctx, q.OrgID)
		if err != nil {
			r.logger.Warn("config cache read failed, loading from store", map[string]interface{}{
				"orgId": q.OrgID,
				"error": err,
			})
		}
		if ok {
			return r.decodeAll(configs), nil
		}
	}

	configs, err := r.load(ctx, db, q)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, q.OrgID, configs); err != nil {
			r.logger.Warn("config cache write failed", map[string]interface{}{
				"orgId": q.OrgID,
				"error": err,
			})
		}
	}
	return configs, nil
}

func (r *Resolver) load(ctx context.Context, db database.DBTX, q Query) ([]models.WorkflowConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, org_id, property_id, jurisdiction_code, version, document, effective_at, expires_at
		FROM workflow_configs
		WHERE org_id = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		q.OrgID, q.AsOf)
	if err != nil {
		return nil, fmt.Errorf("load workflow configs: %w", err)
	}
	defer rows.Close()

	var configs []models.WorkflowConfig
	for rows.Next() {
		var (
			c   models.WorkflowConfig
			doc []byte
		)
		if err := rows.Scan(&c.ID, &c.OrgID, &c.PropertyID, &c.JurisdictionCode,
			&c.Version, &doc, &c.EffectiveAt, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan workflow config: %w", err)
		}
		c.Document = json.RawMessage(doc)

		if err := r.validate(&c); err != nil {
			r.logger.Warn("skipping invalid workflow config", map[string]interface{}{
				"configId": c.ID,
				"error":    err,
			})
			continue
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow configs: %w", err)
	}
	return configs, nil
}

func (r *Resolver) validate(c *models.WorkflowConfig) error {
	result, err := validation.ValidateWorkflowPolicy(c.Document)
	if err != nil {
		return err
	}
	if !result.Valid {
		return errors.NewConfigInvalidError(c.ID, strings.Join(result.GetErrorMessages(), "; "))
	}
	return json.Unmarshal(c.Document, &c.Policy)
}

// decodeAll restores Policy on cached entries; Document is the source of truth.
func (r *Resolver) decodeAll(configs []models.WorkflowConfig) []models.WorkflowConfig {
	out := configs[:0]
	for _, c := range configs {
		if err := json.Unmarshal(c.Document, &c.Policy); err != nil {
			r.logger.Warn("skipping undecodable cached config", map[string]interface{}{
				"configId": c.ID,
				"error":    err,
			})
			continue
		}
		out = append(out, c)
	}
	return out
}
