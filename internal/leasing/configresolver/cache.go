package configresolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leasing-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "leasing:workflow-configs"

// Cache holds per-org candidate sets in Redis. Each org has a generation
// counter embedded in the data key; Invalidate bumps it so stale entries
// are never read again and age out by TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func generationKey(orgID string) string {
	return fmt.Sprintf("%s:%s:gen", keyPrefix, orgID)
}

func dataKey(orgID string, gen int64) string {
	return fmt.Sprintf("%s:%s:g%d", keyPrefix, orgID, gen)
}

func (c *Cache) generation(ctx context.Context, orgID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(orgID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the cached candidates for orgID. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, orgID string) (configs []models.WorkflowConfig, ok bool, err error) {
	gen, err := c.generation(ctx, orgID)
	if err != nil {
		return nil, false, fmt.Errorf("read config cache generation: %w", err)
	}

	raw, err := c.client.Get(ctx, dataKey(orgID, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read config cache: %w", err)
	}

	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, false, fmt.Errorf("decode config cache: %w", err)
	}
	return configs, true, nil
}

// Set stores candidates under the org's current generation.
func (c *Cache) Set(ctx context.Context, orgID string, configs []models.WorkflowConfig) error {
	gen, err := c.generation(ctx, orgID)
	if err != nil {
		return fmt.Errorf("read config cache generation: %w", err)
	}

	payload, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("encode config cache: %w", err)
	}
	if err := c.client.Set(ctx, dataKey(orgID, gen), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("write config cache: %w", err)
	}
	return nil
}

// Invalidate drops every cached candidate set for orgID.
func (c *Cache) Invalidate(ctx context.Context, orgID string) error {
	if err := c.client.Incr(ctx, generationKey(orgID)).Err(); err != nil {
		return fmt.Errorf("bump config cache generation: %w", err)
	}
	return nil
}
