// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"postforge/internal/models"
)

const (
	// templateKeyPrefix is the Valkey key prefix for cached catalogue pages.
	templateKeyPrefix = "templates:public:"

	// DefaultTemplateTTL is how long a catalogue listing stays cached.
	DefaultTemplateTTL = 2 * time.Minute
)

// TemplateListCache caches public template listings per category. Errors
// are logged and treated as misses; the database stays the source of truth.
// A nil client turns every call into a no-op.
type TemplateListCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTemplateListCache creates a listing cache backed by the given Valkey client.
func NewTemplateListCache(client *redis.Client, ttl time.Duration) *TemplateListCache {
	if ttl == 0 {
		ttl = DefaultTemplateTTL
	}
	return &TemplateListCache{client: client, ttl: ttl}
}

// ListKey returns the cache key for a category filter. An empty category
// is the unfiltered listing.
func ListKey(category models.Category) string {
	if category == "" {
		return templateKeyPrefix + "_all"
	}
	return templateKeyPrefix + string(category)
}

// Get returns the cached listing for category.
func (c *TemplateListCache) Get(ctx context.Context, category models.Category) ([]models.Template, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	key := ListKey(category)
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Warn("template cache get error", "key", key, "error", err)
		return nil, false
	}

	var list []models.Template
	if err := json.Unmarshal(raw, &list); err != nil {
		slog.Warn("template cache decode error", "key", key, "error", err)
		return nil, false
	}
	slog.Debug("template cache hit", "key", key)
	return list, true
}

// Set stores the listing for category with the configured TTL.
func (c *TemplateListCache) Set(ctx context.Context, category models.Category, list []models.Template) {
	if c == nil || c.client == nil {
		return
	}
	if list == nil {
		list = []models.Template{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		slog.Warn("template cache encode error", "error", err)
		return
	}
	key := ListKey(category)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Warn("template cache set error", "key", key, "error", err)
	}
}

// InvalidateAll removes every cached listing by scanning for the prefix.
// Any template change can move it in or out of several listings.
func (c *TemplateListCache) InvalidateAll(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	var cursor uint64
	var deleted int
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, templateKeyPrefix+"*", 100).Result()
		if err != nil {
			slog.Warn("template cache scan error", "error", err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("template cache bulk delete error", "error", err)
			}
			deleted += len(keys)
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	if deleted > 0 {
		slog.Debug("template cache cleared", "deleted", deleted)
	}
}
