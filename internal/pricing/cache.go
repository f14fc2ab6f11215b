package pricing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lavsmart/cyclebridge/internal/models"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

// CachedSource puts a short-TTL Redis cache in front of a Source so a
// burst of webhook deliveries does not hammer the tenant's sheet export.
// Cache misses and Redis errors fall through to the inner source.
type CachedSource struct {
	inner Source
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedSource) Fetch(ctx context.Context, url string) (*Table, error) {
	key := "pricetable:" + url

	if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var rows []models.PriceRow
		if err := json.Unmarshal([]byte(cached), &rows); err == nil {
			return NewTable(rows), nil
		}
	}

	table, err := c.inner.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(table.Rows()); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			telemetry.Logger.Warn("Failed to cache price table", zap.Error(err))
		}
	}

	return table, nil
}
