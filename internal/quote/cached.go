package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investsim/portfolio-engine/internal/model"
)

// CachedSource wraps a primary Source with a Redis read-through cache.
// Cache errors fall through to the primary — a broken cache never makes
// quotes unavailable on its own.
type CachedSource struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSource creates a cached wrapper around a primary quote source.
func NewCachedSource(primary Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedSource) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	key := quoteKey(symbol)

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			return q, nil
		}
	}

	q, err := s.primary.Quote(ctx, symbol)
	if err != nil {
		return model.Quote{}, err
	}

	if data, err := json.Marshal(q); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return q, nil
}

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }
