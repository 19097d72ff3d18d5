package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investsim/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for account snapshots. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
//
// The transaction ledger itself is never cached: it grows without bound and
// is always read in full for holdings and risk computation.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

func (s *CachedStore) SaveAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.SaveAccount(ctx, a); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, accountKey(a.AccountID))
	return nil
}

func (s *CachedStore) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := s.primary.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	// A new ledger entry changes the derived account view.
	s.rdb.Del(ctx, accountKey(tx.AccountID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(accountID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Transactions(ctx context.Context, accountID, tournamentID string) ([]model.Transaction, error) {
	return s.primary.Transactions(ctx, accountID, tournamentID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.AccountID), data, s.ttl)
	}
}

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
