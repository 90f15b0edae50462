package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/market-engine/internal/model"
	"github.com/atmx/market-engine/internal/position"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache over the hottest lookups: markets, balances, and
// positions. Every other method is promoted unmodified from the
// embedded Store. Writes always go to the primary; cache entries they
// touch are invalidated rather than updated in place.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore wraps primary with a Redis read-through cache.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (model.Market, error) {
	key := marketKey(id)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return m, nil
		}
	}

	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return model.Market{}, err
	}
	s.cacheJSON(ctx, key, m)
	return m, nil
}

func (s *CachedStore) CreateMarket(ctx context.Context, m model.Market) error {
	if err := s.Store.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	if err := s.Store.UpdateMarketStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (model.Balance, error) {
	key := balanceKey(userID)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var bal model.Balance
		if json.Unmarshal(data, &bal) == nil {
			return bal, nil
		}
	}

	bal, err := s.Store.GetBalance(ctx, userID)
	if err != nil {
		return model.Balance{}, err
	}
	s.cacheJSON(ctx, key, bal)
	return bal, nil
}

func (s *CachedStore) PutBalance(ctx context.Context, bal model.Balance) error {
	if err := s.Store.PutBalance(ctx, bal); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(bal.UserID))
	return nil
}

func (s *CachedStore) GetPosition(ctx context.Context, key position.Key) (model.Position, error) {
	cacheKey := positionKey(key)
	if data, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
		var pos model.Position
		if json.Unmarshal(data, &pos) == nil {
			return pos, nil
		}
	}

	pos, err := s.Store.GetPosition(ctx, key)
	if err != nil {
		return model.Position{}, err
	}
	s.cacheJSON(ctx, cacheKey, pos)
	return pos, nil
}

func (s *CachedStore) PutPosition(ctx context.Context, pos model.Position) error {
	if err := s.Store.PutPosition(ctx, pos); err != nil {
		return err
	}
	key := position.Key{UserID: pos.UserID, MarketID: pos.MarketID, Outcome: pos.Outcome}
	s.rdb.Del(ctx, positionKey(key))
	return nil
}

// BeginTx wraps the primary's transaction so writes made through it
// invalidate the same cache keys as top-level writes once it commits.
func (s *CachedStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedTx{Tx: tx, cache: s}, nil
}

type cachedTx struct {
	Tx
	cache   *CachedStore
	touched []string
}

func (t *cachedTx) PutBalance(ctx context.Context, bal model.Balance) error {
	if err := t.Tx.PutBalance(ctx, bal); err != nil {
		return err
	}
	t.touched = append(t.touched, balanceKey(bal.UserID))
	return nil
}

func (t *cachedTx) PutPosition(ctx context.Context, pos model.Position) error {
	if err := t.Tx.PutPosition(ctx, pos); err != nil {
		return err
	}
	key := position.Key{UserID: pos.UserID, MarketID: pos.MarketID, Outcome: pos.Outcome}
	t.touched = append(t.touched, positionKey(key))
	return nil
}

func (t *cachedTx) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus) error {
	if err := t.Tx.UpdateMarketStatus(ctx, id, status); err != nil {
		return err
	}
	t.touched = append(t.touched, marketKey(id))
	return nil
}

func (t *cachedTx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	if len(t.touched) > 0 {
		t.cache.rdb.Del(ctx, t.touched...)
	}
	return nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string   { return fmt.Sprintf("market:%s", id) }
func balanceKey(uid string) string { return fmt.Sprintf("balance:%s", uid) }
func positionKey(k position.Key) string {
	return fmt.Sprintf("position:%s:%s:%s", k.UserID, k.MarketID, k.Outcome)
}
