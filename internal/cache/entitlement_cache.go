// Package cache keeps a per-buyer set of granted resource ids in Redis.
//
// The store stays authoritative. A missing key is rebuilt from the store;
// a buyer without grants is cached as a set holding only emptySentinel so
// repeated checks do not reach the store. Every write path bumps a per-buyer
// generation key, and a rebuild only lands if the generation it WATCHed is
// unchanged, so a rebuild racing a grant or revoke never caches the older
// view.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const emptySentinel = "__empty__"

// ActiveGrantLoader is the read the cache rebuilds from.
type ActiveGrantLoader interface {
	ListActiveResourceIDs(ctx context.Context, buyerID uint64, now time.Time) ([]uint64, *time.Time, error)
}

type EntitlementCache struct {
	rdb    redis.UniversalClient
	loader ActiveGrantLoader
	ttl    time.Duration
	group  singleflight.Group
	log    *log.Helper
	now    func() time.Time
}

func NewEntitlementCache(rdb redis.UniversalClient, loader ActiveGrantLoader, ttl time.Duration, logger log.Logger) *EntitlementCache {
	return &EntitlementCache{
		rdb:    rdb,
		loader: loader,
		ttl:    ttl,
		log:    log.NewHelper(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func setKey(buyerID uint64) string { return fmt.Sprintf("entitlements:user:%d", buyerID) }
func genKey(buyerID uint64) string { return fmt.Sprintf("entitlements:user:%d:gen", buyerID) }

// addGrant bumps the generation, then extends an existing set only. The set
// TTL can only shrink: it stays capped by the earliest expiry already in it.
var addGrant = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('SADD', KEYS[1], ARGV[1])
	redis.call('SREM', KEYS[1], ARGV[2])
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 or ttl > tonumber(ARGV[3]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[3])
	end
	return 1
end
return 0
`)

// Resources returns the resource ids the buyer currently holds.
func (c *EntitlementCache) Resources(ctx context.Context, buyerID uint64) ([]uint64, error) {
	members, err := c.rdb.SMembers(ctx, setKey(buyerID)).Result()
	if err != nil {
		c.log.Warnf("entitlement cache read for buyer %d failed, using store: %v", buyerID, err)
		ids, _, err := c.loader.ListActiveResourceIDs(ctx, buyerID, c.now())
		return ids, err
	}
	if len(members) > 0 {
		return parseMembers(members), nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(buyerID, 10), func() (any, error) {
		return c.rebuild(context.WithoutCancel(ctx), buyerID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]uint64), nil
}

func (c *EntitlementCache) rebuild(ctx context.Context, buyerID uint64) ([]uint64, error) {
	key := setKey(buyerID)
	var ids []uint64

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		now := c.now()
		loaded, nearest, err := c.loader.ListActiveResourceIDs(ctx, buyerID, now)
		if err != nil {
			return err
		}
		ids = loaded

		ttl := c.ttl
		if nearest != nil {
			if until := nearest.Sub(now); until < ttl {
				ttl = until
			}
		}
		if ttl <= 0 {
			return nil
		}

		members := make([]any, 0, len(ids))
		for _, id := range ids {
			members = append(members, strconv.FormatUint(id, 10))
		}
		if len(members) == 0 {
			members = append(members, emptySentinel)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SAdd(ctx, key, members...)
			pipe.PExpire(ctx, key, ttl)
			return nil
		})
		return err
	}, genKey(buyerID))

	switch {
	case err == nil:
		return ids, nil
	case errors.Is(err, redis.TxFailedErr):
		// a grant or revoke landed meanwhile; answer from the store but do not cache
		return ids, nil
	case ids != nil:
		c.log.Warnf("entitlement cache write for buyer %d failed: %v", buyerID, err)
		return ids, nil
	}
	return nil, err
}

func (c *EntitlementCache) Has(ctx context.Context, buyerID, resourceID uint64) (bool, error) {
	ids, err := c.Resources(ctx, buyerID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == resourceID {
			return true, nil
		}
	}
	return false, nil
}

// HasMany answers a batch of candidates with a single set lookup.
func (c *EntitlementCache) HasMany(ctx context.Context, buyerID uint64, resourceIDs []uint64) (map[uint64]bool, error) {
	ids, err := c.Resources(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	held := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		held[id] = struct{}{}
	}
	out := make(map[uint64]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		_, ok := held[id]
		out[id] = ok
	}
	return out, nil
}

// AddGrant extends a cached set after a purchase. With no cached set it
// does nothing; the next read rebuilds from the store.
func (c *EntitlementCache) AddGrant(ctx context.Context, buyerID, resourceID uint64, expiresAt *time.Time) error {
	ttl := c.ttl
	if expiresAt != nil {
		if until := expiresAt.Sub(c.now()); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return c.Invalidate(ctx, buyerID)
	}

	return addGrant.Run(ctx, c.rdb,
		[]string{setKey(buyerID), genKey(buyerID)},
		strconv.FormatUint(resourceID, 10), emptySentinel, ttl.Milliseconds(), c.ttl.Milliseconds(),
	).Err()
}

// Invalidate drops the buyer's set. Revocation never patches the set in place.
func (c *EntitlementCache) Invalidate(ctx context.Context, buyerID uint64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(buyerID))
		pipe.PExpire(ctx, genKey(buyerID), c.ttl)
		pipe.Del(ctx, setKey(buyerID))
		return nil
	})
	return err
}

func parseMembers(members []string) []uint64 {
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		if m == emptySentinel {
			continue
		}
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
