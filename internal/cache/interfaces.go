package cache

import (
	"context"
	"time"
)

type EntitlementCacheInterface interface {
	Resources(ctx context.Context, buyerID uint64) ([]uint64, error)
	Has(ctx context.Context, buyerID, resourceID uint64) (bool, error)
	HasMany(ctx context.Context, buyerID uint64, resourceIDs []uint64) (map[uint64]bool, error)
	AddGrant(ctx context.Context, buyerID, resourceID uint64, expiresAt *time.Time) error
	Invalidate(ctx context.Context, buyerID uint64) error
}

var _ EntitlementCacheInterface = (*EntitlementCache)(nil)
