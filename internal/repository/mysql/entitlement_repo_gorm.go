package mysql

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entitlementRepo struct {
	db   *gorm.DB
	node *snowflake.Node
	log  *log.Helper
}

func NewEntitlementRepository(db *gorm.DB, node *snowflake.Node, logger log.Logger) repository.EntitlementRepository {
	return &entitlementRepo{db: db, node: node, log: log.NewHelper(logger)}
}

func (r *entitlementRepo) Upsert(ctx context.Context, e *domain.Entitlement) (*domain.Entitlement, error) {
	if e.ID == 0 {
		e.ID = r.node.Generate()
	}
	if e.Status == "" {
		e.Status = domain.EntitlementActive
	}
	e.UpdatedAt = time.Now().UTC()

	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "buyer_id"}, {Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"order_no", "amount", "expires_at", "status", "updated_at"}),
	}).Create(e).Error
	if err != nil {
		r.log.Errorf("failed to upsert entitlement buyer=%d resource=%d: %v", e.BuyerID, e.ResourceID, err)
		return nil, translate(err)
	}

	// the stored row may be an older grant whose id and purchased_at survived
	return r.Get(ctx, e.BuyerID, e.ResourceID)
}

func (r *entitlementRepo) Get(ctx context.Context, buyerID, resourceID uint64) (*domain.Entitlement, error) {
	var e domain.Entitlement
	err := conn(ctx, r.db).Where("buyer_id = ? AND resource_id = ?", buyerID, resourceID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	e.Status = domain.ParseEntitlementStatus(string(e.Status))
	return &e, nil
}

func (r *entitlementRepo) ListByBuyer(ctx context.Context, buyerID uint64) ([]domain.Entitlement, error) {
	var out []domain.Entitlement
	if err := conn(ctx, r.db).Where("buyer_id = ?", buyerID).Order("purchased_at DESC").Find(&out).Error; err != nil {
		r.log.Errorf("failed to list entitlements for buyer %d: %v", buyerID, err)
		return nil, err
	}
	for i := range out {
		out[i].Status = domain.ParseEntitlementStatus(string(out[i].Status))
	}
	return out, nil
}

func (r *entitlementRepo) active(ctx context.Context, now time.Time) *gorm.DB {
	return conn(ctx, r.db).Model(&domain.Entitlement{}).
		Where("status = ?", domain.EntitlementActive).
		Where("(expires_at IS NULL OR expires_at > ?)", now)
}

func (r *entitlementRepo) ListActiveResourceIDs(ctx context.Context, buyerID uint64, now time.Time) ([]uint64, *time.Time, error) {
	var rows []struct {
		ResourceID uint64
		ExpiresAt  *time.Time
	}
	if err := r.active(ctx, now).Where("buyer_id = ?", buyerID).Select("resource_id", "expires_at").Find(&rows).Error; err != nil {
		r.log.Errorf("failed to load active entitlements for buyer %d: %v", buyerID, err)
		return nil, nil, err
	}

	ids := make([]uint64, 0, len(rows))
	var nearest *time.Time
	for _, row := range rows {
		ids = append(ids, row.ResourceID)
		if row.ExpiresAt != nil && (nearest == nil || row.ExpiresAt.Before(*nearest)) {
			t := *row.ExpiresAt
			nearest = &t
		}
	}
	return ids, nearest, nil
}

func (r *entitlementRepo) ListActiveByResource(ctx context.Context, resourceID uint64, now time.Time) ([]domain.Entitlement, error) {
	var out []domain.Entitlement
	if err := r.active(ctx, now).Where("resource_id = ?", resourceID).Order("purchased_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *entitlementRepo) HasActive(ctx context.Context, buyerID, resourceID uint64, now time.Time) (bool, error) {
	var n int64
	err := r.active(ctx, now).Where("buyer_id = ? AND resource_id = ?", buyerID, resourceID).Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *entitlementRepo) Delete(ctx context.Context, buyerID, resourceID uint64) (bool, error) {
	res := conn(ctx, r.db).Where("buyer_id = ? AND resource_id = ?", buyerID, resourceID).Delete(&domain.Entitlement{})
	if res.Error != nil {
		r.log.Errorf("failed to delete entitlement buyer=%d resource=%d: %v", buyerID, resourceID, res.Error)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *entitlementRepo) ExpireSweep(ctx context.Context, now time.Time) ([]uint64, error) {
	var buyers []uint64
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		lapsed := func() *gorm.DB {
			return tx.Model(&domain.Entitlement{}).
				Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", domain.EntitlementActive, now)
		}
		if err := lapsed().Distinct().Pluck("buyer_id", &buyers).Error; err != nil {
			return err
		}
		if len(buyers) == 0 {
			return nil
		}
		return lapsed().Updates(map[string]any{
			"status":     domain.EntitlementExpired,
			"updated_at": now,
		}).Error
	})
	if err != nil {
		r.log.Errorf("failed to expire entitlements: %v", err)
		return nil, err
	}
	return buyers, nil
}
