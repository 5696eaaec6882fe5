package mysql

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pricingRepo struct {
	db  *gorm.DB
	log *log.Helper
}

func NewPricingRepository(db *gorm.DB, logger log.Logger) repository.PricingRepository {
	return &pricingRepo{db: db, log: log.NewHelper(logger)}
}

func (r *pricingRepo) Get(ctx context.Context, resourceID uint64) (*domain.ResourcePricing, error) {
	var p domain.ResourcePricing
	if err := conn(ctx, r.db).Where("resource_id = ?", resourceID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Upsert keys on resource_id only and keeps created_at.
func (r *pricingRepo) Upsert(ctx context.Context, p *domain.ResourcePricing) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seller_id", "title", "price", "validity_days", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		r.log.Errorf("failed to upsert pricing for resource %d: %v", p.ResourceID, err)
		return translate(err)
	}
	return nil
}
