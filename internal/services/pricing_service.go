package services

import (
	"context"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
)

type PricingService struct {
	pricing repository.PricingRepository
	log     *log.Helper
}

func NewPricingService(pricing repository.PricingRepository, logger log.Logger) *PricingService {
	return &PricingService{pricing: pricing, log: log.NewHelper(logger)}
}

func (s *PricingService) Get(ctx context.Context, resourceID uint64) (*domain.ResourcePricing, error) {
	p, err := s.pricing.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrPricingNotFound
	}
	return p, nil
}

// Set creates or replaces the price of a resource. Only the seller that
// first priced a resource may change it.
func (s *PricingService) Set(ctx context.Context, p *domain.ResourcePricing) error {
	if err := p.Validate(); err != nil {
		return err
	}
	existing, err := s.pricing.Get(ctx, p.ResourceID)
	if err != nil {
		return err
	}
	if existing != nil && existing.SellerID != p.SellerID {
		return domain.ErrForbidden
	}
	if err := s.pricing.Upsert(ctx, p); err != nil {
		return err
	}
	s.log.Infof("resource %d priced at %s by seller %d", p.ResourceID, p.Price.StringFixed(2), p.SellerID)
	return nil
}
