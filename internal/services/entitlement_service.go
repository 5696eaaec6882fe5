package services

import (
	"context"
	"time"

	"checkout-service/internal/cache"
	"checkout-service/internal/domain"
	rabbit "checkout-service/internal/infra/rabbitmq"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
)

// EntitlementView pairs a grant row with its access state at read time.
type EntitlementView struct {
	domain.Entitlement
	IsActive bool `json:"isActive"`
}

type EntitlementService struct {
	tx           repository.Transactor
	entitlements repository.EntitlementRepository
	pricing      repository.PricingRepository
	cache        cache.EntitlementCacheInterface
	publisher    rabbit.PublisherInterface
	log          *log.Helper
	now          func() time.Time
}

func NewEntitlementService(
	tx repository.Transactor,
	entitlements repository.EntitlementRepository,
	pricing repository.PricingRepository,
	entCache cache.EntitlementCacheInterface,
	publisher rabbit.PublisherInterface,
	logger log.Logger,
) *EntitlementService {
	return &EntitlementService{
		tx:           tx,
		entitlements: entitlements,
		pricing:      pricing,
		cache:        entCache,
		publisher:    publisher,
		log:          log.NewHelper(logger),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// HasAccess is the hot path for content serving; it goes through the cache.
func (s *EntitlementService) HasAccess(ctx context.Context, buyerID, resourceID uint64) (bool, error) {
	return s.cache.Has(ctx, buyerID, resourceID)
}

func (s *EntitlementService) CheckMany(ctx context.Context, buyerID uint64, resourceIDs []uint64) (map[uint64]bool, error) {
	return s.cache.HasMany(ctx, buyerID, resourceIDs)
}

func (s *EntitlementService) Get(ctx context.Context, buyerID, resourceID uint64) (*EntitlementView, error) {
	e, err := s.entitlements.Get(ctx, buyerID, resourceID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domain.ErrEntitlementNotFound
	}
	return &EntitlementView{Entitlement: *e, IsActive: e.IsActive(s.now())}, nil
}

func (s *EntitlementService) List(ctx context.Context, buyerID uint64) ([]EntitlementView, error) {
	rows, err := s.entitlements.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]EntitlementView, 0, len(rows))
	for _, e := range rows {
		out = append(out, EntitlementView{Entitlement: e, IsActive: e.IsActive(now)})
	}
	return out, nil
}

// ListPurchasers returns the active grants on a resource the seller owns.
func (s *EntitlementService) ListPurchasers(ctx context.Context, sellerID, resourceID uint64) ([]domain.Entitlement, error) {
	if err := s.checkOwner(ctx, sellerID, resourceID); err != nil {
		return nil, err
	}
	return s.entitlements.ListActiveByResource(ctx, resourceID, s.now())
}

// Revoke removes a buyer's grant. The cache entry is dropped before the
// delete and again after commit, so no read can re-cache the old grant.
func (s *EntitlementService) Revoke(ctx context.Context, sellerID, resourceID, buyerID uint64) error {
	if err := s.checkOwner(ctx, sellerID, resourceID); err != nil {
		return err
	}

	s.invalidate(ctx, buyerID)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		deleted, err := s.entitlements.Delete(ctx, buyerID, resourceID)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrEntitlementNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(context.WithoutCancel(ctx), buyerID)

	now := s.now()
	s.log.Infof("entitlement revoked: buyer=%d resource=%d by seller=%d", buyerID, resourceID, sellerID)
	if err := s.publisher.Publish(ctx, domain.EventEntitlementRevoked, domain.EntitlementRevokedEvent{
		BuyerID:    buyerID,
		ResourceID: resourceID,
		RevokedBy:  sellerID,
		RevokedAt:  now,
	}); err != nil {
		s.log.Warnf("publish %s: %v", domain.EventEntitlementRevoked, err)
	}
	return nil
}

func (s *EntitlementService) checkOwner(ctx context.Context, sellerID, resourceID uint64) error {
	p, err := s.pricing.Get(ctx, resourceID)
	if err != nil {
		return err
	}
	if p == nil {
		return domain.ErrPricingNotFound
	}
	if p.SellerID != sellerID {
		return domain.ErrForbidden
	}
	return nil
}

func (s *EntitlementService) invalidate(ctx context.Context, buyerID uint64) {
	if err := s.cache.Invalidate(ctx, buyerID); err != nil {
		s.log.Warnf("invalidate entitlement cache for buyer %d: %v", buyerID, err)
	}
}
