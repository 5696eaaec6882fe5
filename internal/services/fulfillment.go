package services

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/cache"
	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	rabbit "checkout-service/internal/infra/rabbitmq"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
)

type FulfillmentResult struct {
	Order       *domain.Order
	Entitlement *domain.Entitlement
	// AlreadyProcessed is set when another caller had already paid the order.
	AlreadyProcessed bool
}

// FulfillmentPipeline turns a confirmed payment into an entitlement exactly
// once. The webhook and the status poll both end here; the conditional
// pending -> paid update decides which of them does the work.
type FulfillmentPipeline struct {
	tx           repository.Transactor
	orders       repository.OrderRepository
	entitlements repository.EntitlementRepository
	merchants    repository.MerchantRepository
	cache        cache.EntitlementCacheInterface
	gateway      infra.GatewayClientInterface
	cipher       infra.SecretCipher
	publisher    rabbit.PublisherInterface
	log          *log.Helper
	now          func() time.Time
}

func NewFulfillmentPipeline(
	tx repository.Transactor,
	orders repository.OrderRepository,
	entitlements repository.EntitlementRepository,
	merchants repository.MerchantRepository,
	entCache cache.EntitlementCacheInterface,
	gateway infra.GatewayClientInterface,
	cipher infra.SecretCipher,
	publisher rabbit.PublisherInterface,
	logger log.Logger,
) *FulfillmentPipeline {
	return &FulfillmentPipeline{
		tx:           tx,
		orders:       orders,
		entitlements: entitlements,
		merchants:    merchants,
		cache:        entCache,
		gateway:      gateway,
		cipher:       cipher,
		publisher:    publisher,
		log:          log.NewHelper(logger),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Fulfill is safe to call any number of times, concurrently, for the same
// order number.
func (p *FulfillmentPipeline) Fulfill(ctx context.Context, orderNo string, source domain.FulfillmentSource) (*FulfillmentResult, error) {
	now := p.now()
	res := &FulfillmentResult{}

	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := p.orders.GetByOrderNumber(ctx, orderNo)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		res.Order = order

		if order.IsPaid() {
			res.AlreadyProcessed = true
			return nil
		}
		if order.Status != domain.StatusPending {
			return fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotPayable, orderNo, order.Status)
		}

		paid, err := p.orders.MarkPaid(ctx, orderNo, now)
		if err != nil {
			return err
		}
		if paid == nil {
			res.AlreadyProcessed = true
			return nil
		}
		res.Order = paid

		ent, err := p.entitlements.Upsert(ctx, &domain.Entitlement{
			BuyerID:     paid.BuyerID,
			ResourceID:  paid.ResourceID,
			OrderNo:     paid.OrderNo,
			Amount:      paid.Amount,
			PurchasedAt: now,
			ExpiresAt:   paid.EntitlementExpiry(now),
			Status:      domain.EntitlementActive,
			UpdatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("grant entitlement for order %s: %w", orderNo, err)
		}
		res.Entitlement = ent
		return nil
	})
	if err != nil {
		p.log.Errorf("fulfill order %s via %s: %v", orderNo, source, err)
		return nil, err
	}

	if res.AlreadyProcessed {
		if !res.Order.IsPaid() {
			// lost the race inside the transaction; report the winner's row
			if latest, err := p.orders.GetByOrderNumber(ctx, orderNo); err == nil && latest != nil {
				res.Order = latest
			}
		}
		p.log.Infof("order %s already fulfilled, %s delivery ignored", orderNo, source)
		return res, nil
	}

	o := res.Order
	p.log.Infof("order %s paid via %s: buyer=%d resource=%d amount=%s seller_net=%s",
		o.OrderNo, source, o.BuyerID, o.ResourceID, o.Amount.StringFixed(2), o.SellerAmount.StringFixed(2))

	p.afterCommit(context.WithoutCancel(ctx), res, source)
	return res, nil
}

// afterCommit never fails the fulfillment; every step here self-heals or is
// advisory.
func (p *FulfillmentPipeline) afterCommit(ctx context.Context, res *FulfillmentResult, source domain.FulfillmentSource) {
	o, ent := res.Order, res.Entitlement

	if err := p.cache.AddGrant(ctx, o.BuyerID, o.ResourceID, ent.ExpiresAt); err != nil {
		p.log.Warnf("entitlement cache update for buyer %d: %v", o.BuyerID, err)
	}

	paidAt := ent.UpdatedAt
	if o.PaidAt != nil {
		paidAt = *o.PaidAt
	}
	p.publish(ctx, domain.EventOrderPaid, domain.OrderPaidEvent{
		OrderNo:    o.OrderNo,
		BuyerID:    o.BuyerID,
		ResourceID: o.ResourceID,
		SellerID:   o.SellerID,
		Amount:     o.Amount,
		SellerNet:  o.SellerAmount,
		Source:     source,
		PaidAt:     paidAt,
	})
	p.publish(ctx, domain.EventEntitlementGranted, domain.EntitlementGrantedEvent{
		BuyerID:     ent.BuyerID,
		ResourceID:  ent.ResourceID,
		OrderNo:     o.OrderNo,
		PurchasedAt: ent.PurchasedAt,
		ExpiresAt:   ent.ExpiresAt,
	})

	if source == domain.SourcePoll {
		p.notifyShipped(ctx, o)
	}
}

func (p *FulfillmentPipeline) notifyShipped(ctx context.Context, o *domain.Order) {
	merchant, err := p.merchants.GetBySeller(ctx, o.SellerID)
	if err != nil || merchant == nil {
		p.log.Warnf("notify shipped for order %s: merchant %d unavailable: %v", o.OrderNo, o.SellerID, err)
		return
	}
	secret, err := p.cipher.Decrypt(merchant.EncryptedSecret)
	if err != nil {
		p.log.Warnf("notify shipped for order %s: decrypt merchant secret: %v", o.OrderNo, err)
		return
	}
	merchant.Secret = secret

	if err := p.gateway.NotifyShipped(ctx, merchant, o.OrderNo); err != nil {
		p.log.Warnf("notify shipped for order %s: %v", o.OrderNo, err)
	}
}

func (p *FulfillmentPipeline) publish(ctx context.Context, topic string, evt any) {
	if err := p.publisher.Publish(ctx, topic, evt); err != nil {
		p.log.Warnf("publish %s: %v", topic, err)
	}
}
