package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Buyer is the authenticated caller of the buyer-facing endpoints.
type Buyer struct {
	ID          uint64
	DisplayName string
}

type OrderService struct {
	orders       repository.OrderRepository
	entitlements repository.EntitlementRepository
	merchants    repository.MerchantRepository
	pricing      repository.PricingRepository
	gateway      infra.GatewayClientInterface
	cipher       infra.SecretCipher
	fulfillment  *FulfillmentPipeline
	feeRate      decimal.Decimal
	window       time.Duration
	limiter      *rate.Limiter
	log          *log.Helper
	now          func() time.Time
}

func NewOrderService(
	orders repository.OrderRepository,
	entitlements repository.EntitlementRepository,
	merchants repository.MerchantRepository,
	pricing repository.PricingRepository,
	gateway infra.GatewayClientInterface,
	cipher infra.SecretCipher,
	fulfillment *FulfillmentPipeline,
	cfg config.Checkout,
	logger log.Logger,
) *OrderService {
	window := cfg.Window.Duration
	if window <= 0 {
		window = domain.CheckoutWindow
	}
	feeRate := decimal.RequireFromString(domain.PlatformFeeRate)
	if cfg.PlatformFeeRate != "" {
		feeRate = cfg.FeeRate()
	}
	limit := rate.Inf
	if cfg.PollRatePerSec > 0 {
		limit = rate.Limit(cfg.PollRatePerSec)
	}
	return &OrderService{
		orders:       orders,
		entitlements: entitlements,
		merchants:    merchants,
		pricing:      pricing,
		gateway:      gateway,
		cipher:       cipher,
		fulfillment:  fulfillment,
		feeRate:      feeRate,
		window:       window,
		limiter:      rate.NewLimiter(limit, max(cfg.PollBurst, 1)),
		log:          log.NewHelper(logger),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder returns a payable order carrying a fresh payment code. A
// pending order for the same buyer and resource is reused rather than
// duplicated.
func (s *OrderService) CreateOrder(ctx context.Context, buyer Buyer, resourceID uint64, method string) (*domain.Order, error) {
	now := s.now()

	pricing, err := s.pricing.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if pricing == nil {
		return nil, domain.ErrPricingNotFound
	}

	owned, err := s.entitlements.HasActive(ctx, buyer.ID, resourceID, now)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, domain.ErrAlreadyEntitled
	}

	merchant, err := s.merchants.GetBySeller(ctx, pricing.SellerID)
	if err != nil {
		return nil, err
	}
	if merchant == nil || !merchant.Verified {
		return nil, domain.ErrMerchantUnverified
	}

	pm, err := domain.ParsePaymentMethod(method)
	if err != nil {
		return nil, err
	}

	if _, err := s.orders.DeleteExpiredPending(ctx, buyer.ID, resourceID, now); err != nil {
		return nil, err
	}

	order, err := s.pendingOrder(ctx, buyer.ID, pricing, now)
	if err != nil {
		return nil, err
	}

	secret, err := s.cipher.Decrypt(merchant.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt merchant secret for seller %d: %w", merchant.SellerID, err)
	}
	merchant.Secret = secret

	payment, err := s.gateway.CreateOrder(ctx, merchant, infra.CreatePaymentRequest{
		OrderNo:         order.OrderNo,
		Title:           pricing.Title,
		UserDisplayName: buyer.DisplayName,
		AmountMinor:     order.AmountMinorUnits(),
		Method:          pm,
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.UpdatePaymentInfo(ctx, order.OrderNo, payment.GatewayOrderID, pm, payment.QRCode); err != nil {
		return nil, err
	}
	order.ExternalOrderNo = payment.GatewayOrderID
	order.PaymentMethod = pm
	order.QRCode = payment.QRCode
	return order, nil
}

func (s *OrderService) pendingOrder(ctx context.Context, buyerID uint64, pricing *domain.ResourcePricing, now time.Time) (*domain.Order, error) {
	existing, err := s.orders.GetPendingByPair(ctx, buyerID, pricing.ResourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsPayable(now) {
		return existing, nil
	}

	fee := domain.CalculatePlatformFee(pricing.Price, s.feeRate)
	order := &domain.Order{
		OrderNo:      domain.NewOrderNumber(now),
		BuyerID:      buyerID,
		ResourceID:   pricing.ResourceID,
		SellerID:     pricing.SellerID,
		Amount:       pricing.Price,
		PlatformFee:  fee,
		SellerAmount: pricing.Price.Sub(fee),
		Status:       domain.StatusPending,
		ValidityDays: pricing.ValidityDays,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.window),
	}

	err = s.orders.Create(ctx, order)
	if errors.Is(err, domain.ErrConflict) {
		// a concurrent request created it first
		winner, rerr := s.orders.GetPendingByPair(ctx, buyerID, pricing.ResourceID)
		if rerr != nil {
			return nil, rerr
		}
		if winner == nil {
			return nil, err
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.Infof("order %s created: buyer=%d resource=%d amount=%s fee=%s",
		order.OrderNo, buyerID, pricing.ResourceID, order.Amount.StringFixed(2), fee.StringFixed(2))
	return order, nil
}

// GetOrder only returns orders owned by the buyer. Anyone else's order is
// reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, buyerID uint64, orderNo string) (*domain.Order, error) {
	o, err := s.orders.GetByOrderNumber(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if o == nil || o.BuyerID != buyerID {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *OrderService) ListOrders(ctx context.Context, buyerID uint64, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	offset = max(offset, 0)
	return s.orders.ListByBuyer(ctx, buyerID, limit, offset)
}

// RefreshStatus reconciles a pending order against the gateway before
// answering. The order is always returned; a failed gateway round-trip is
// reported alongside it as domain.ErrUpstreamUnavailable so the caller can
// keep polling.
func (s *OrderService) RefreshStatus(ctx context.Context, buyerID uint64, orderNo string) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, buyerID, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPending {
		return order, nil
	}
	if !s.limiter.Allow() {
		s.log.Debugf("status poll for order %s throttled", orderNo)
		return order, nil
	}

	merchant, err := s.merchants.GetBySeller(ctx, order.SellerID)
	if err != nil || merchant == nil {
		s.log.Warnf("status poll for order %s: merchant %d unavailable: %v", orderNo, order.SellerID, err)
		return order, nil
	}
	secret, err := s.cipher.Decrypt(merchant.EncryptedSecret)
	if err != nil {
		s.log.Warnf("status poll for order %s: decrypt merchant secret: %v", orderNo, err)
		return order, nil
	}
	merchant.Secret = secret

	state, err := s.gateway.QueryOrder(ctx, merchant, orderNo)
	if err != nil {
		return order, err
	}
	if !state.Paid() {
		return order, nil
	}

	res, err := s.fulfillment.Fulfill(ctx, orderNo, domain.SourcePoll)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotPayable) {
			s.log.Errorf("order %s reported paid by gateway but is no longer payable, needs manual review", orderNo)
			return s.latest(ctx, order), nil
		}
		s.log.Errorf("order %s reported paid by gateway but fulfilment failed: %v", orderNo, err)
		return s.latest(ctx, order), fmt.Errorf("%w: order %s: %w", domain.ErrReconcileFailed, orderNo, err)
	}
	return res.Order, nil
}

// latest re-reads the order, falling back to the copy already held.
func (s *OrderService) latest(ctx context.Context, order *domain.Order) *domain.Order {
	if fresh, err := s.orders.GetByOrderNumber(ctx, order.OrderNo); err == nil && fresh != nil {
		return fresh
	}
	return order
}
