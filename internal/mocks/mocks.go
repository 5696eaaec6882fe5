package mocks

import (
	"context"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/infra"

	"github.com/stretchr/testify/mock"
)

type MockOrderRepository struct {
	mock.Mock
}

type MockEntitlementRepository struct {
	mock.Mock
}

type MockMerchantRepository struct {
	mock.Mock
}

type MockPricingRepository struct {
	mock.Mock
}

type MockCallbackLogRepository struct {
	mock.Mock
}

type MockGatewayClient struct {
	mock.Mock
}

type MockPublisher struct {
	mock.Mock
}

type MockEntitlementCache struct {
	mock.Mock
}

type MockSecretCipher struct {
	mock.Mock
}

// MockTransactor runs fn inline with the caller's context.
type MockTransactor struct{}

func (MockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByOrderNumber(ctx context.Context, orderNo string) (*domain.Order, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetPendingByPair(ctx context.Context, buyerID, resourceID uint64) (*domain.Order, error) {
	args := m.Called(ctx, buyerID, resourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) ListByBuyer(ctx context.Context, buyerID uint64, limit, offset int) ([]domain.Order, error) {
	args := m.Called(ctx, buyerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Order), args.Error(1)
}

func (m *MockOrderRepository) MarkPaid(ctx context.Context, orderNo string, paidAt time.Time) (*domain.Order, error) {
	args := m.Called(ctx, orderNo, paidAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdatePaymentInfo(ctx context.Context, orderNo, externalOrderNo string, method domain.PaymentMethod, qrCode string) error {
	args := m.Called(ctx, orderNo, externalOrderNo, method, qrCode)
	return args.Error(0)
}

func (m *MockOrderRepository) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) DeleteExpiredPending(ctx context.Context, buyerID, resourceID uint64, now time.Time) (int64, error) {
	args := m.Called(ctx, buyerID, resourceID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEntitlementRepository) Upsert(ctx context.Context, e *domain.Entitlement) (*domain.Entitlement, error) {
	args := m.Called(ctx, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Entitlement), args.Error(1)
}

func (m *MockEntitlementRepository) Get(ctx context.Context, buyerID, resourceID uint64) (*domain.Entitlement, error) {
	args := m.Called(ctx, buyerID, resourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Entitlement), args.Error(1)
}

func (m *MockEntitlementRepository) ListByBuyer(ctx context.Context, buyerID uint64) ([]domain.Entitlement, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Entitlement), args.Error(1)
}

func (m *MockEntitlementRepository) ListActiveResourceIDs(ctx context.Context, buyerID uint64, now time.Time) ([]uint64, *time.Time, error) {
	args := m.Called(ctx, buyerID, now)
	var ids []uint64
	if args.Get(0) != nil {
		ids = args.Get(0).([]uint64)
	}
	var nearest *time.Time
	if args.Get(1) != nil {
		nearest = args.Get(1).(*time.Time)
	}
	return ids, nearest, args.Error(2)
}

func (m *MockEntitlementRepository) ListActiveByResource(ctx context.Context, resourceID uint64, now time.Time) ([]domain.Entitlement, error) {
	args := m.Called(ctx, resourceID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Entitlement), args.Error(1)
}

func (m *MockEntitlementRepository) HasActive(ctx context.Context, buyerID, resourceID uint64, now time.Time) (bool, error) {
	args := m.Called(ctx, buyerID, resourceID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockEntitlementRepository) Delete(ctx context.Context, buyerID, resourceID uint64) (bool, error) {
	args := m.Called(ctx, buyerID, resourceID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEntitlementRepository) ExpireSweep(ctx context.Context, now time.Time) ([]uint64, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

func (m *MockMerchantRepository) Upsert(ctx context.Context, merchant *domain.MerchantAccount) error {
	args := m.Called(ctx, merchant)
	return args.Error(0)
}

func (m *MockMerchantRepository) GetBySeller(ctx context.Context, sellerID uint64) (*domain.MerchantAccount, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MerchantAccount), args.Error(1)
}

func (m *MockMerchantRepository) IsAccountIDClaimedByOther(ctx context.Context, accountID int64, sellerID uint64) (bool, error) {
	args := m.Called(ctx, accountID, sellerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMerchantRepository) SetVerified(ctx context.Context, sellerID uint64, verified bool) error {
	args := m.Called(ctx, sellerID, verified)
	return args.Error(0)
}

func (m *MockMerchantRepository) Delete(ctx context.Context, sellerID uint64) (bool, error) {
	args := m.Called(ctx, sellerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPricingRepository) Get(ctx context.Context, resourceID uint64) (*domain.ResourcePricing, error) {
	args := m.Called(ctx, resourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ResourcePricing), args.Error(1)
}

func (m *MockPricingRepository) Upsert(ctx context.Context, p *domain.ResourcePricing) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockCallbackLogRepository) Record(ctx context.Context, e *domain.CallbackEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockGatewayClient) CreateOrder(ctx context.Context, merchant *domain.MerchantAccount, req infra.CreatePaymentRequest) (*infra.CreatePaymentResult, error) {
	args := m.Called(ctx, merchant, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*infra.CreatePaymentResult), args.Error(1)
}

func (m *MockGatewayClient) QueryOrder(ctx context.Context, merchant *domain.MerchantAccount, orderNo string) (*infra.OrderQueryResult, error) {
	args := m.Called(ctx, merchant, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*infra.OrderQueryResult), args.Error(1)
}

func (m *MockGatewayClient) NotifyShipped(ctx context.Context, merchant *domain.MerchantAccount, orderNo string) error {
	args := m.Called(ctx, merchant, orderNo)
	return args.Error(0)
}

func (m *MockGatewayClient) VerifyMerchant(ctx context.Context, accountID int64, secret string) (*domain.MerchantVerification, error) {
	args := m.Called(ctx, accountID, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MerchantVerification), args.Error(1)
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, message interface{}) error {
	args := m.Called(ctx, topic, message)
	return args.Error(0)
}

func (m *MockEntitlementCache) Resources(ctx context.Context, buyerID uint64) ([]uint64, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

func (m *MockEntitlementCache) Has(ctx context.Context, buyerID, resourceID uint64) (bool, error) {
	args := m.Called(ctx, buyerID, resourceID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEntitlementCache) HasMany(ctx context.Context, buyerID uint64, resourceIDs []uint64) (map[uint64]bool, error) {
	args := m.Called(ctx, buyerID, resourceIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint64]bool), args.Error(1)
}

func (m *MockEntitlementCache) AddGrant(ctx context.Context, buyerID, resourceID uint64, expiresAt *time.Time) error {
	args := m.Called(ctx, buyerID, resourceID, expiresAt)
	return args.Error(0)
}

func (m *MockEntitlementCache) Invalidate(ctx context.Context, buyerID uint64) error {
	args := m.Called(ctx, buyerID)
	return args.Error(0)
}

func (m *MockSecretCipher) Encrypt(plaintext string) (string, error) {
	args := m.Called(plaintext)
	return args.String(0), args.Error(1)
}

func (m *MockSecretCipher) Decrypt(ciphertext string) (string, error) {
	args := m.Called(ciphertext)
	return args.String(0), args.Error(1)
}
