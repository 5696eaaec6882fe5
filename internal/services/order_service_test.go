package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	"checkout-service/internal/mocks"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type orderMocks struct {
	orders       *mocks.MockOrderRepository
	entitlements *mocks.MockEntitlementRepository
	merchants    *mocks.MockMerchantRepository
	pricing      *mocks.MockPricingRepository
	gateway      *mocks.MockGatewayClient
	cipher       *mocks.MockSecretCipher
	cache        *mocks.MockEntitlementCache
	publisher    *mocks.MockPublisher
}

func newOrderMocks() *orderMocks {
	return &orderMocks{
		orders:       new(mocks.MockOrderRepository),
		entitlements: new(mocks.MockEntitlementRepository),
		merchants:    new(mocks.MockMerchantRepository),
		pricing:      new(mocks.MockPricingRepository),
		gateway:      new(mocks.MockGatewayClient),
		cipher:       new(mocks.MockSecretCipher),
		cache:        new(mocks.MockEntitlementCache),
		publisher:    new(mocks.MockPublisher),
	}
}

func (m *orderMocks) assertExpectations(t *testing.T) {
	m.orders.AssertExpectations(t)
	m.entitlements.AssertExpectations(t)
	m.merchants.AssertExpectations(t)
	m.pricing.AssertExpectations(t)
	m.gateway.AssertExpectations(t)
	m.cipher.AssertExpectations(t)
	m.cache.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
}

func (m *orderMocks) pipeline() *FulfillmentPipeline {
	return NewFulfillmentPipeline(mocks.MockTransactor{}, m.orders, m.entitlements, m.merchants,
		m.cache, m.gateway, m.cipher, m.publisher, log.DefaultLogger)
}

func (m *orderMocks) service() *OrderService {
	return NewOrderService(m.orders, m.entitlements, m.merchants, m.pricing, m.gateway, m.cipher,
		m.pipeline(), config.Checkout{Window: config.Duration{Duration: domain.CheckoutWindow}, PlatformFeeRate: "0.025"},
		log.DefaultLogger)
}

var testBuyer = Buyer{ID: TestBuyerID, DisplayName: "alice"}

func TestOrderService_CreateOrder(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		setupMocks  func(*orderMocks)
		expectedErr error
		expectedNo  string
	}{
		{
			name:   "creates a new pending order",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(intPtr(TestValidityDays)), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.AnythingOfType("time.Time")).Return(false, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.orders.On("DeleteExpiredPending", mock.Anything, TestBuyerID, TestResourceID, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
				m.orders.On("GetPendingByPair", mock.Anything, TestBuyerID, TestResourceID).Return(nil, nil)
				m.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Run(func(args mock.Arguments) {
					order := args.Get(1).(*domain.Order)
					order.ID = 1
				})
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("CreateOrder", mock.Anything, mock.MatchedBy(func(mc *domain.MerchantAccount) bool {
					return mc.Secret == TestSecret
				}), mock.MatchedBy(func(req infra.CreatePaymentRequest) bool {
					return req.AmountMinor == 10000 && req.Title == TestTitle &&
						req.Method == domain.PaymentAlipay && req.UserDisplayName == "alice"
				})).Return(&infra.CreatePaymentResult{QRCode: TestQRCode, GatewayOrderID: TestGatewayOrderID}, nil)
				m.orders.On("UpdatePaymentInfo", mock.Anything, mock.AnythingOfType("string"), TestGatewayOrderID, domain.PaymentAlipay, TestQRCode).Return(nil)
			},
		},
		{
			name:   "reuses the payable pending order",
			method: "wechat",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(nil), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(false, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.orders.On("DeleteExpiredPending", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(int64(0), nil)
				m.orders.On("GetPendingByPair", mock.Anything, TestBuyerID, TestResourceID).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, time.Now().UTC()), nil)
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("CreateOrder", mock.Anything, mock.Anything, mock.MatchedBy(func(req infra.CreatePaymentRequest) bool {
					return req.OrderNo == TestOrderNo && req.Method == domain.PaymentWechat
				})).Return(&infra.CreatePaymentResult{QRCode: TestQRCode, GatewayOrderID: TestGatewayOrderID}, nil)
				m.orders.On("UpdatePaymentInfo", mock.Anything, TestOrderNo, TestGatewayOrderID, domain.PaymentWechat, TestQRCode).Return(nil)
			},
			expectedNo: TestOrderNo,
		},
		{
			name:   "concurrent create resolves to the existing order",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(nil), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(false, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.orders.On("DeleteExpiredPending", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(int64(0), nil)
				m.orders.On("GetPendingByPair", mock.Anything, TestBuyerID, TestResourceID).Return(nil, nil).Once()
				m.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(domain.ErrConflict)
				m.orders.On("GetPendingByPair", mock.Anything, TestBuyerID, TestResourceID).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, time.Now().UTC()), nil).Once()
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(&infra.CreatePaymentResult{QRCode: TestQRCode, GatewayOrderID: TestGatewayOrderID}, nil)
				m.orders.On("UpdatePaymentInfo", mock.Anything, TestOrderNo, TestGatewayOrderID, domain.PaymentAlipay, TestQRCode).Return(nil)
			},
			expectedNo: TestOrderNo,
		},
		{
			name:   "resource not priced",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(nil, nil)
			},
			expectedErr: domain.ErrPricingNotFound,
		},
		{
			name:   "already entitled",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(nil), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(true, nil)
			},
			expectedErr: domain.ErrAlreadyEntitled,
		},
		{
			name:   "seller has no merchant account",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(nil), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(false, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(nil, nil)
			},
			expectedErr: domain.ErrMerchantUnverified,
		},
		{
			name:   "seller merchant account unverified",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(nil), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(false, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(false), nil)
			},
			expectedErr: domain.ErrMerchantUnverified,
		},
		{
			name:   "unsupported payment method",
			method: "paypal",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(nil), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(false, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
			},
			expectedErr: domain.ErrInvalidPaymentMethod,
		},
		{
			name:   "gateway unavailable",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(CreateMockPricing(nil), nil)
				m.entitlements.On("HasActive", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(false, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.orders.On("DeleteExpiredPending", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(int64(1), nil)
				m.orders.On("GetPendingByPair", mock.Anything, TestBuyerID, TestResourceID).Return(nil, nil)
				m.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil, &infra.GatewayError{Op: "create-order", StatusCode: 502})
			},
			expectedErr: domain.ErrUpstreamUnavailable,
		},
		{
			name:   "store failure",
			method: "alipay",
			setupMocks: func(m *orderMocks) {
				m.pricing.On("Get", mock.Anything, TestResourceID).Return(nil, errors.New("database error"))
			},
			expectedErr: errors.New("database error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newOrderMocks()
			tt.setupMocks(m)

			order, err := m.service().CreateOrder(context.Background(), testBuyer, TestResourceID, tt.method)

			if tt.expectedErr != nil {
				require.Error(t, err)
				if errors.Is(err, tt.expectedErr) {
					assert.ErrorIs(t, err, tt.expectedErr)
				} else {
					assert.Contains(t, err.Error(), tt.expectedErr.Error())
				}
				assert.Nil(t, order)
			} else {
				require.NoError(t, err)
				require.NotNil(t, order)
				assert.Equal(t, domain.StatusPending, order.Status)
				assert.Equal(t, TestQRCode, order.QRCode)
				assert.Equal(t, TestGatewayOrderID, order.ExternalOrderNo)
				assert.True(t, decimal.RequireFromString("100").Equal(order.Amount))
				if tt.expectedNo != "" {
					assert.Equal(t, tt.expectedNo, order.OrderNo)
				} else {
					assert.Len(t, order.OrderNo, 24)
					assert.Equal(t, "2.5", order.PlatformFee.String())
					assert.Equal(t, "97.5", order.SellerAmount.String())
					assert.Equal(t, domain.CheckoutWindow, order.ExpiresAt.Sub(order.CreatedAt))
					require.NotNil(t, order.ValidityDays)
					assert.Equal(t, TestValidityDays, *order.ValidityDays)
				}
			}
			m.assertExpectations(t)
		})
	}
}

func TestOrderService_GetOrder(t *testing.T) {
	m := newOrderMocks()
	order := CreateMockOrder(TestOrderNo, domain.StatusPending, time.Now().UTC())
	m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(order, nil)
	m.orders.On("GetByOrderNumber", mock.Anything, "BBNONE").Return(nil, nil)
	s := m.service()

	got, err := s.GetOrder(context.Background(), TestBuyerID, TestOrderNo)
	require.NoError(t, err)
	assert.Equal(t, order, got)

	_, err = s.GetOrder(context.Background(), TestBuyerID+1, TestOrderNo)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = s.GetOrder(context.Background(), TestBuyerID, "BBNONE")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderService_ListOrdersClampsPaging(t *testing.T) {
	tests := []struct {
		name           string
		limit, offset  int
		expectedLimit  int
		expectedOffset int
	}{
		{name: "defaults", expectedLimit: DefaultPageSize},
		{name: "capped", limit: 500, offset: 40, expectedLimit: MaxPageSize, expectedOffset: 40},
		{name: "negative offset", limit: 5, offset: -3, expectedLimit: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newOrderMocks()
			m.orders.On("ListByBuyer", mock.Anything, TestBuyerID, tt.expectedLimit, tt.expectedOffset).Return([]domain.Order{}, nil)

			_, err := m.service().ListOrders(context.Background(), TestBuyerID, tt.limit, tt.offset)
			require.NoError(t, err)
			m.orders.AssertExpectations(t)
		})
	}
}

func TestOrderService_RefreshStatus(t *testing.T) {
	now := time.Now().UTC()
	paidAt := now

	tests := []struct {
		name           string
		throttled      bool
		setupMocks     func(*orderMocks)
		expectedStatus domain.OrderStatus
		expectedErr    error
	}{
		{
			name: "settled order is returned without a gateway call",
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusExpired, now), nil)
			},
			expectedStatus: domain.StatusExpired,
		},
		{
			name: "gateway still waiting keeps the order pending",
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("QueryOrder", mock.Anything, mock.Anything, TestOrderNo).Return(&infra.OrderQueryResult{TradeState: "NOTPAY"}, nil)
			},
			expectedStatus: domain.StatusPending,
		},
		{
			name: "closed at the gateway is still pending here",
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("QueryOrder", mock.Anything, mock.Anything, TestOrderNo).Return(&infra.OrderQueryResult{TradeState: "CLOSED"}, nil)
			},
			expectedStatus: domain.StatusPending,
		},
		{
			name: "gateway failure is reported with the pending order",
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("QueryOrder", mock.Anything, mock.Anything, TestOrderNo).Return(nil, &infra.GatewayError{Op: "query-order", Err: context.DeadlineExceeded})
			},
			expectedStatus: domain.StatusPending,
			expectedErr:    domain.ErrUpstreamUnavailable,
		},
		{
			name:      "throttled poll skips the gateway",
			throttled: true,
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
			},
			expectedStatus: domain.StatusPending,
		},
		{
			name: "paid at the gateway fulfills and notifies shipped",
			setupMocks: func(m *orderMocks) {
				pending := CreateMockOrder(TestOrderNo, domain.StatusPending, now)
				paid := CreateMockOrder(TestOrderNo, domain.StatusPaid, now)
				paid.PaidAt = &paidAt
				expires := paidAt.AddDate(0, 0, TestValidityDays)
				ent := &domain.Entitlement{BuyerID: TestBuyerID, ResourceID: TestResourceID, OrderNo: TestOrderNo,
					Amount: paid.Amount, PurchasedAt: paidAt, ExpiresAt: &expires, Status: domain.EntitlementActive, UpdatedAt: paidAt}

				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(pending, nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil).Twice()
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil).Twice()
				m.gateway.On("QueryOrder", mock.Anything, mock.Anything, TestOrderNo).Return(&infra.OrderQueryResult{TradeState: domain.TradeStateSuccess}, nil)
				m.orders.On("MarkPaid", mock.Anything, TestOrderNo, mock.AnythingOfType("time.Time")).Return(paid, nil)
				m.entitlements.On("Upsert", mock.Anything, mock.MatchedBy(func(e *domain.Entitlement) bool {
					return e.BuyerID == TestBuyerID && e.ResourceID == TestResourceID && e.ExpiresAt != nil
				})).Return(ent, nil)
				m.cache.On("AddGrant", mock.Anything, TestBuyerID, TestResourceID, &expires).Return(nil)
				m.publisher.On("Publish", mock.Anything, domain.EventOrderPaid, mock.AnythingOfType("domain.OrderPaidEvent")).Return(nil)
				m.publisher.On("Publish", mock.Anything, domain.EventEntitlementGranted, mock.AnythingOfType("domain.EntitlementGrantedEvent")).Return(nil)
				m.gateway.On("NotifyShipped", mock.Anything, mock.Anything, TestOrderNo).Return(nil)
			},
			expectedStatus: domain.StatusPaid,
		},
		{
			name: "paid at the gateway but local fulfilment fails keeps the stored status",
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
				m.merchants.On("GetBySeller", mock.Anything, TestSellerID).Return(CreateMockMerchant(true), nil)
				m.cipher.On("Decrypt", TestEncryptedSecret).Return(TestSecret, nil)
				m.gateway.On("QueryOrder", mock.Anything, mock.Anything, TestOrderNo).Return(&infra.OrderQueryResult{TradeState: domain.TradeStateSuccess}, nil)
				m.orders.On("MarkPaid", mock.Anything, TestOrderNo, mock.AnythingOfType("time.Time")).Return(nil, errors.New("db: connection reset"))
			},
			expectedStatus: domain.StatusPending,
			expectedErr:    domain.ErrReconcileFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newOrderMocks()
			tt.setupMocks(m)
			s := m.service()
			if tt.throttled {
				s.limiter = rate.NewLimiter(0, 0)
			}

			order, err := s.RefreshStatus(context.Background(), TestBuyerID, TestOrderNo)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			require.NotNil(t, order)
			assert.Equal(t, tt.expectedStatus, order.Status)
			m.assertExpectations(t)
		})
	}
}

func TestOrderService_RefreshStatusForeignOrder(t *testing.T) {
	m := newOrderMocks()
	m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, time.Now().UTC()), nil)

	order, err := m.service().RefreshStatus(context.Background(), TestBuyerID+1, TestOrderNo)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Nil(t, order)
	m.gateway.AssertNotCalled(t, "QueryOrder", mock.Anything, mock.Anything, mock.Anything)
}
