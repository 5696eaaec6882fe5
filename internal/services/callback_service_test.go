package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"
	"checkout-service/internal/mocks"
	"checkout-service/internal/signature"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testKeycode = "k3ycode"

func callbackData(overrides map[string]any) map[string]any {
	data := map[string]any{
		"tradeState":      domain.TradeStateSuccess,
		"otherOrderNo":    TestOrderNo,
		"orderId":         TestGatewayOrderID,
		"sid":             TestAccountID,
		"title":           TestTitle,
		"payType":         "2",
		"userDisplayName": "alice",
		"money":           10000,
		"settlement":      "1",
	}
	for k, v := range overrides {
		data[k] = v
	}
	return data
}

func signedCallback(t *testing.T, v *signature.Verifier, data map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var d domain.PaymentCallbackData
	require.NoError(t, json.Unmarshal(raw, &d))
	body, err := json.Marshal(map[string]any{"data": data, "sign": v.Sign(d.SignedFields())})
	require.NoError(t, err)
	return body
}

func TestCallbackService_Handle(t *testing.T) {
	now := time.Now().UTC()
	verifier := signature.NewVerifier(config.Webhook{Keycode: testKeycode}, log.DefaultLogger)

	expectFulfill := func(m *orderMocks) {
		paid := CreateMockOrder(TestOrderNo, domain.StatusPaid, now)
		paid.PaidAt = &now
		m.orders.On("MarkPaid", mock.Anything, TestOrderNo, mock.Anything).Return(paid, nil)
		m.entitlements.On("Upsert", mock.Anything, mock.Anything).Return(&domain.Entitlement{BuyerID: TestBuyerID, ResourceID: TestResourceID}, nil)
		m.cache.On("AddGrant", mock.Anything, TestBuyerID, TestResourceID, mock.Anything).Return(nil)
		m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	}

	tests := []struct {
		name           string
		verifier       *signature.Verifier
		body           func(t *testing.T) []byte
		setupMocks     func(*orderMocks)
		expectedCode   int
		signatureValid bool
	}{
		{
			name: "successful payment is fulfilled",
			body: func(t *testing.T) []byte { return signedCallback(t, verifier, callbackData(nil)) },
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
				expectFulfill(m)
			},
			expectedCode:   CodeAccepted,
			signatureValid: true,
		},
		{
			name: "amount sent as string",
			body: func(t *testing.T) []byte {
				return signedCallback(t, verifier, callbackData(map[string]any{"money": "10000"}))
			},
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
				expectFulfill(m)
			},
			expectedCode:   CodeAccepted,
			signatureValid: true,
		},
		{
			name: "replayed callback is accepted without a second grant",
			body: func(t *testing.T) []byte { return signedCallback(t, verifier, callbackData(nil)) },
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPaid, now), nil)
			},
			expectedCode:   CodeAccepted,
			signatureValid: true,
		},
		{
			name: "forged signature",
			body: func(t *testing.T) []byte {
				body, _ := json.Marshal(map[string]any{"data": callbackData(nil), "sign": "0123456789ABCDEF0123456789ABCDEF"})
				return body
			},
			setupMocks:   func(m *orderMocks) {},
			expectedCode: CodeRejected,
		},
		{
			name: "tampered amount",
			body: func(t *testing.T) []byte {
				var req map[string]any
				require.NoError(t, json.Unmarshal(signedCallback(t, verifier, callbackData(nil)), &req))
				req["data"].(map[string]any)["money"] = 1
				body, _ := json.Marshal(req)
				return body
			},
			setupMocks:   func(m *orderMocks) {},
			expectedCode: CodeRejected,
		},
		{
			name: "unpaid trade state leaves the order alone",
			body: func(t *testing.T) []byte {
				return signedCallback(t, verifier, callbackData(map[string]any{"tradeState": "NOTPAY"}))
			},
			setupMocks:     func(m *orderMocks) {},
			expectedCode:   CodeRejected,
			signatureValid: true,
		},
		{
			name:           "unknown order",
			body:           func(t *testing.T) []byte { return signedCallback(t, verifier, callbackData(nil)) },
			setupMocks:     func(m *orderMocks) { m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(nil, nil) },
			expectedCode:   CodeOrderNotFound,
			signatureValid: true,
		},
		{
			name: "signed amount differs from the order",
			body: func(t *testing.T) []byte {
				return signedCallback(t, verifier, callbackData(map[string]any{"money": 1}))
			},
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPending, now), nil)
			},
			expectedCode:   CodeRejected,
			signatureValid: true,
		},
		{
			name: "expired order",
			body: func(t *testing.T) []byte { return signedCallback(t, verifier, callbackData(nil)) },
			setupMocks: func(m *orderMocks) {
				m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusExpired, now), nil)
			},
			expectedCode:   CodeRejected,
			signatureValid: true,
		},
		{
			name:         "malformed body",
			body:         func(t *testing.T) []byte { return []byte("tradeState=SUCCESS") },
			setupMocks:   func(m *orderMocks) {},
			expectedCode: CodeRejected,
		},
		{
			name:         "keycode not configured",
			verifier:     signature.NewVerifier(config.Webhook{}, log.DefaultLogger),
			body:         func(t *testing.T) []byte { return signedCallback(t, verifier, callbackData(nil)) },
			setupMocks:   func(m *orderMocks) {},
			expectedCode: CodeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newOrderMocks()
			tt.setupMocks(m)
			logRepo := new(mocks.MockCallbackLogRepository)
			var recorded *domain.CallbackEvent
			logRepo.On("Record", mock.Anything, mock.AnythingOfType("*domain.CallbackEvent")).Return(nil).Run(func(args mock.Arguments) {
				recorded = args.Get(1).(*domain.CallbackEvent)
			})

			v := verifier
			if tt.verifier != nil {
				v = tt.verifier
			}
			svc := NewCallbackService(v, m.orders, logRepo, m.pipeline(), log.DefaultLogger)

			ack := svc.Handle(context.Background(), tt.body(t), "203.0.113.7")

			assert.Equal(t, tt.expectedCode, ack.Code)
			assert.NotEmpty(t, ack.Message)
			require.NotNil(t, recorded)
			assert.Equal(t, tt.expectedCode, recorded.ResponseCode)
			assert.Equal(t, tt.signatureValid, recorded.SignatureValid)
			assert.Equal(t, "203.0.113.7", recorded.ClientIP)
			assert.True(t, json.Valid(recorded.Payload))
			if tt.expectedCode == CodeAccepted {
				assert.NotNil(t, recorded.ProcessedAt)
				assert.Empty(t, recorded.ProcessingError)
			} else {
				assert.Nil(t, recorded.ProcessedAt)
			}
			m.assertExpectations(t)
		})
	}
}

func TestCallbackService_AuditFailureDoesNotChangeAck(t *testing.T) {
	verifier := signature.NewVerifier(config.Webhook{Keycode: testKeycode}, log.DefaultLogger)
	m := newOrderMocks()
	m.orders.On("GetByOrderNumber", mock.Anything, TestOrderNo).Return(CreateMockOrder(TestOrderNo, domain.StatusPaid, time.Now().UTC()), nil)
	logRepo := new(mocks.MockCallbackLogRepository)
	logRepo.On("Record", mock.Anything, mock.Anything).Return(assert.AnError)

	svc := NewCallbackService(verifier, m.orders, logRepo, m.pipeline(), log.DefaultLogger)
	ack := svc.Handle(context.Background(), signedCallback(t, verifier, callbackData(nil)), "203.0.113.7")
	assert.Equal(t, CodeAccepted, ack.Code)
}

func TestCallbackService_AllowIP(t *testing.T) {
	verifier := signature.NewVerifier(config.Webhook{Keycode: testKeycode, AllowedIPs: []string{"198.51.100.1"}}, log.DefaultLogger)
	svc := NewCallbackService(verifier, nil, nil, nil, log.DefaultLogger)

	assert.NoError(t, svc.AllowIP("198.51.100.1"))
	assert.ErrorIs(t, svc.AllowIP("203.0.113.7"), domain.ErrUnauthenticated)
}
