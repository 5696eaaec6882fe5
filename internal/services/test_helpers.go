package services

import (
	"time"

	"checkout-service/internal/domain"

	"github.com/shopspring/decimal"
)

func CreateMockOrder(orderNo string, status domain.OrderStatus, createdAt time.Time) *domain.Order {
	amount := decimal.RequireFromString(TestPrice)
	fee := domain.CalculatePlatformFee(amount, decimal.RequireFromString(domain.PlatformFeeRate))
	return &domain.Order{
		ID:           1,
		OrderNo:      orderNo,
		BuyerID:      TestBuyerID,
		ResourceID:   TestResourceID,
		SellerID:     TestSellerID,
		Amount:       amount,
		PlatformFee:  fee,
		SellerAmount: amount.Sub(fee),
		Status:       status,
		ValidityDays: intPtr(TestValidityDays),
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(domain.CheckoutWindow),
	}
}

func CreateMockPricing(validityDays *int) *domain.ResourcePricing {
	return &domain.ResourcePricing{
		ResourceID:   TestResourceID,
		SellerID:     TestSellerID,
		Title:        TestTitle,
		Price:        decimal.RequireFromString(TestPrice),
		ValidityDays: validityDays,
	}
}

func CreateMockMerchant(verified bool) *domain.MerchantAccount {
	return &domain.MerchantAccount{
		SellerID:        TestSellerID,
		AccountID:       TestAccountID,
		EncryptedSecret: TestEncryptedSecret,
		Verified:        verified,
	}
}

func intPtr(v int) *int { return &v }

const (
	TestBuyerID         = uint64(42)
	TestResourceID      = uint64(7)
	TestSellerID        = uint64(9)
	TestAccountID       = int64(1001)
	TestOrderNo         = "BBABCD202601301234560001"
	TestTitle           = "Test Plugin"
	TestPrice           = "100.00"
	TestValidityDays    = 30
	TestSecret          = "s3cret"
	TestEncryptedSecret = "enc:s3cret"
	TestQRCode          = "https://qr.example/abc"
	TestGatewayOrderID  = "P1001"
)
