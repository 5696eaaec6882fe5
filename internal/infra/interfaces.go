package infra

import (
	"context"

	"checkout-service/internal/domain"
)

// GatewayClientInterface signs every call with the merchant's own secret.
// Failures are *GatewayError values that unwrap to domain.ErrUpstreamUnavailable.
type GatewayClientInterface interface {
	CreateOrder(ctx context.Context, m *domain.MerchantAccount, req CreatePaymentRequest) (*CreatePaymentResult, error)
	QueryOrder(ctx context.Context, m *domain.MerchantAccount, orderNo string) (*OrderQueryResult, error)
	NotifyShipped(ctx context.Context, m *domain.MerchantAccount, orderNo string) error
	VerifyMerchant(ctx context.Context, accountID int64, secret string) (*domain.MerchantVerification, error)
}

// SecretCipher encrypts merchant secrets at rest.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

var (
	_ GatewayClientInterface = (*GatewayClient)(nil)
	_ SecretCipher           = (*AESCipher)(nil)
)
