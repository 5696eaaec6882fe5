package services

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/domain"
	"checkout-service/internal/infra"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
)

type MerchantService struct {
	merchants repository.MerchantRepository
	gateway   infra.GatewayClientInterface
	cipher    infra.SecretCipher
	log       *log.Helper
}

func NewMerchantService(merchants repository.MerchantRepository, gateway infra.GatewayClientInterface, cipher infra.SecretCipher, logger log.Logger) *MerchantService {
	return &MerchantService{
		merchants: merchants,
		gateway:   gateway,
		cipher:    cipher,
		log:       log.NewHelper(logger),
	}
}

// Upsert binds the seller to a gateway account, always unverified, and then
// runs a live verification. The stored account survives a failed
// verification so the seller can retry Verify later.
func (s *MerchantService) Upsert(ctx context.Context, sellerID uint64, accountID int64, secret string) (*domain.MerchantVerification, error) {
	if accountID <= 0 || secret == "" {
		return nil, fmt.Errorf("%w: account id and secret are required", domain.ErrInvariantViolation)
	}

	claimed, err := s.merchants.IsAccountIDClaimedByOther(ctx, accountID, sellerID)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, domain.ErrAccountIDClaimed
	}

	encrypted, err := s.cipher.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt merchant secret: %w", err)
	}

	err = s.merchants.Upsert(ctx, &domain.MerchantAccount{
		SellerID:        sellerID,
		AccountID:       accountID,
		EncryptedSecret: encrypted,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, domain.ErrAccountIDClaimed
	}
	if err != nil {
		return nil, err
	}
	s.log.Infof("merchant account %d bound to seller %d", accountID, sellerID)

	return s.verify(ctx, sellerID, accountID, secret)
}

// Verify re-runs the live check with the stored credentials and persists
// the outcome.
func (s *MerchantService) Verify(ctx context.Context, sellerID uint64) (*domain.MerchantVerification, error) {
	m, err := s.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	secret, err := s.cipher.Decrypt(m.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt merchant secret: %w", err)
	}
	return s.verify(ctx, sellerID, m.AccountID, secret)
}

func (s *MerchantService) verify(ctx context.Context, sellerID uint64, accountID int64, secret string) (*domain.MerchantVerification, error) {
	v, err := s.gateway.VerifyMerchant(ctx, accountID, secret)
	if err != nil {
		return nil, err
	}
	if err := s.merchants.SetVerified(ctx, sellerID, v.Success); err != nil {
		return nil, err
	}
	if v.Success {
		s.log.Infof("merchant account %d verified for seller %d", accountID, sellerID)
	} else {
		s.log.Warnf("merchant account %d for seller %d failed verification: %s", accountID, sellerID, v.Message)
	}
	return v, nil
}

func (s *MerchantService) Get(ctx context.Context, sellerID uint64) (*domain.MerchantAccount, error) {
	m, err := s.merchants.GetBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrMerchantNotFound
	}
	return m, nil
}

func (s *MerchantService) Delete(ctx context.Context, sellerID uint64) error {
	deleted, err := s.merchants.Delete(ctx, sellerID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrMerchantNotFound
	}
	s.log.Infof("merchant account removed for seller %d", sellerID)
	return nil
}
