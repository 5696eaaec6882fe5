package mysql

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type merchantRepo struct {
	db  *gorm.DB
	log *log.Helper
}

func NewMerchantRepository(db *gorm.DB, logger log.Logger) repository.MerchantRepository {
	return &merchantRepo{db: db, log: log.NewHelper(logger)}
}

// Upsert avoids ON DUPLICATE KEY UPDATE: with two unique keys MySQL would
// happily overwrite the row of the seller that owns the account id.
func (r *merchantRepo) Upsert(ctx context.Context, m *domain.MerchantAccount) error {
	m.Verified = false
	now := time.Now().UTC()

	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var existing domain.MerchantAccount
		err := tx.Where("seller_id = ?", m.SellerID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			m.CreatedAt, m.UpdatedAt = now, now
			return tx.Create(m).Error
		}
		if err != nil {
			return err
		}

		m.CreatedAt, m.UpdatedAt = existing.CreatedAt, now
		return tx.Model(&domain.MerchantAccount{}).
			Where("seller_id = ?", m.SellerID).
			Updates(map[string]any{
				"account_id":       m.AccountID,
				"encrypted_secret": m.EncryptedSecret,
				"verified":         false,
				"updated_at":       now,
			}).Error
	})
	if err != nil {
		err = translate(err)
		if !errors.Is(err, domain.ErrConflict) {
			r.log.Errorf("failed to upsert merchant for seller %d: %v", m.SellerID, err)
		}
		return err
	}
	return nil
}

func (r *merchantRepo) GetBySeller(ctx context.Context, sellerID uint64) (*domain.MerchantAccount, error) {
	var m domain.MerchantAccount
	if err := conn(ctx, r.db).Where("seller_id = ?", sellerID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *merchantRepo) IsAccountIDClaimedByOther(ctx context.Context, accountID int64, sellerID uint64) (bool, error) {
	var n int64
	err := conn(ctx, r.db).Model(&domain.MerchantAccount{}).
		Where("account_id = ? AND seller_id <> ?", accountID, sellerID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *merchantRepo) SetVerified(ctx context.Context, sellerID uint64, verified bool) error {
	res := conn(ctx, r.db).Model(&domain.MerchantAccount{}).
		Where("seller_id = ?", sellerID).
		Updates(map[string]any{"verified": verified, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMerchantNotFound
	}
	return nil
}

func (r *merchantRepo) Delete(ctx context.Context, sellerID uint64) (bool, error) {
	res := conn(ctx, r.db).Where("seller_id = ?", sellerID).Delete(&domain.MerchantAccount{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
