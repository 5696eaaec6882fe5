package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type orderRepo struct {
	db   *gorm.DB
	node *snowflake.Node
	log  *log.Helper
}

func NewOrderRepository(db *gorm.DB, node *snowflake.Node, logger log.Logger) repository.OrderRepository {
	return &orderRepo{db: db, node: node, log: log.NewHelper(logger)}
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == 0 {
		order.ID = r.node.Generate()
	}
	if order.Status == "" {
		order.Status = domain.StatusPending
	}
	if order.Status == domain.StatusPending {
		key := domain.PendingPairKey(order.BuyerID, order.ResourceID)
		order.PendingKey = &key
	}

	if err := conn(ctx, r.db).Create(order).Error; err != nil {
		err = translate(err)
		if errors.Is(err, domain.ErrConflict) {
			r.log.Infof("pending order already exists buyer=%d resource=%d", order.BuyerID, order.ResourceID)
			return err
		}
		r.log.Errorf("failed to create order %s: %v", order.OrderNo, err)
		return err
	}
	return nil
}

func (r *orderRepo) GetByOrderNumber(ctx context.Context, orderNo string) (*domain.Order, error) {
	var o domain.Order
	if err := conn(ctx, r.db).Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("failed to get order %s: %v", orderNo, err)
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) GetPendingByPair(ctx context.Context, buyerID, resourceID uint64) (*domain.Order, error) {
	var o domain.Order
	err := conn(ctx, r.db).
		Where("buyer_id = ? AND resource_id = ? AND status = ?", buyerID, resourceID, domain.StatusPending).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) ListByBuyer(ctx context.Context, buyerID uint64, limit, offset int) ([]domain.Order, error) {
	var out []domain.Order
	q := conn(ctx, r.db).Where("buyer_id = ?", buyerID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&out).Error; err != nil {
		r.log.Errorf("failed to list orders for buyer %d: %v", buyerID, err)
		return nil, err
	}
	return out, nil
}

func (r *orderRepo) MarkPaid(ctx context.Context, orderNo string, paidAt time.Time) (*domain.Order, error) {
	res := conn(ctx, r.db).Model(&domain.Order{}).
		Where("order_no = ? AND status = ?", orderNo, domain.StatusPending).
		Updates(map[string]any{
			"status":      domain.StatusPaid,
			"paid_at":     paidAt,
			"pending_key": nil,
		})
	if res.Error != nil {
		r.log.Errorf("failed to mark order %s paid: %v", orderNo, res.Error)
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	o, err := r.GetByOrderNumber(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s vanished after mark paid", orderNo)
	}
	return o, nil
}

func (r *orderRepo) UpdatePaymentInfo(ctx context.Context, orderNo, externalOrderNo string, method domain.PaymentMethod, qrCode string) error {
	res := conn(ctx, r.db).Model(&domain.Order{}).
		Where("order_no = ? AND status = ?", orderNo, domain.StatusPending).
		Updates(map[string]any{
			"external_order_no": externalOrderNo,
			"payment_method":    method,
			"qr_code":           qrCode,
		})
	if res.Error != nil {
		r.log.Errorf("failed to update payment info for order %s: %v", orderNo, res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotPayable
	}
	return nil
}

func (r *orderRepo) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	res := conn(ctx, r.db).Model(&domain.Order{}).
		Where("status = ? AND expires_at <= ?", domain.StatusPending, now).
		Updates(map[string]any{
			"status":      domain.StatusExpired,
			"pending_key": nil,
		})
	if res.Error != nil {
		r.log.Errorf("failed to expire pending orders: %v", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *orderRepo) DeleteExpiredPending(ctx context.Context, buyerID, resourceID uint64, now time.Time) (int64, error) {
	res := conn(ctx, r.db).
		Where("buyer_id = ? AND resource_id = ? AND status = ? AND expires_at <= ?",
			buyerID, resourceID, domain.StatusPending, now).
		Delete(&domain.Order{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Infof("removed %d stale pending orders buyer=%d resource=%d", res.RowsAffected, buyerID, resourceID)
	}
	return res.RowsAffected, nil
}
