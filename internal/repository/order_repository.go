package repository

import (
	"context"
	"time"

	"checkout-service/internal/domain"
)

// OrderRepository never writes status unconditionally: every transition is
// guarded by the row's current status. Lookups return (nil, nil) when the
// row does not exist.
type OrderRepository interface {
	// Create inserts a pending order. It returns domain.ErrConflict when a
	// pending order already exists for the same buyer and resource.
	Create(ctx context.Context, order *domain.Order) error
	GetByOrderNumber(ctx context.Context, orderNo string) (*domain.Order, error)
	GetPendingByPair(ctx context.Context, buyerID, resourceID uint64) (*domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID uint64, limit, offset int) ([]domain.Order, error)
	// MarkPaid moves a pending order to paid and returns it, or nil when the
	// order was not pending.
	MarkPaid(ctx context.Context, orderNo string, paidAt time.Time) (*domain.Order, error)
	// UpdatePaymentInfo records the gateway's reference on a pending order.
	UpdatePaymentInfo(ctx context.Context, orderNo, externalOrderNo string, method domain.PaymentMethod, qrCode string) error
	ExpireSweep(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredPending(ctx context.Context, buyerID, resourceID uint64, now time.Time) (int64, error)
}

// EntitlementRepository holds one grant row per (buyer, resource).
type EntitlementRepository interface {
	// Upsert keeps purchased_at of an existing row and overwrites the rest.
	Upsert(ctx context.Context, e *domain.Entitlement) (*domain.Entitlement, error)
	Get(ctx context.Context, buyerID, resourceID uint64) (*domain.Entitlement, error)
	ListByBuyer(ctx context.Context, buyerID uint64) ([]domain.Entitlement, error)
	// ListActiveResourceIDs also returns the earliest expiry among the active
	// grants, nil when all of them are perpetual.
	ListActiveResourceIDs(ctx context.Context, buyerID uint64, now time.Time) ([]uint64, *time.Time, error)
	ListActiveByResource(ctx context.Context, resourceID uint64, now time.Time) ([]domain.Entitlement, error)
	HasActive(ctx context.Context, buyerID, resourceID uint64, now time.Time) (bool, error)
	Delete(ctx context.Context, buyerID, resourceID uint64) (bool, error)
	// ExpireSweep flips lapsed active grants to expired and returns the
	// affected buyers.
	ExpireSweep(ctx context.Context, now time.Time) ([]uint64, error)
}

type MerchantRepository interface {
	// Upsert stores the account with verified reset to false. A gateway
	// account id bound to another seller yields domain.ErrConflict.
	Upsert(ctx context.Context, m *domain.MerchantAccount) error
	GetBySeller(ctx context.Context, sellerID uint64) (*domain.MerchantAccount, error)
	IsAccountIDClaimedByOther(ctx context.Context, accountID int64, sellerID uint64) (bool, error)
	SetVerified(ctx context.Context, sellerID uint64, verified bool) error
	Delete(ctx context.Context, sellerID uint64) (bool, error)
}

type PricingRepository interface {
	Get(ctx context.Context, resourceID uint64) (*domain.ResourcePricing, error)
	Upsert(ctx context.Context, p *domain.ResourcePricing) error
}

type CallbackLogRepository interface {
	Record(ctx context.Context, e *domain.CallbackEvent) error
}

// Transactor runs fn in one database transaction. Repositories called with
// the ctx handed to fn join that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
