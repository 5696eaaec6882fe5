package domain

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusPaid     OrderStatus = "paid"
	StatusFailed   OrderStatus = "failed"
	StatusRefunded OrderStatus = "refunded"
	StatusExpired  OrderStatus = "expired"
)

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s != StatusPending
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentAlipay PaymentMethod = "alipay"
	PaymentWechat PaymentMethod = "wechat"
)

// ParsePaymentMethod accepts the two supported rails only.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case PaymentAlipay, PaymentWechat:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
}

// GatewayPayType is the numeric rail code the payment platform expects.
func (m PaymentMethod) GatewayPayType() string {
	if m == PaymentWechat {
		return "1"
	}
	return "2"
}

const (
	// CheckoutWindow is how long a pending order stays payable.
	CheckoutWindow = 30 * time.Minute

	// PlatformFeeRate is the platform's share of the gross amount.
	PlatformFeeRate = "0.025"
)

type Order struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrderNo         string          `json:"orderNo" gorm:"size:32;not null;uniqueIndex:uk_orders_order_no"`
	ExternalOrderNo string          `json:"externalOrderNo,omitempty" gorm:"size:64;index:idx_orders_external_no"`
	BuyerID         uint64          `json:"buyerId" gorm:"not null;index:idx_orders_buyer_created,priority:1"`
	ResourceID      uint64          `json:"resourceId" gorm:"not null;index:idx_orders_resource"`
	SellerID        uint64          `json:"sellerId" gorm:"not null;index:idx_orders_seller"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	PlatformFee     decimal.Decimal `json:"platformFee" gorm:"type:decimal(12,2);not null"`
	SellerAmount    decimal.Decimal `json:"sellerAmount" gorm:"type:decimal(12,2);not null"`
	Status          OrderStatus     `json:"status" gorm:"size:16;not null;default:'pending';index:idx_orders_status_expires,priority:1"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod,omitempty" gorm:"size:16"`
	QRCode          string          `json:"qrCode,omitempty" gorm:"type:text"`
	ValidityDays    *int            `json:"validityDays,omitempty"`
	// PendingKey is "buyer:resource" while pending and NULL otherwise, so the
	// unique index only constrains pending rows.
	PendingKey *string    `json:"-" gorm:"size:64;uniqueIndex:uk_orders_pending"`
	CreatedAt  time.Time  `json:"createdAt" gorm:"not null;index:idx_orders_buyer_created,priority:2"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
	ExpiresAt  time.Time  `json:"expiresAt" gorm:"not null;index:idx_orders_status_expires,priority:2"`
}

func (Order) TableName() string { return "payment_orders" }

// PendingPairKey is the value held in Order.PendingKey for a pending order.
func PendingPairKey(buyerID, resourceID uint64) string {
	return fmt.Sprintf("%d:%d", buyerID, resourceID)
}

func (o *Order) IsPaid() bool { return o.Status == StatusPaid }

// IsPayable reports whether the order is pending and still inside its window.
func (o *Order) IsPayable(now time.Time) bool {
	return o.Status == StatusPending && now.Before(o.ExpiresAt)
}

// EntitlementExpiry returns when a grant bought at paidAt lapses; nil is perpetual.
func (o *Order) EntitlementExpiry(paidAt time.Time) *time.Time {
	if o.ValidityDays == nil {
		return nil
	}
	t := paidAt.AddDate(0, 0, *o.ValidityDays)
	return &t
}

// AmountMinorUnits converts the gross amount to cents for the gateway.
func (o *Order) AmountMinorUnits() int64 {
	return ToMinorUnits(o.Amount)
}

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CalculatePlatformFee applies the fee rate with banker's rounding to cents.
// The fee is capped at the amount so the seller's share is never negative.
func CalculatePlatformFee(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 {
		return decimal.Zero
	}
	fee := amount.Mul(rate).RoundBank(2)
	if fee.GreaterThan(amount) {
		return amount
	}
	if fee.Sign() < 0 {
		return decimal.Zero
	}
	return fee
}

// NewOrderNumber renders "BB" + four distinct letters + UTC yyyyMMddHHmmss + four digits.
func NewOrderNumber(now time.Time) string {
	letters := make([]byte, 0, 4)
	var used [26]bool
	for len(letters) < 4 {
		i := rand.IntN(26)
		if used[i] {
			continue
		}
		used[i] = true
		letters = append(letters, byte('A'+i))
	}
	return fmt.Sprintf("BB%s%s%04d", letters, now.UTC().Format("20060102150405"), rand.IntN(10000))
}

// OrderNumberTime extracts the embedded creation timestamp for triage.
func OrderNumberTime(orderNo string) (time.Time, bool) {
	if len(orderNo) != 24 || orderNo[:2] != "BB" {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102150405", orderNo[6:20])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
