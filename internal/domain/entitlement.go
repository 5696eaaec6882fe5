package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type EntitlementStatus string

const (
	EntitlementActive   EntitlementStatus = "active"
	EntitlementExpired  EntitlementStatus = "expired"
	EntitlementRefunded EntitlementStatus = "refunded"
)

// ParseEntitlementStatus maps unknown values to expired so a bad row never grants access.
func ParseEntitlementStatus(s string) EntitlementStatus {
	switch EntitlementStatus(s) {
	case EntitlementActive, EntitlementExpired, EntitlementRefunded:
		return EntitlementStatus(s)
	}
	return EntitlementExpired
}

// Entitlement is the single grant row for a (buyer, resource) pair.
type Entitlement struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	BuyerID     uint64            `json:"buyerId" gorm:"not null;uniqueIndex:uk_entitlements_pair,priority:1"`
	ResourceID  uint64            `json:"resourceId" gorm:"not null;uniqueIndex:uk_entitlements_pair,priority:2;index:idx_entitlements_resource"`
	OrderNo     string            `json:"orderNo,omitempty" gorm:"size:32"`
	Amount      decimal.Decimal   `json:"amount" gorm:"type:decimal(12,2);not null"`
	PurchasedAt time.Time         `json:"purchasedAt" gorm:"not null"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty" gorm:"index:idx_entitlements_status_expires,priority:2"`
	Status      EntitlementStatus `json:"status" gorm:"size:16;not null;default:'active';index:idx_entitlements_status_expires,priority:1"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func (Entitlement) TableName() string { return "user_purchases" }

// IsActive is the sole definition of "buyer currently has access".
func (e *Entitlement) IsActive(now time.Time) bool {
	if e.Status != EntitlementActive {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}
