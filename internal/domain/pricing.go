package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinPrice        = 1
	MaxPrice        = 1000
	MaxValidityDays = 3650
)

// ResourcePricing carries only what checkout needs to settle an order.
type ResourcePricing struct {
	ResourceID   uint64          `json:"resourceId" gorm:"primaryKey;autoIncrement:false"`
	SellerID     uint64          `json:"sellerId" gorm:"not null;index:idx_pricing_seller"`
	Title        string          `json:"title" gorm:"size:255;not null"`
	Price        decimal.Decimal `json:"price" gorm:"type:decimal(12,2);not null"`
	ValidityDays *int            `json:"validityDays,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (ResourcePricing) TableName() string { return "resource_pricing" }

func (p *ResourcePricing) Validate() error {
	if p.Price.LessThan(decimal.NewFromInt(MinPrice)) || p.Price.GreaterThan(decimal.NewFromInt(MaxPrice)) {
		return fmt.Errorf("%w: price must be between %d and %d", ErrInvalidPricing, MinPrice, MaxPrice)
	}
	if p.ValidityDays != nil && (*p.ValidityDays < 1 || *p.ValidityDays > MaxValidityDays) {
		return fmt.Errorf("%w: validity days must be between 1 and %d", ErrInvalidPricing, MaxValidityDays)
	}
	return nil
}
