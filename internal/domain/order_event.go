package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPaid          = "order.paid"
	EventEntitlementGranted = "entitlement.granted"
	EventEntitlementRevoked = "entitlement.revoked"
)

type FulfillmentSource string

const (
	SourceWebhook FulfillmentSource = "webhook"
	SourcePoll    FulfillmentSource = "poll"
)

type OrderPaidEvent struct {
	OrderNo    string            `json:"orderNo"`
	BuyerID    uint64            `json:"buyerId"`
	ResourceID uint64            `json:"resourceId"`
	SellerID   uint64            `json:"sellerId"`
	Amount     decimal.Decimal   `json:"amount"`
	SellerNet  decimal.Decimal   `json:"sellerAmount"`
	Source     FulfillmentSource `json:"source"`
	PaidAt     time.Time         `json:"paidAt"`
}

type EntitlementGrantedEvent struct {
	BuyerID     uint64     `json:"buyerId"`
	ResourceID  uint64     `json:"resourceId"`
	OrderNo     string     `json:"orderNo"`
	PurchasedAt time.Time  `json:"purchasedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type EntitlementRevokedEvent struct {
	BuyerID    uint64    `json:"buyerId"`
	ResourceID uint64    `json:"resourceId"`
	RevokedBy  uint64    `json:"revokedBy"`
	RevokedAt  time.Time `json:"revokedAt"`
}
