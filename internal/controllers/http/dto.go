package http

import (
	"time"

	"checkout-service/internal/domain"
)

type CreateOrderRequest struct {
	ResourceID    uint64 `json:"resourceId" binding:"required"`
	PaymentMethod string `json:"paymentMethod" binding:"required"`
}

type CreateOrderResponse struct {
	OrderNo       string               `json:"orderNo"`
	Amount        string               `json:"amount"`
	QRCode        string               `json:"qrCode"`
	ExpiresAt     time.Time            `json:"expiresAt"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}

type OrderResponse struct {
	OrderNo       string               `json:"orderNo"`
	ResourceID    uint64               `json:"resourceId"`
	Amount        string               `json:"amount"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	PaidAt        *time.Time           `json:"paidAt,omitempty"`
	ExpiresAt     time.Time            `json:"expiresAt"`
}

type OrderStatusResponse struct {
	OrderNo string             `json:"orderNo"`
	Status  domain.OrderStatus `json:"status"`
	PaidAt  *time.Time         `json:"paidAt,omitempty"`
	// Reconciled is false when the gateway could not be reached; the buyer
	// should keep polling.
	Reconciled bool `json:"reconciled"`
}

type CheckPurchasesRequest struct {
	ResourceIDs []uint64 `json:"resourceIds" binding:"required,min=1,max=200"`
}

type CheckPurchasesResponse struct {
	Purchased map[uint64]bool `json:"purchased"`
}

type PurchaseCheckResponse struct {
	HasPurchased bool        `json:"hasPurchased"`
	Purchase     interface{} `json:"purchase,omitempty"`
}

type SetPricingRequest struct {
	Title        string `json:"title" binding:"required,max=255"`
	Price        string `json:"price" binding:"required"`
	ValidityDays *int   `json:"validityDays"`
}

type UpsertMerchantRequest struct {
	AccountID int64  `json:"accountId" binding:"required"`
	Secret    string `json:"secret" binding:"required"`
}

type MerchantResponse struct {
	AccountID int64     `json:"accountId"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VerificationResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ServerName string `json:"serverName,omitempty"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		OrderNo:       o.OrderNo,
		ResourceID:    o.ResourceID,
		Amount:        o.Amount.StringFixed(2),
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
		PaidAt:        o.PaidAt,
		ExpiresAt:     o.ExpiresAt,
	}
}

func toVerificationResponse(v *domain.MerchantVerification) VerificationResponse {
	return VerificationResponse{Success: v.Success, Message: v.Message, ServerName: v.ServerName}
}
