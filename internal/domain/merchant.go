package domain

import "time"

// MerchantAccount binds a seller to their payment platform shop.
type MerchantAccount struct {
	SellerID        uint64    `json:"sellerId" gorm:"primaryKey;autoIncrement:false"`
	AccountID       int64     `json:"accountId" gorm:"not null;uniqueIndex:uk_merchants_account"`
	EncryptedSecret string    `json:"-" gorm:"type:text;not null"`
	Verified        bool      `json:"verified" gorm:"not null;default:false"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// Secret is the decrypted key; it is never persisted or serialized.
	Secret string `json:"-" gorm:"-"`
}

func (MerchantAccount) TableName() string { return "payment_merchants" }

// MerchantVerification is the outcome of a live check against the gateway.
type MerchantVerification struct {
	Success    bool
	Message    string
	ServerName string
}
