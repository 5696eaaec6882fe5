package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TradeStateSuccess is the only gateway trade state treated as paid.
// Every other state is non-terminal: the order stays pending.
const TradeStateSuccess = "SUCCESS"

// FlexString accepts a JSON string, number or null and keeps its text form.
// Numbers keep their literal digits, so 100 and "100" sign identically.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(fmt.Sprint(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: unsupported value %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// PaymentCallbackData is the signed part of a gateway webhook.
type PaymentCallbackData struct {
	TradeState         FlexString  `json:"tradeState"`
	OtherOrderNo       FlexString  `json:"otherOrderNo"`
	OrderID            FlexString  `json:"orderId"`
	OrderTransactionID *FlexString `json:"orderTransactionId,omitempty"`
	Sid                FlexString  `json:"sid"`
	Title              FlexString  `json:"title"`
	PayType            FlexString  `json:"payType"`
	UserDisplayName    FlexString  `json:"userDisplayName"`
	Money              FlexString  `json:"money"`
	Settlement         FlexString  `json:"settlement"`
}

// SignedFields returns the documented field set keyed by wire name.
// orderTransactionId only participates when the gateway sent it.
func (d *PaymentCallbackData) SignedFields() map[string]string {
	fields := map[string]string{
		"tradeState":      d.TradeState.String(),
		"otherOrderNo":    d.OtherOrderNo.String(),
		"orderId":         d.OrderID.String(),
		"sid":             d.Sid.String(),
		"title":           d.Title.String(),
		"payType":         d.PayType.String(),
		"userDisplayName": d.UserDisplayName.String(),
		"money":           d.Money.String(),
		"settlement":      d.Settlement.String(),
	}
	if d.OrderTransactionID != nil {
		fields["orderTransactionId"] = d.OrderTransactionID.String()
	}
	return fields
}

type PaymentCallbackRequest struct {
	Data PaymentCallbackData `json:"data"`
	Sign string              `json:"sign"`
}

// CallbackEvent is the audit record of one webhook delivery.
type CallbackEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrderNo         string         `json:"orderNo" gorm:"size:64;index:idx_callback_events_order"`
	GatewayOrderID  string         `json:"gatewayOrderId" gorm:"size:64"`
	TradeState      string         `json:"tradeState" gorm:"size:32"`
	ClientIP        string         `json:"clientIp" gorm:"size:45"`
	SignatureValid  bool           `json:"signatureValid" gorm:"not null;default:false"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:json"`
	ResponseCode    int            `json:"responseCode"`
	ProcessingError string         `json:"processingError,omitempty" gorm:"type:text"`
	ProcessedAt     *time.Time     `json:"processedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt" gorm:"not null"`
}

func (CallbackEvent) TableName() string { return "payment_callback_events" }
