package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/domain"
	"checkout-service/internal/repository"
	"checkout-service/internal/signature"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Acknowledgement codes sent back to the gateway. Only CodeAccepted means
// the callback was taken; the rest are informational and delivered with
// HTTP 200 so the gateway does not retry business failures.
const (
	CodeAccepted      = 200
	CodeRejected      = 400
	CodeForbidden     = 403
	CodeOrderNotFound = 404
	CodeServerError   = 500
)

type CallbackAck struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallbackService processes payment gateway webhooks.
type CallbackService struct {
	verifier    *signature.Verifier
	orders      repository.OrderRepository
	callbacks   repository.CallbackLogRepository
	fulfillment *FulfillmentPipeline
	log         *log.Helper
	now         func() time.Time
}

func NewCallbackService(
	verifier *signature.Verifier,
	orders repository.OrderRepository,
	callbacks repository.CallbackLogRepository,
	fulfillment *FulfillmentPipeline,
	logger log.Logger,
) *CallbackService {
	return &CallbackService{
		verifier:    verifier,
		orders:      orders,
		callbacks:   callbacks,
		fulfillment: fulfillment,
		log:         log.NewHelper(logger),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AllowIP gates the endpoint before anything is parsed or recorded.
func (s *CallbackService) AllowIP(clientIP string) error {
	return s.verifier.AllowIP(clientIP)
}

// Handle never returns an error: every outcome is an acknowledgement, and
// every delivery is written to the audit log.
func (s *CallbackService) Handle(ctx context.Context, body []byte, clientIP string) CallbackAck {
	evt := &domain.CallbackEvent{
		ClientIP:  clientIP,
		Payload:   auditPayload(body),
		CreatedAt: s.now(),
	}

	ack, err := s.process(ctx, body, evt)
	evt.ResponseCode = ack.Code
	if err != nil {
		evt.ProcessingError = err.Error()
	}
	if err := s.callbacks.Record(context.WithoutCancel(ctx), evt); err != nil {
		s.log.Warnf("record callback for order %s: %v", evt.OrderNo, err)
	}
	return ack
}

func (s *CallbackService) process(ctx context.Context, body []byte, evt *domain.CallbackEvent) (CallbackAck, error) {
	if !s.verifier.Configured() {
		s.log.Error("payment callback received but webhook keycode is not configured")
		return CallbackAck{Code: CodeServerError, Message: "callback verification unavailable"}, signature.ErrNotConfigured
	}

	var req domain.PaymentCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.log.Warnf("malformed payment callback from %s: %v", evt.ClientIP, err)
		return CallbackAck{Code: CodeRejected, Message: "malformed payload"}, err
	}
	d := req.Data
	evt.OrderNo = d.OtherOrderNo.String()
	evt.GatewayOrderID = d.OrderID.String()
	evt.TradeState = d.TradeState.String()

	if err := s.verifier.Verify(d.SignedFields(), req.Sign); err != nil {
		s.log.Warnf("payment callback signature rejected: ip=%s order=%s gateway_order=%s", evt.ClientIP, evt.OrderNo, evt.GatewayOrderID)
		return CallbackAck{Code: CodeRejected, Message: "invalid signature"}, err
	}
	evt.SignatureValid = true

	if evt.TradeState != domain.TradeStateSuccess {
		s.log.Infof("payment callback for order %s with trade state %q, order stays pending", evt.OrderNo, evt.TradeState)
		return CallbackAck{Code: CodeRejected, Message: "trade state not successful"}, nil
	}

	order, err := s.orders.GetByOrderNumber(ctx, evt.OrderNo)
	if err != nil {
		return CallbackAck{Code: CodeServerError, Message: "internal error"}, err
	}
	if order == nil {
		s.log.Warnf("payment callback for unknown order %s from %s", evt.OrderNo, evt.ClientIP)
		return CallbackAck{Code: CodeOrderNotFound, Message: "order not found"}, domain.ErrOrderNotFound
	}

	if err := checkAmount(order, d.Money.String()); err != nil {
		s.log.Errorf("payment callback for order %s: %v", order.OrderNo, err)
		return CallbackAck{Code: CodeRejected, Message: "amount mismatch"}, err
	}

	if _, err := s.fulfillment.Fulfill(ctx, order.OrderNo, domain.SourceWebhook); err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			return CallbackAck{Code: CodeOrderNotFound, Message: "order not found"}, err
		case errors.Is(err, domain.ErrOrderNotPayable):
			return CallbackAck{Code: CodeRejected, Message: "order not payable"}, err
		}
		return CallbackAck{Code: CodeServerError, Message: "internal error"}, err
	}

	processed := s.now()
	evt.ProcessedAt = &processed
	return CallbackAck{Code: CodeAccepted, Message: "success"}, nil
}

// checkAmount compares the callback's minor-unit amount with the order.
func checkAmount(order *domain.Order, money string) error {
	got, err := decimal.NewFromString(money)
	if err != nil {
		return fmt.Errorf("%w: unparsable amount %q", domain.ErrAmountMismatch, money)
	}
	want := order.AmountMinorUnits()
	if !got.Equal(decimal.NewFromInt(want)) {
		return fmt.Errorf("%w: got %s, want %d", domain.ErrAmountMismatch, got, want)
	}
	return nil
}

func auditPayload(body []byte) datatypes.JSON {
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	quoted, _ := json.Marshal(string(body))
	return datatypes.JSON(quoted)
}
