package infra

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-resty/resty/v2"
)

// GatewayError is any failed round-trip to the payment platform.
type GatewayError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s failed", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, ": code %d", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{domain.ErrUpstreamUnavailable, e.Err}
	}
	return []error{domain.ErrUpstreamUnavailable}
}

type CreatePaymentRequest struct {
	OrderNo         string
	Title           string
	UserDisplayName string
	AmountMinor     int64
	Method          domain.PaymentMethod
}

type CreatePaymentResult struct {
	// QRCode is the scannable payment reference, a fresh one per call.
	QRCode         string
	GatewayOrderID string
}

type OrderQueryResult struct {
	// TradeState is SUCCESS, NOTPAY, CLOSED, REFUND or anything the
	// platform adds later.
	TradeState     string
	GatewayOrderID string
}

func (r *OrderQueryResult) Paid() bool {
	return r.TradeState == domain.TradeStateSuccess
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type GatewayClient struct {
	cfg  config.Gateway
	http *resty.Client
	log  *log.Helper
}

func NewGatewayClient(cfg config.Gateway, logger log.Logger) *GatewayClient {
	return &GatewayClient{
		cfg:  cfg,
		http: resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		log:  log.NewHelper(logger),
	}
}

// sign is lowercase hex md5 over the parameter values in wire order
// followed by the merchant secret.
func sign(secret string, values ...string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(strings.Join(values, "")+secret)))
}

func (c *GatewayClient) call(ctx context.Context, op, path string, timeout time.Duration, authorization string, params [][2]string) (*envelope, error) {
	if c.cfg.BaseURL == "" || path == "" {
		return nil, &GatewayError{Op: op, Message: "endpoint not configured"}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := c.http.R().SetContext(ctx).SetHeader("Authorization", authorization)
	for _, p := range params {
		req.SetQueryParam(p[0], p[1])
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode()}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode(), Message: "malformed response", Err: err}
	}
	return &env, nil
}

func (c *GatewayClient) CreateOrder(ctx context.Context, m *domain.MerchantAccount, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	sid := strconv.FormatInt(m.AccountID, 10)
	payType := req.Method.GatewayPayType()
	money := strconv.FormatInt(req.AmountMinor, 10)
	params := [][2]string{
		{"orderNo", req.OrderNo},
		{"sid", sid},
		{"title", req.Title},
		{"payType", payType},
		{"userDisplayName", req.UserDisplayName},
		{"money", money},
	}
	auth := sign(m.Secret, req.OrderNo, sid, req.Title, payType, req.UserDisplayName, money)

	c.log.Infof("creating gateway order %s sid=%s", req.OrderNo, sid)
	env, err := c.call(ctx, "create-order", c.cfg.CreateOrderPath, c.cfg.CreateTimeout.Duration, auth, params)
	if err != nil {
		c.log.Errorf("create gateway order %s: %v", req.OrderNo, err)
		return nil, err
	}
	if env.Code != 200 {
		return nil, &GatewayError{Op: "create-order", Code: env.Code, Message: env.Msg}
	}

	var data struct {
		Img     string `json:"img"`
		OrderID string `json:"orderId"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &GatewayError{Op: "create-order", Message: "malformed data", Err: err}
		}
	}
	if data.Img == "" {
		return nil, &GatewayError{Op: "create-order", Message: "no payment code returned"}
	}
	return &CreatePaymentResult{QRCode: data.Img, GatewayOrderID: data.OrderID}, nil
}

func (c *GatewayClient) QueryOrder(ctx context.Context, m *domain.MerchantAccount, orderNo string) (*OrderQueryResult, error) {
	sid := strconv.FormatInt(m.AccountID, 10)
	params := [][2]string{{"orderNo", orderNo}, {"sid", sid}}

	env, err := c.call(ctx, "query-order", c.cfg.QueryOrderPath, c.cfg.QueryTimeout.Duration, sign(m.Secret, orderNo, sid), params)
	if err != nil {
		c.log.Warnf("query gateway order %s: %v", orderNo, err)
		return nil, err
	}
	if env.Code != 200 {
		return nil, &GatewayError{Op: "query-order", Code: env.Code, Message: env.Msg}
	}

	var data struct {
		TradeState string `json:"tradeState"`
		OrderID    string `json:"orderId"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &GatewayError{Op: "query-order", Message: "malformed data", Err: err}
		}
	}
	return &OrderQueryResult{TradeState: data.TradeState, GatewayOrderID: data.OrderID}, nil
}

// NotifyShipped moves the platform's own record to fulfilled. It is only
// needed when fulfillment was triggered by polling.
func (c *GatewayClient) NotifyShipped(ctx context.Context, m *domain.MerchantAccount, orderNo string) error {
	sid := strconv.FormatInt(m.AccountID, 10)
	params := [][2]string{{"orderNo", orderNo}, {"sid", sid}, {"other", "true"}}

	env, err := c.call(ctx, "ship-order", c.cfg.ShipOrderPath, c.cfg.ShipTimeout.Duration, sign(m.Secret, orderNo, sid, "true"), params)
	if err != nil {
		return err
	}
	if env.Code != 200 {
		return &GatewayError{Op: "ship-order", Code: env.Code, Message: env.Msg}
	}
	c.log.Infof("gateway order %s marked shipped", orderNo)
	return nil
}

// VerifyMerchant checks that the shop exists and has a payment rail bound.
// A definite "no" from the platform is a result, not an error.
func (c *GatewayClient) VerifyMerchant(ctx context.Context, accountID int64, secret string) (*domain.MerchantVerification, error) {
	sid := strconv.FormatInt(accountID, 10)

	env, err := c.call(ctx, "verify-merchant", c.cfg.VerifyMerchantPath, c.cfg.VerifyTimeout.Duration, sign(secret, sid), [][2]string{{"sid", sid}})
	if err != nil {
		c.log.Errorf("verify merchant sid=%s: %v", sid, err)
		return nil, err
	}
	if env.Code != 200 {
		msg := env.Msg
		if msg == "" {
			msg = "signature check failed"
		}
		return &domain.MerchantVerification{Message: msg}, nil
	}

	var data struct {
		Exists      bool   `json:"exists"`
		AlipayBound bool   `json:"alipayBound"`
		ServerName  string `json:"serverName"`
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &domain.MerchantVerification{Message: "platform returned no data"}, nil
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &GatewayError{Op: "verify-merchant", Message: "malformed data", Err: err}
	}

	switch {
	case !data.Exists:
		return &domain.MerchantVerification{Message: "merchant does not exist, check the shop id"}, nil
	case !data.AlipayBound:
		return &domain.MerchantVerification{Message: "merchant has no alipay account bound"}, nil
	}
	return &domain.MerchantVerification{
		Success:    true,
		Message:    "verified",
		ServerName: data.ServerName,
	}, nil
}

// IsGatewayError reports whether err came from a gateway round-trip.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
