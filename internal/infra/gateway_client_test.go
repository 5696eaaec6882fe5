package infra

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGatewayClient(config.Gateway{
		BaseURL:            srv.URL,
		CreateOrderPath:    "/createOrder",
		QueryOrderPath:     "/queryOrder",
		ShipOrderPath:      "/shipOrder",
		VerifyMerchantPath: "/verify",
		CreateTimeout:      config.Duration{Duration: time.Second},
		QueryTimeout:       config.Duration{Duration: 200 * time.Millisecond},
		ShipTimeout:        config.Duration{Duration: time.Second},
		VerifyTimeout:      config.Duration{Duration: time.Second},
	}, log.DefaultLogger)
}

func md5hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

var testMerchant = &domain.MerchantAccount{SellerID: 9, AccountID: 1001, Secret: "s3cret"}

func TestGatewayClient_CreateOrder(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/createOrder", r.URL.Path)
		assert.Equal(t, "10000", q.Get("money"))
		assert.Equal(t, "2", q.Get("payType"))
		assert.Equal(t, "插件 A", q.Get("title"))
		want := md5hex("BBABCD202601301234560001" + "1001" + "插件 A" + "2" + "alice" + "10000" + "s3cret")
		assert.Equal(t, want, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"code":200,"data":{"img":"https://qr/abc","orderId":"P1"}}`)
	})

	res, err := client.CreateOrder(context.Background(), testMerchant, CreatePaymentRequest{
		OrderNo:         "BBABCD202601301234560001",
		Title:           "插件 A",
		UserDisplayName: "alice",
		AmountMinor:     10000,
		Method:          domain.PaymentAlipay,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://qr/abc", res.QRCode)
	assert.Equal(t, "P1", res.GatewayOrderID)
}

func TestGatewayClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "http 500", handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{name: "business code", handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"code":500,"msg":"bad sign"}`) }},
		{name: "not json", handler: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `<html>`) }},
		{name: "timeout", handler: func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
			fmt.Fprint(w, `{"code":200,"data":{"tradeState":"SUCCESS"}}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestGateway(t, tt.handler)
			res, err := client.QueryOrder(context.Background(), testMerchant, "BB1")
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
			assert.True(t, IsGatewayError(err))
		})
	}
}

func TestGatewayClient_QueryOrder(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, md5hex("BB1"+"1001"+"s3cret"), r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"code":200,"data":{"tradeState":"NOTPAY","orderId":"P1"}}`)
	})

	res, err := client.QueryOrder(context.Background(), testMerchant, "BB1")
	require.NoError(t, err)
	assert.Equal(t, "NOTPAY", res.TradeState)
	assert.False(t, res.Paid())
}

func TestGatewayClient_NotifyShipped(t *testing.T) {
	var called bool
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "true", r.URL.Query().Get("other"))
		assert.Equal(t, md5hex("BB1"+"1001"+"true"+"s3cret"), r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"code":200}`)
	})

	require.NoError(t, client.NotifyShipped(context.Background(), testMerchant, "BB1"))
	assert.True(t, called)
}

func TestGatewayClient_VerifyMerchant(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		success bool
	}{
		{name: "verified", body: `{"code":200,"data":{"exists":true,"alipayBound":true,"serverName":"Shop"}}`, success: true},
		{name: "unknown shop", body: `{"code":200,"data":{"exists":false}}`},
		{name: "no alipay", body: `{"code":200,"data":{"exists":true,"alipayBound":false}}`},
		{name: "bad signature", body: `{"code":401,"msg":"sign error"}`},
		{name: "no data", body: `{"code":200}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, md5hex("1001"+"k"), r.Header.Get("Authorization"))
				fmt.Fprint(w, tt.body)
			})
			v, err := client.VerifyMerchant(context.Background(), 1001, "k")
			require.NoError(t, err)
			assert.Equal(t, tt.success, v.Success)
			assert.NotEmpty(t, v.Message)
		})
	}
}

func TestGatewayClient_NotConfigured(t *testing.T) {
	client := NewGatewayClient(config.Gateway{}, log.DefaultLogger)
	err := client.NotifyShipped(context.Background(), testMerchant, "BB1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestAESCipher(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	c, err := NewAESCipher(key)
	require.NoError(t, err)

	enc, err := c.Encrypt("merchant-secret")
	require.NoError(t, err)
	assert.NotContains(t, enc, "merchant-secret")

	enc2, err := c.Encrypt("merchant-secret")
	require.NoError(t, err)
	assert.NotEqual(t, enc, enc2)

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "merchant-secret", dec)

	_, err = c.Decrypt(enc[:10])
	assert.Error(t, err)

	_, err = NewAESCipher(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)

	disabled, err := NewAESCipher("")
	require.NoError(t, err)
	_, err = disabled.Encrypt("x")
	assert.ErrorIs(t, err, ErrCipherUnavailable)
}
