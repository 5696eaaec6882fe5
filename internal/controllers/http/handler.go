package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"checkout-service/internal/domain"
	"checkout-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

const maxCallbackBody = 64 << 10

type Handler struct {
	orders       *services.OrderService
	entitlements *services.EntitlementService
	merchants    *services.MerchantService
	pricing      *services.PricingService
	callbacks    *services.CallbackService
	log          *log.Helper
}

func NewHandler(
	orders *services.OrderService,
	entitlements *services.EntitlementService,
	merchants *services.MerchantService,
	pricing *services.PricingService,
	callbacks *services.CallbackService,
	logger log.Logger,
) *Handler {
	return &Handler{
		orders:       orders,
		entitlements: entitlements,
		merchants:    merchants,
		pricing:      pricing,
		callbacks:    callbacks,
		log:          log.NewHelper(logger),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v3 := r.Group("/v3", RequireUser())

	v3.POST("/order", h.CreateOrder)
	v3.GET("/order", h.ListOrders)
	v3.GET("/order/:orderNo", h.GetOrder)
	v3.GET("/order/:orderNo/status", h.GetOrderStatus)

	v3.GET("/user/purchases", h.ListPurchases)
	v3.GET("/user/purchases/:resourceId", h.GetPurchase)
	v3.POST("/user/purchases/check", h.CheckPurchases)

	v3.GET("/resource/:resourceId/purchasers", h.ListPurchasers)
	v3.DELETE("/resource/:resourceId/purchasers/:buyerId", h.RevokePurchase)
	v3.GET("/resource/:resourceId/pricing", h.GetPricing)
	v3.PUT("/resource/:resourceId/pricing", h.SetPricing)

	v3.POST("/payment/merchant", h.UpsertMerchant)
	v3.GET("/payment/merchant", h.GetMerchant)
	v3.DELETE("/payment/merchant", h.DeleteMerchant)
	v3.GET("/payment/merchant/verify", h.VerifyMerchant)

	r.POST("/_internal/payment/callback", h.PaymentCallback)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	buyer := services.Buyer{ID: userID(c), DisplayName: displayName(c)}
	order, err := h.orders.CreateOrder(c.Request.Context(), buyer, req.ResourceID, req.PaymentMethod)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateOrderResponse{
		OrderNo:       order.OrderNo,
		Amount:        order.Amount.StringFixed(2),
		QRCode:        order.QRCode,
		ExpiresAt:     order.ExpiresAt,
		PaymentMethod: order.PaymentMethod,
	})
}

func (h *Handler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	orders, err := h.orders.ListOrders(c.Request.Context(), userID(c), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), userID(c), c.Param("orderNo"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// GetOrderStatus always answers with a definite status. When the gateway
// could not be reached, or a paid order could not be fulfilled locally, the
// order is reported as it is stored.
func (h *Handler) GetOrderStatus(c *gin.Context) {
	order, err := h.orders.RefreshStatus(c.Request.Context(), userID(c), c.Param("orderNo"))
	reconciled := true
	if err != nil {
		unsettled := errors.Is(err, domain.ErrUpstreamUnavailable) || errors.Is(err, domain.ErrReconcileFailed)
		if order == nil || !unsettled {
			h.writeError(c, err)
			return
		}
		reconciled = false
	}
	c.JSON(http.StatusOK, OrderStatusResponse{
		OrderNo:    order.OrderNo,
		Status:     order.Status,
		PaidAt:     order.PaidAt,
		Reconciled: reconciled,
	})
}

func (h *Handler) ListPurchases(c *gin.Context) {
	views, err := h.entitlements.List(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) GetPurchase(c *gin.Context) {
	resourceID, ok := uintParam(c, "resourceId")
	if !ok {
		return
	}
	view, err := h.entitlements.Get(c.Request.Context(), userID(c), resourceID)
	if errors.Is(err, domain.ErrEntitlementNotFound) {
		c.JSON(http.StatusOK, PurchaseCheckResponse{})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PurchaseCheckResponse{HasPurchased: view.IsActive, Purchase: view})
}

func (h *Handler) CheckPurchases(c *gin.Context) {
	var req CheckPurchasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	held, err := h.entitlements.CheckMany(c.Request.Context(), userID(c), req.ResourceIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CheckPurchasesResponse{Purchased: held})
}

func (h *Handler) ListPurchasers(c *gin.Context) {
	resourceID, ok := uintParam(c, "resourceId")
	if !ok {
		return
	}
	rows, err := h.entitlements.ListPurchasers(c.Request.Context(), userID(c), resourceID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) RevokePurchase(c *gin.Context) {
	resourceID, ok := uintParam(c, "resourceId")
	if !ok {
		return
	}
	buyerID, ok := uintParam(c, "buyerId")
	if !ok {
		return
	}
	if err := h.entitlements.Revoke(c.Request.Context(), userID(c), resourceID, buyerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetPricing(c *gin.Context) {
	resourceID, ok := uintParam(c, "resourceId")
	if !ok {
		return
	}
	p, err := h.pricing.Get(c.Request.Context(), resourceID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) SetPricing(c *gin.Context) {
	resourceID, ok := uintParam(c, "resourceId")
	if !ok {
		return
	}
	var req SetPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		badRequest(c, "price must be a decimal number")
		return
	}

	p := &domain.ResourcePricing{
		ResourceID:   resourceID,
		SellerID:     userID(c),
		Title:        req.Title,
		Price:        price,
		ValidityDays: req.ValidityDays,
	}
	if err := h.pricing.Set(c.Request.Context(), p); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpsertMerchant(c *gin.Context) {
	var req UpsertMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	v, err := h.merchants.Upsert(c.Request.Context(), userID(c), req.AccountID, req.Secret)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVerificationResponse(v))
}

func (h *Handler) GetMerchant(c *gin.Context) {
	m, err := h.merchants.Get(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MerchantResponse{
		AccountID: m.AccountID,
		Verified:  m.Verified,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	})
}

func (h *Handler) DeleteMerchant(c *gin.Context) {
	if err := h.merchants.Delete(c.Request.Context(), userID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) VerifyMerchant(c *gin.Context) {
	v, err := h.merchants.Verify(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVerificationResponse(v))
}

// PaymentCallback answers the gateway with HTTP 200 and a code in the body
// for every outcome except a rejected caller address.
func (h *Handler) PaymentCallback(c *gin.Context) {
	ip := c.ClientIP()
	if err := h.callbacks.AllowIP(ip); err != nil {
		c.JSON(http.StatusForbidden, services.CallbackAck{Code: services.CodeForbidden, Message: "forbidden"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.log.Warnf("read payment callback body from %s: %v", ip, err)
		c.JSON(http.StatusOK, services.CallbackAck{Code: services.CodeRejected, Message: "unreadable body"})
		return
	}

	c.JSON(http.StatusOK, h.callbacks.Handle(c.Request.Context(), body, ip))
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}
