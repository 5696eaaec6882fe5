package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	HeaderRequestID   = "X-Request-Id"
	HeaderUserID      = "X-User-Id"
	HeaderDisplayName = "X-User-Name"

	ctxRequestID   = "request_id"
	ctxUserID      = "user_id"
	ctxDisplayName = "display_name"
)

// NewEngine builds the gin engine with the middleware every route shares.
// Forwarding headers are only honoured from trustedProxies; with none, the
// client IP is the peer address.
func NewEngine(trustedProxies []string, logger log.Logger) (*gin.Engine, error) {
	r := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), RequestID(), AccessLog(logger))
	return r, nil
}

// RequestID propagates the caller's request id or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func AccessLog(logger log.Logger) gin.HandlerFunc {
	l := log.NewHelper(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Infow(
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"request_id", requestID(c),
		)
	}
}

// RequireUser reads the caller identity set by the upstream gateway.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(strings.TrimSpace(c.GetHeader(HeaderUserID)), 10, 64)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ctxUserID, id)
		c.Set(ctxDisplayName, c.GetHeader(HeaderDisplayName))
		c.Next()
	}
}

func userID(c *gin.Context) uint64 { return c.GetUint64(ctxUserID) }

func displayName(c *gin.Context) string {
	if name := c.GetString(ctxDisplayName); name != "" {
		return name
	}
	return strconv.FormatUint(userID(c), 10)
}

func requestID(c *gin.Context) string { return c.GetString(ctxRequestID) }
