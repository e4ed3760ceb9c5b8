package middleware

import (
	"time"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	"storefront-checkout/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const RequestIDHeader = "X-Request-ID"

// RequestInit tags every request with an id, reusing the caller's one.
func RequestInit() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id, _ = gonanoid.New()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Set("start", time.Now())
		c.Next()
	}
}

// ResponseInit installs the send closure handlers write their result with.
func ResponseInit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("send", func(r *types.Response) {
			r = helper.ParseResponse(r)
			if r.Code >= 500 {
				logger.Error.Printf("%s %s [%s]: %s: %v", c.Request.Method, c.Request.URL.Path, c.GetString("request_id"), r.Message, r.Error)
			}
			c.AbortWithStatusJSON(r.Code, helper.ToResponseAPI(r))
		})
		c.Next()

		if start, ok := c.Get("start"); ok {
			logger.HTTP.Printf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start.(time.Time)))
		}
	}
}
