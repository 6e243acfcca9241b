package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"depositgate.com/pkg/common"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/metrics"
	"depositgate.com/pkg/ratelimit"
)

const CodeTooManyRequests = 429

// RateLimit 按 客户端IP + 路由 做令牌桶限流
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 限流属于“可控拒绝”，不打堆栈
			logger.Warn(c, "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.RateLimitBlockTotal.WithLabelValues(route, "token_bucket").Inc()
			common.Fail(c, http.StatusTooManyRequests, CodeTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}
