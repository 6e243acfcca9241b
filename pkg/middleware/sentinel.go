package middleware

import (
	"errors"
	"net/http"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"depositgate.com/pkg/common"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/metrics"
)

// Sentinel 资源名 = METHOD:路由，例如 POST:/deposit
func Sentinel() gin.HandlerFunc {
	return func(c *gin.Context) {
		resource := ResourceName(c.Request.Method, routeOf(c))

		entry, blockErr := sentinels.Entry(resource, sentinels.WithTrafficType(base.Inbound))
		if blockErr != nil {
			logger.Warn(c, "request blocked by sentinel",
				zap.String("resource", resource),
				zap.String("blockType", blockErr.BlockType().String()),
				zap.String("blockMsg", blockErr.Error()),
			)
			metrics.RateLimitBlockTotal.WithLabelValues(routeOf(c), "sentinel").Inc()
			common.Fail(c, http.StatusTooManyRequests, CodeTooManyRequests, "service is busy, please try again later")
			c.Abort()
			return
		}
		defer entry.Exit()

		c.Next()

		// 只有系统错误计入熔断统计，4xx 属于业务结果
		if isSystemError(c.Writer.Status()) {
			sentinels.TraceError(entry, errors.New(http.StatusText(c.Writer.Status())))
		}
	}
}

func ResourceName(method, route string) string {
	return method + ":" + route
}

func isSystemError(status int) bool {
	return status >= http.StatusInternalServerError
}
