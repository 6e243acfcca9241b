package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"depositgate.com/internal/deposit"
	"depositgate.com/internal/deposit/handler"
	"depositgate.com/internal/deposit/http/router"
	"depositgate.com/pkg/middleware"
	"depositgate.com/pkg/ratelimit"
)

type Options struct {
	Name     string
	HTTP     deposit.HTTP
	Sentinel bool
	// Ready 就绪检查 (db / redis)，为空则 /readyz 恒为 ok
	Ready func(ctx context.Context) error
}

// NewEngine 组装 gin：监控 -> trace -> 请求ID -> cors -> recover -> 限流
func NewEngine(ctx context.Context, opt Options, h *handler.Deposit) *gin.Engine {
	r := gin.New()

	p := ginprom.NewPrometheus(metricsSubsystem(opt.Name))
	// 用路由模板做 label，避免 tx hash / 地址把基数打爆
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		if route := c.FullPath(); route != "" {
			return route
		}
		return "unknown"
	}
	p.Use(r)

	mws := []gin.HandlerFunc{
		otelgin.Middleware(opt.Name),
		middleware.ReqId(),
		corsMiddleware(opt.HTTP.CorsOrigins),
		middleware.Recover(),
	}
	if rl := opt.HTTP.RateLimit; rl.Enabled && rl.RPS > 0 {
		store := ratelimit.NewStore(rate.Limit(rl.RPS), rl.Burst, 10*time.Minute)
		store.StartJanitor(ctx, time.Minute)
		mws = append(mws, middleware.RateLimit(store))
	}
	r.Use(mws...)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if opt.Ready != nil {
			if err := opt.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.Deposit(r, h, opt.Sentinel)
	return r
}

func NewServer(ctx context.Context, opt Options, h *handler.Deposit) *http.Server {
	return &http.Server{
		Addr:           opt.HTTP.Addr,
		Handler:        NewEngine(ctx, opt, h),
		ReadTimeout:    opt.HTTP.ReadTimeout,
		WriteTimeout:   opt.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-Id"},
		ExposeHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:        12 * time.Hour,
	})
}

// prometheus 的 subsystem 不允许 '-'
func metricsSubsystem(name string) string {
	out := []byte(name)
	for i, b := range out {
		if b == '-' || b == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}
