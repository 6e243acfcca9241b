package router

import (
	"github.com/gin-gonic/gin"

	"depositgate.com/internal/deposit/handler"
	"depositgate.com/pkg/middleware"
)

// Deposit 充值相关路由；POST /deposit 会打到链上节点，单独挂 sentinel 流控
func Deposit(r gin.IRouter, h *handler.Deposit, guard bool) {
	dep := r.Group("/deposit")
	{
		dep.GET("", h.Info)
		if guard {
			dep.POST("", middleware.Sentinel(), h.Submit)
		} else {
			dep.POST("", h.Submit)
		}
		dep.GET("/:tx_hash", h.Credit)
	}

	bal := r.Group("/balance")
	{
		bal.GET("/:account", h.Balance)
		bal.GET("/:account/credits", h.Credits)
	}
}
