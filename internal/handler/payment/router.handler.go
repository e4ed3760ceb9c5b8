package payment

import (
	paymentService "storefront-checkout/internal/service/payment"

	"github.com/gin-gonic/gin"
)

func (h *Handler) NewRoutes(e *gin.RouterGroup) {
	payments := e.Group("/v1/payments")

	payments.POST("/pay", h.Pay)
	payments.POST("/notify", h.notifyAuth, h.Notify)
	payments.POST("/callback/midtrans", h.MidtransCallback)

	payments.GET("/:order_id", h.Resume)
	payments.GET("/:order_id/stream", h.Stream)
	payments.GET("/:order_id/outcome", h.Outcome)
	payments.POST("/:order_id/check", h.Check)
	payments.POST("/:order_id/cancel", h.RequestCancel)
	payments.POST("/:order_id/cancel/confirm", h.ConfirmCancel)
	payments.POST("/:order_id/cancel/dismiss", h.DismissCancel)
	payments.POST("/:order_id/leave", h.Leave)
}

func (h *Handler) NewPageRoutes(e *gin.Engine) {
	e.GET("/checkout/success/:order_id", h.OutcomePage(paymentService.OutcomeSuccess))
	e.GET("/checkout/failure/:order_id", h.OutcomePage(paymentService.OutcomeFailure))
}
