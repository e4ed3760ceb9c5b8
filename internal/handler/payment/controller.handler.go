package payment

import (
	"context"
	"net/http"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	paymentService "storefront-checkout/internal/service/payment"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	ctx            context.Context
	paymentService paymentService.IService
	notifyAuth     gin.HandlerFunc
}

type IHandler interface {
	NewRoutes(e *gin.RouterGroup)
	NewPageRoutes(e *gin.Engine)
}

// NewHandler wires the payment endpoints. notifyAuth guards the backend
// status push.
func NewHandler(ctx context.Context, paymentService paymentService.IService, notifyAuth gin.HandlerFunc) IHandler {
	return &Handler{
		ctx:            ctx,
		paymentService: paymentService,
		notifyAuth:     notifyAuth,
	}
}

// Pay handles POST /v1/payments/pay
func (h *Handler) Pay(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))

	var req paymentService.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		send(helper.ParseResponse(&types.Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request body",
			Error:   err,
		}))
		return
	}

	send(h.paymentService.Pay(&req))
}

// Resume handles GET /v1/payments/:order_id. It restarts the countdown of a
// pending order the buyer returns to; ?watch=false only reads the status.
func (h *Handler) Resume(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))

	if c.Query("watch") == "false" {
		send(h.paymentService.Status(c.Param("order_id")))
		return
	}
	send(h.paymentService.Resume(c.Param("order_id")))
}

func (h *Handler) Check(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))
	send(h.paymentService.Check(c.Request.Context(), c.Param("order_id")))
}

func (h *Handler) RequestCancel(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))
	send(h.paymentService.RequestCancel(c.Param("order_id")))
}

func (h *Handler) ConfirmCancel(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))
	send(h.paymentService.ConfirmCancel(c.Param("order_id")))
}

func (h *Handler) DismissCancel(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))
	send(h.paymentService.DismissCancel(c.Param("order_id")))
}

func (h *Handler) Leave(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))
	send(h.paymentService.Leave(c.Param("order_id")))
}

func (h *Handler) Outcome(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))
	send(h.paymentService.Outcome(c.Param("order_id")))
}

// Notify handles the backend status push: POST /v1/payments/notify
func (h *Handler) Notify(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))

	var req paymentService.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		send(helper.ParseResponse(&types.Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request body",
			Error:   err,
		}))
		return
	}

	send(h.paymentService.Notify(&req))
}

// MidtransCallback receives the HTTP notification Midtrans posts when a
// transaction changes status. The URL is registered in the Midtrans
// dashboard.
func (h *Handler) MidtransCallback(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid payload"})
		return
	}

	result := h.paymentService.MidtransCallback(payload)
	if result.Code != http.StatusOK {
		c.JSON(result.Code, gin.H{"status": "error", "message": result.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
