package checkout

import (
	"context"
	"net/http"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	checkoutService "storefront-checkout/internal/service/checkout"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	ctx             context.Context
	checkoutService checkoutService.IService
}

type IHandler interface {
	NewRoutes(e *gin.RouterGroup)
}

func NewHandler(ctx context.Context, checkoutService checkoutService.IService) IHandler {
	return &Handler{
		ctx:             ctx,
		checkoutService: checkoutService,
	}
}

// bindPatch reads an optional session patch; an empty body is no patch.
func bindPatch(c *gin.Context) (*types.SessionPatch, bool) {
	if c.Request.ContentLength == 0 {
		return nil, true
	}

	var patch types.SessionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		send := c.MustGet("send").(func(r *types.Response))
		send(helper.ParseResponse(&types.Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request body",
			Error:   err,
		}))
		return nil, false
	}
	return &patch, true
}

// CreateSession handles POST /v1/checkout/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))

	patch, ok := bindPatch(c)
	if !ok {
		return
	}

	send(h.checkoutService.CreateSession(patch))
}

// GetSession handles GET /v1/checkout/sessions/:session_id
func (h *Handler) GetSession(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))
	send(h.checkoutService.GetSession(c.Param("session_id"), nil))
}

// LoadSession merges page data over the stored session without saving it.
func (h *Handler) LoadSession(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))

	patch, ok := bindPatch(c)
	if !ok {
		return
	}

	send(h.checkoutService.GetSession(c.Param("session_id"), patch))
}

// PatchSession handles PATCH /v1/checkout/sessions/:session_id
func (h *Handler) PatchSession(c *gin.Context) {
	send := c.MustGet("send").(func(r *types.Response))

	patch, ok := bindPatch(c)
	if !ok {
		return
	}
	if patch.IsEmpty() {
		send(helper.ParseResponse(&types.Response{
			Code:    http.StatusBadRequest,
			Message: "Request body is required",
		}))
		return
	}

	send(h.checkoutService.PatchSession(c.Param("session_id"), patch))
}
