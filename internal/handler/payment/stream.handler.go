package payment

import (
	"errors"
	"net/http"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	paymentService "storefront-checkout/internal/service/payment"

	"github.com/gin-gonic/gin"
)

// Stream pushes a "snapshot" event per state change and the countdown tick.
// When the machine stops, a final "outcome" event carries the page to
// navigate to.
func (h *Handler) Stream(c *gin.Context) {
	orderID := c.Param("order_id")

	updates, stop, err := h.paymentService.Watch(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, paymentService.ErrTerminal) || errors.Is(err, paymentService.ErrHandedOff) {
			h.Outcome(c)
			return
		}
		send := c.MustGet("send").(func(r *types.Response))
		code := http.StatusInternalServerError
		if errors.Is(err, paymentService.ErrUnknownOrder) {
			code = http.StatusNotFound
		}
		send(helper.ParseResponse(&types.Response{Code: code, Message: err.Error(), Error: err}))
		return
	}
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				if res := h.paymentService.Outcome(orderID); res.Code == http.StatusOK {
					c.SSEvent("outcome", res.Data)
					c.Writer.Flush()
				}
				return
			}
			c.SSEvent("snapshot", snap)
			c.Writer.Flush()
		}
	}
}
