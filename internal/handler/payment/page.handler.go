package payment

import (
	"embed"
	"html/template"
	"net/http"

	paymentService "storefront-checkout/internal/service/payment"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the outcome pages for engine.SetHTMLTemplate.
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// OutcomePage renders /checkout/success/:order_id and
// /checkout/failure/:order_id. A buyer landing on the wrong kind is sent to
// the page the recorded outcome belongs to.
func (h *Handler) OutcomePage(kind paymentService.OutcomeKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		res := h.paymentService.Outcome(orderID)
		if res.Code != http.StatusOK {
			c.HTML(http.StatusNotFound, "outcome.html", gin.H{
				"NotFound": true,
				"OrderID":  orderID,
			})
			return
		}

		o := res.Data.(*paymentService.Outcome)
		if o.Kind != kind {
			c.Redirect(http.StatusFound, o.Path())
			return
		}

		c.HTML(http.StatusOK, "outcome.html", gin.H{
			"Outcome": o,
			"Success": o.Kind == paymentService.OutcomeSuccess,
		})
	}
}
