package middleware

import (
	"net/http"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	"storefront-checkout/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
)

const AuthKey = "auth"

// AuthMiddleware admits callers holding a service token signed with secret.
// An empty scope accepts any valid token.
func AuthMiddleware(secret string, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		send := c.MustGet("send").(func(r *types.Response))
		if token == "" {
			send(helper.ParseResponse(&types.Response{Code: http.StatusUnauthorized, Message: "token not found"}))
			return
		}

		auth, err := jwt.ValidateToken(secret, token)
		if err != nil {
			send(helper.ParseResponse(&types.Response{Code: http.StatusUnauthorized, Message: "invalid token", Error: err}))
			return
		}
		if scope != "" && auth.Scope != scope {
			send(helper.ParseResponse(&types.Response{Code: http.StatusForbidden, Message: "token scope not allowed"}))
			return
		}

		c.Set(AuthKey, *auth)
		c.Next()
	}
}
