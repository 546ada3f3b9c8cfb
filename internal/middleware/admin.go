package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
)

// RoleMiddleware rejects callers that do not hold role on roles before the
// handler runs. Components still enforce their own checks.
func RoleMiddleware(roles *auth.Table, role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := Caller(c)
		var err error
		switch role {
		case auth.Admin:
			err = roles.RequireAdmin(caller)
		case auth.Operator:
			err = roles.RequireOperator(caller)
		default:
			err = fmt.Errorf("unknown role %q", role)
		}
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		c.Next()
	}
}
