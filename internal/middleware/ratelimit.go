package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
)

// RateLimitMiddleware must run after AuthMiddleware.
func RateLimitMiddleware(am *service.AccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, ok := AccountFrom(c)
		if !ok {
			c.Error(errMissingKey)
			c.Abort()
			return
		}

		limiter := am.Limiter(acct.Name)
		if limiter == nil {
			c.Next()
			return
		}
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.Error(apperrors.New(apperrors.ErrRateLimited, "rate limit exceeded", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
