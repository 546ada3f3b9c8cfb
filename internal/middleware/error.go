package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
)

// ErrorHandler renders the last handler error as an AppError body.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := apperrors.Wrap(c.Errors.Last().Err)
		AddAuditContext(c, "error", appErr.Error())

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}
		if acct, ok := AccountFrom(c); ok {
			logFields = append(logFields, "account", acct.Name)
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
		} else {
			logger.Warn(appErr.Error(), logFields...)
		}

		c.JSON(appErr.HTTPStatus, gin.H{
			"code":       appErr.Type,
			"message":    appErr.Error(),
			"suggestion": appErr.Suggestion,
		})
	}
}
