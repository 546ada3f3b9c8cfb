package middleware

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
)

const (
	HeaderAPIKey      = "X-Api-Key"
	ContextAccountKey = "account"
)

var (
	errMissingKey = apperrors.New(apperrors.ErrAccess, "missing API key", nil)
	errInvalidKey = apperrors.New(apperrors.ErrAccess, "invalid API key", nil)
)

// AuthMiddleware resolves the API key to the account every protocol call in
// the request acts as.
func AuthMiddleware(am *service.AccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			if acct := am.Default(); acct != nil {
				c.Set(ContextAccountKey, acct)
				c.Next()
				return
			}
			c.Error(errMissingKey)
			c.Abort()
			return
		}

		acct, ok := am.ByAPIKey(apiKey)
		if !ok {
			c.Error(errInvalidKey)
			c.Abort()
			return
		}
		c.Set(ContextAccountKey, acct)
		c.Next()
	}
}

// AccountFrom returns the authenticated account, if any.
func AccountFrom(c *gin.Context) (*model.Account, bool) {
	v, ok := c.Get(ContextAccountKey)
	if !ok {
		return nil, false
	}
	acct, ok := v.(*model.Account)
	return acct, ok
}

// Caller is the address the request acts as; zero when unauthenticated.
func Caller(c *gin.Context) common.Address {
	if acct, ok := AccountFrom(c); ok {
		return acct.Address
	}
	return common.Address{}
}
