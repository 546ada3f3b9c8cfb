package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/ctf"
	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
)

type AccountHandler struct {
	proto    *service.Protocol
	accounts *service.AccountManager
}

func NewAccountHandler(proto *service.Protocol, accounts *service.AccountManager) *AccountHandler {
	return &AccountHandler{proto: proto, accounts: accounts}
}

// Me describes the calling account as the protocol sees it.
func (h *AccountHandler) Me(c *gin.Context) {
	acct, ok := middleware.AccountFrom(c)
	if !ok {
		c.Error(apperrors.New(apperrors.ErrAccess, "unauthorized: missing account context", nil))
		return
	}
	addr := acct.Address
	roles := h.proto.Exchange.Roles()
	proxyAddr := h.proto.Factory.WalletFor(addr)
	_, deployed := h.proto.Factory.GetProxy(proxyAddr)

	c.JSON(http.StatusOK, gin.H{
		"name":           acct.Name,
		"address":        addr.Hex(),
		"rate_limit":     acct.Rate,
		"admin":          roles.IsAdmin(addr),
		"operator":       roles.IsOperator(addr),
		"proposer":       h.proto.Resolver.IsProposer(addr),
		"nonce":          bigString(h.proto.Exchange.Nonce(addr)),
		"collateral":     bigString(h.proto.Ledger.BalanceOf(addr, ctf.CollateralID)),
		"proxy_wallet":   proxyAddr.Hex(),
		"proxy_deployed": deployed,
		"safe_wallet":    h.proto.Safes.WalletFor(addr).Hex(),
	})
}

// Balance reports any holder's balance of a position id; id 0 is collateral.
func (h *AccountHandler) Balance(c *gin.Context) {
	holder, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	id, err := model.ParseAmount("token", c.Param("token"))
	if !invalid(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": holder.Hex(),
		"token":   id.String(),
		"balance": bigString(h.proto.Ledger.BalanceOf(holder, id)),
	})
}

// List is the admin view of configured accounts. API keys never leave the
// server.
func (h *AccountHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": h.accounts.List()})
}
