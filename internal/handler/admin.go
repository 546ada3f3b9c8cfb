package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
)

// AdminHandler exposes the exchange's admin surface. Every call is checked
// against the exchange role table by the exchange itself.
type AdminHandler struct {
	proto *service.Protocol
}

func NewAdminHandler(proto *service.Protocol) *AdminHandler {
	return &AdminHandler{proto: proto}
}

func (h *AdminHandler) RegisterToken(c *gin.Context) {
	var req model.TokenRequest
	if !bind(c, &req) {
		return
	}
	token, err := model.ParseAmount("token", req.Token)
	if !invalid(c, err) {
		return
	}
	complement, err := model.ParseAmount("complement", req.Complement)
	if !invalid(c, err) {
		return
	}
	cond, err := model.ParseHash("condition_id", req.ConditionID)
	if !invalid(c, err) {
		return
	}
	if err := h.proto.Exchange.RegisterToken(c.Request.Context(), middleware.Caller(c), token, complement, cond); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "condition_id", cond.Hex())
	c.JSON(http.StatusOK, gin.H{"registered": true, "tokens": h.proto.Exchange.Registry().Len()})
}

func (h *AdminHandler) GetToken(c *gin.Context) {
	token, err := model.ParseAmount("token", c.Param("token"))
	if !invalid(c, err) {
		return
	}
	info, err := h.proto.Exchange.Registry().Get(token)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":        token.String(),
		"complement":   bigString(info.Complement),
		"condition_id": info.ConditionID.Hex(),
	})
}

// RegisterMarket prepares a binary condition and registers both outcome tokens.
func (h *AdminHandler) RegisterMarket(c *gin.Context) {
	var req model.MarketRequest
	if !bind(c, &req) {
		return
	}
	qid, err := model.ParseHash("question_id", req.QuestionID)
	if !invalid(c, err) {
		return
	}
	cond, yes, no, err := h.proto.RegisterMarket(c.Request.Context(), middleware.Caller(c), qid)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "condition_id", cond.Hex())
	c.JSON(http.StatusOK, model.MarketResponse{
		ConditionID: cond.Hex(),
		YesToken:    yes.String(),
		NoToken:     no.String(),
	})
}

func (h *AdminHandler) Pause(c *gin.Context) {
	if err := h.proto.Exchange.PauseTrading(c.Request.Context(), middleware.Caller(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *AdminHandler) Unpause(c *gin.Context) {
	if err := h.proto.Exchange.UnpauseTrading(c.Request.Context(), middleware.Caller(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (h *AdminHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"address":          h.proto.Exchange.Address().Hex(),
		"paused":           h.proto.Exchange.IsPaused(),
		"fee_ceiling_bps":  h.proto.Exchange.FeeRateCeiling(),
		"tokens":           h.proto.Exchange.Registry().Len(),
		"domain_separator": h.proto.Exchange.Domain().Separator().Hex(),
	})
}

func (h *AdminHandler) SetFeeCeiling(c *gin.Context) {
	var req model.FeeCeilingRequest
	if !bind(c, &req) {
		return
	}
	if err := h.proto.Exchange.SetFeeRateCeiling(c.Request.Context(), middleware.Caller(c), req.Bps); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "fee_ceiling_bps", req.Bps)
	c.JSON(http.StatusOK, gin.H{"fee_ceiling_bps": h.proto.Exchange.FeeRateCeiling()})
}

func (h *AdminHandler) ListRoles(c *gin.Context) {
	roles := h.proto.Exchange.Roles()
	c.JSON(http.StatusOK, gin.H{
		"admins":    hexAddresses(roles.Members(auth.Admin)),
		"operators": hexAddresses(roles.Members(auth.Operator)),
		"version":   roles.Version(),
	})
}

// GrantRole handles POST /roles/:role/:address.
func (h *AdminHandler) GrantRole(c *gin.Context) {
	h.changeRole(c, true)
}

// RevokeRole handles DELETE /roles/:role/:address.
func (h *AdminHandler) RevokeRole(c *gin.Context) {
	h.changeRole(c, false)
}

func (h *AdminHandler) changeRole(c *gin.Context, grant bool) {
	role, ok := roleParam(c)
	if !ok {
		return
	}
	who, ok := pathAddress(c, "address")
	if !ok {
		return
	}
	var apply func(ctx context.Context, caller, who common.Address) error
	ex := h.proto.Exchange
	switch {
	case role == auth.Admin && grant:
		apply = ex.AddAdmin
	case role == auth.Admin:
		apply = ex.RemoveAdmin
	case grant:
		apply = ex.AddOperator
	default:
		apply = ex.RemoveOperator
	}
	if err := apply(c.Request.Context(), middleware.Caller(c), who); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "role", string(role))
	middleware.AddAuditContext(c, "member", who.Hex())
	c.JSON(http.StatusOK, gin.H{"role": role, "address": who.Hex(), "granted": grant})
}

// RenounceRole drops the caller's own role. It always succeeds.
func (h *AdminHandler) RenounceRole(c *gin.Context) {
	role, ok := roleParam(c)
	if !ok {
		return
	}
	caller := middleware.Caller(c)
	if role == auth.Admin {
		h.proto.Exchange.RenounceAdminRole(c.Request.Context(), caller)
	} else {
		h.proto.Exchange.RenounceOperatorRole(c.Request.Context(), caller)
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "address": caller.Hex(), "granted": false})
}

func roleParam(c *gin.Context) (auth.Role, bool) {
	switch r := auth.Role(c.Param("role")); r {
	case auth.Admin, auth.Operator:
		return r, true
	default:
		c.Error(apperrors.NewInvalidRequest(fmt.Sprintf("unknown role %q", c.Param("role"))))
		return "", false
	}
}

func hexAddresses(in []common.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = a.Hex()
	}
	return out
}
