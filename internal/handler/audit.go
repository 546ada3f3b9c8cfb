package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/repository"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
)

type AuditHandler struct {
	svc *service.AuditService
}

func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// List returns the calling account's own audit trail.
func (h *AuditHandler) List(c *gin.Context) {
	acct, ok := middleware.AccountFrom(c)
	if !ok {
		c.Error(apperrors.New(apperrors.ErrAccess, "unauthorized: missing account context", nil))
		return
	}
	from, to, ok := queryRange(c)
	if !ok {
		return
	}

	records, err := h.svc.List(c.Request.Context(), repository.AuditFilter{
		Account: acct.Name,
		From:    from,
		To:      to,
		Limit:   queryLimit(c),
	})
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, records)
}
