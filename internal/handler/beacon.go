package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/ctf-exchange/internal/beacon"
	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

type BeaconHandler struct {
	beacon *beacon.Beacon
}

func NewBeaconHandler(b *beacon.Beacon) *BeaconHandler {
	return &BeaconHandler{beacon: b}
}

func (h *BeaconHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, beaconState(h.beacon.State()))
}

func (h *BeaconHandler) ScheduleUpgrade(c *gin.Context) {
	var req model.UpgradeRequest
	if !bind(c, &req) {
		return
	}
	impl, err := model.ParseAddress("implementation", req.Implementation)
	if !invalid(c, err) {
		return
	}
	timelock := time.Duration(req.TimelockSeconds) * time.Second
	if err := h.beacon.ScheduleUpgrade(c.Request.Context(), middleware.Caller(c), impl, timelock); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "implementation", impl.Hex())
	c.JSON(http.StatusOK, beaconState(h.beacon.State()))
}

func (h *BeaconHandler) EmergencyUpgrade(c *gin.Context) {
	var req model.UpgradeRequest
	if !bind(c, &req) {
		return
	}
	impl, err := model.ParseAddress("implementation", req.Implementation)
	if !invalid(c, err) {
		return
	}
	if err := h.beacon.EmergencyUpgrade(c.Request.Context(), middleware.Caller(c), impl); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "implementation", impl.Hex())
	c.JSON(http.StatusOK, beaconState(h.beacon.State()))
}

func (h *BeaconHandler) ExecuteUpgrade(c *gin.Context) { h.ownerCall(c, h.beacon.ExecuteUpgrade) }
func (h *BeaconHandler) CancelUpgrade(c *gin.Context)  { h.ownerCall(c, h.beacon.CancelUpgrade) }
func (h *BeaconHandler) Rollback(c *gin.Context)       { h.ownerCall(c, h.beacon.Rollback) }
func (h *BeaconHandler) Pause(c *gin.Context)          { h.ownerCall(c, h.beacon.Pause) }
func (h *BeaconHandler) Unpause(c *gin.Context)        { h.ownerCall(c, h.beacon.Unpause) }

func (h *BeaconHandler) TransferOwnership(c *gin.Context) {
	var req model.AddressRequest
	if !bind(c, &req) {
		return
	}
	owner, err := model.ParseAddress("address", req.Address)
	if !invalid(c, err) {
		return
	}
	if err := h.beacon.TransferOwnership(c.Request.Context(), middleware.Caller(c), owner); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "new_owner", owner.Hex())
	c.JSON(http.StatusOK, beaconState(h.beacon.State()))
}

func (h *BeaconHandler) ownerCall(c *gin.Context, op func(ctx context.Context, caller common.Address) error) {
	if err := op(c.Request.Context(), middleware.Caller(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, beaconState(h.beacon.State()))
}

func beaconState(s beacon.State) gin.H {
	out := gin.H{
		"address":                 s.Address.Hex(),
		"owner":                   s.Owner.Hex(),
		"implementation":          s.Implementation.Hex(),
		"paused":                  s.Paused,
		"phase":                   s.Phase(),
		"rollback_implementation": s.RollbackImpl.Hex(),
	}
	if s.PendingImpl != (common.Address{}) {
		out["pending_implementation"] = s.PendingImpl.Hex()
		out["pending_upgrade_time"] = s.PendingUpgradeTime.UTC().Format(time.RFC3339)
		out["timelock_seconds"] = int64(s.Timelock / time.Second)
	}
	return out
}
