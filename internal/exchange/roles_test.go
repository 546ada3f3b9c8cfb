package exchange

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
)

func TestRoleChangesAreAdminGatedAndRecorded(t *testing.T) {
	h := newHarness(t)
	newOp := common.HexToAddress("0x0f")
	before := len(h.rec.OfType(events.RoleChanged))

	assert.ErrorIs(t, h.ex.AddOperator(h.ctx, operatorAddr, newOp), auth.ErrNotAdmin)
	require.NoError(t, h.ex.AddOperator(h.ctx, adminAddr, newOp))
	assert.True(t, h.ex.Roles().IsOperator(newOp))

	require.NoError(t, h.ex.RemoveOperator(h.ctx, adminAddr, newOp))
	assert.False(t, h.ex.Roles().IsOperator(newOp))

	require.NoError(t, h.ex.AddAdmin(h.ctx, adminAddr, newOp))
	require.NoError(t, h.ex.RemoveAdmin(h.ctx, newOp, adminAddr))
	assert.False(t, h.ex.Roles().IsAdmin(adminAddr))
	assert.ErrorIs(t, h.ex.PauseTrading(h.ctx, adminAddr), auth.ErrNotAdmin)

	changes := h.rec.OfType(events.RoleChanged)
	require.Len(t, changes, before+4)
	last := changes[len(changes)-1]
	assert.Equal(t, "admin", last.Payload["role"])
	assert.Equal(t, false, last.Payload["granted"])
}

func TestLastAdminMayRenounce(t *testing.T) {
	h := newHarness(t)

	h.ex.RenounceAdminRole(h.ctx, adminAddr)
	assert.Empty(t, h.ex.Roles().Members(auth.Admin))
	assert.ErrorIs(t, h.ex.AddAdmin(h.ctx, adminAddr, adminAddr), auth.ErrNotAdmin)

	h.ex.RenounceOperatorRole(h.ctx, operatorAddr)
	assert.False(t, h.ex.Roles().IsOperator(operatorAddr))
}
