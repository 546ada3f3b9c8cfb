package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
)

func (e *Exchange) AddAdmin(ctx context.Context, caller, who common.Address) error {
	return e.changeRole(ctx, caller, who, auth.Admin, true, e.roles.AddAdmin)
}

func (e *Exchange) RemoveAdmin(ctx context.Context, caller, who common.Address) error {
	return e.changeRole(ctx, caller, who, auth.Admin, false, e.roles.RemoveAdmin)
}

func (e *Exchange) AddOperator(ctx context.Context, caller, who common.Address) error {
	return e.changeRole(ctx, caller, who, auth.Operator, true, e.roles.AddOperator)
}

func (e *Exchange) RemoveOperator(ctx context.Context, caller, who common.Address) error {
	return e.changeRole(ctx, caller, who, auth.Operator, false, e.roles.RemoveOperator)
}

// RenounceAdminRole drops caller's own admin membership. The last admin may
// renounce, leaving the exchange without one.
func (e *Exchange) RenounceAdminRole(ctx context.Context, caller common.Address) {
	e.roles.RenounceAdminRole(caller)
	e.roleChanged(ctx, caller, caller, auth.Admin, false)
	if len(e.roles.Members(auth.Admin)) == 0 {
		e.log.Warn("admin set is empty", "renounced_by", caller.Hex())
	}
}

func (e *Exchange) RenounceOperatorRole(ctx context.Context, caller common.Address) {
	e.roles.RenounceOperatorRole(caller)
	e.roleChanged(ctx, caller, caller, auth.Operator, false)
}

func (e *Exchange) changeRole(ctx context.Context, caller, who common.Address, role auth.Role, granted bool, apply func(caller, who common.Address) error) error {
	if err := apply(caller, who); err != nil {
		return err
	}
	e.roleChanged(ctx, caller, who, role, granted)
	return nil
}

func (e *Exchange) roleChanged(ctx context.Context, caller, who common.Address, role auth.Role, granted bool) {
	e.log.Info("role changed", "role", role, "account", who.Hex(), "granted", granted, "by", caller.Hex())
	e.emit(ctx, events.RoleChanged, map[string]any{
		"role":    string(role),
		"account": who.Hex(),
		"granted": granted,
		"by":      caller.Hex(),
		"version": e.roles.Version(),
	})
}
