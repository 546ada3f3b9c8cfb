// Package auth holds the admin and operator role sets that gate privileged
// protocol operations. A Table is a value components receive at construction,
// so tests can build any role configuration without shared fixtures.
package auth

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
)

var (
	ErrNotAdmin    = apperrors.Sentinel(apperrors.ErrAccess, "caller is not an admin")
	ErrNotOperator = apperrors.Sentinel(apperrors.ErrAccess, "caller is not an operator")
)

type Role string

const (
	Admin    Role = "admin"
	Operator Role = "operator"
)

// Table is a versioned authorization table. Every membership change bumps the
// version. Nothing prevents the last admin from renouncing.
type Table struct {
	mu        sync.RWMutex
	admins    map[common.Address]struct{}
	operators map[common.Address]struct{}
	version   uint64
}

// NewTable seeds deployer as the sole admin and operator.
func NewTable(deployer common.Address) *Table {
	return NewTableWith([]common.Address{deployer}, []common.Address{deployer})
}

func NewTableWith(admins, operators []common.Address) *Table {
	t := &Table{
		admins:    make(map[common.Address]struct{}),
		operators: make(map[common.Address]struct{}),
	}
	for _, a := range admins {
		t.admins[a] = struct{}{}
	}
	for _, o := range operators {
		t.operators[o] = struct{}{}
	}
	return t
}

func (t *Table) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

func (t *Table) IsAdmin(addr common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.admins[addr]
	return ok
}

func (t *Table) IsOperator(addr common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.operators[addr]
	return ok
}

func (t *Table) RequireAdmin(caller common.Address) error {
	if !t.IsAdmin(caller) {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrNotAdmin)
	}
	return nil
}

func (t *Table) RequireOperator(caller common.Address) error {
	if !t.IsOperator(caller) {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrNotOperator)
	}
	return nil
}

func (t *Table) AddAdmin(caller, who common.Address) error {
	return t.set(caller, Admin, who, true)
}

func (t *Table) RemoveAdmin(caller, who common.Address) error {
	return t.set(caller, Admin, who, false)
}

func (t *Table) AddOperator(caller, who common.Address) error {
	return t.set(caller, Operator, who, true)
}

func (t *Table) RemoveOperator(caller, who common.Address) error {
	return t.set(caller, Operator, who, false)
}

// RenounceAdminRole removes caller from the admin set.
func (t *Table) RenounceAdminRole(caller common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.admins, caller)
	t.version++
}

func (t *Table) RenounceOperatorRole(caller common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.operators, caller)
	t.version++
}

func (t *Table) Members(r Role) []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.admins
	if r == Operator {
		set = t.operators
	}
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (t *Table) set(caller common.Address, r Role, who common.Address, member bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.admins[caller]; !ok {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrNotAdmin)
	}
	set := t.admins
	if r == Operator {
		set = t.operators
	}
	if member {
		set[who] = struct{}{}
	} else {
		delete(set, who)
	}
	t.version++
	return nil
}
