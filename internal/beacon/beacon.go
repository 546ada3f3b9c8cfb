// Package beacon implements the upgrade beacon every proxy wallet resolves
// its logic through. One beacon upgrade changes the behavior of every wallet
// pointing at it.
package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/metrics"
)

var (
	ErrNotOwner         = apperrors.Sentinel(apperrors.ErrAccess, "caller is not the beacon owner")
	ErrNotContract      = apperrors.Sentinel(apperrors.ErrValidation, "implementation is not a deployed contract")
	ErrZeroOwner        = apperrors.Sentinel(apperrors.ErrValidation, "owner is the zero address")
	ErrBeaconPaused     = apperrors.Sentinel(apperrors.ErrState, "beacon is paused")
	ErrNotPaused        = apperrors.Sentinel(apperrors.ErrState, "beacon is not paused")
	ErrUpgradePending   = apperrors.Sentinel(apperrors.ErrState, "an upgrade is already pending")
	ErrNoPendingUpgrade = apperrors.Sentinel(apperrors.ErrState, "no upgrade pending")
	ErrTimelockActive   = apperrors.Sentinel(apperrors.ErrState, "upgrade timelock has not elapsed")
	ErrNoRollback       = apperrors.Sentinel(apperrors.ErrState, "no rollback target")
)

// CodeRegistry tells whether an address holds deployed logic.
type CodeRegistry interface {
	IsContract(addr common.Address) bool
}

type Options struct {
	Address        common.Address
	Owner          common.Address
	Implementation common.Address
	Clock          clock.Clock
	Bus            *events.Bus
	Logger         *slog.Logger
}

// State is a snapshot of the beacon's slots.
type State struct {
	Address            common.Address `json:"address"`
	Owner              common.Address `json:"owner"`
	Implementation     common.Address `json:"implementation"`
	Paused             bool           `json:"paused"`
	PendingImpl        common.Address `json:"pendingImplementation"`
	PendingUpgradeTime time.Time      `json:"pendingUpgradeTime"`
	Timelock           time.Duration  `json:"timelockDuration"`
	RollbackImpl       common.Address `json:"rollbackImplementation"`
}

// Phase derives Normal, UpgradeScheduled or Paused.
func (s State) Phase() string {
	switch {
	case s.Paused:
		return "Paused"
	case s.PendingImpl != (common.Address{}):
		return "UpgradeScheduled"
	default:
		return "Normal"
	}
}

type Beacon struct {
	mu    sync.Mutex
	code  CodeRegistry
	clock clock.Clock
	bus   *events.Bus
	log   *slog.Logger

	address        common.Address
	owner          common.Address
	implementation common.Address
	paused         bool

	pending     common.Address
	pendingTime time.Time
	timelock    time.Duration
	rollback    common.Address
}

func New(opts Options, code CodeRegistry) (*Beacon, error) {
	if opts.Owner == (common.Address{}) {
		return nil, ErrZeroOwner
	}
	if !code.IsContract(opts.Implementation) {
		return nil, fmt.Errorf("initial implementation %s: %w", opts.Implementation.Hex(), ErrNotContract)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Beacon{
		code:           code,
		clock:          opts.Clock,
		bus:            opts.Bus,
		log:            opts.Logger,
		address:        opts.Address,
		owner:          opts.Owner,
		implementation: opts.Implementation,
	}, nil
}

func (b *Beacon) Address() common.Address { return b.address }

// Implementation is the read path of every proxy. It fails while paused
// rather than serving a stale address.
func (b *Beacon) Implementation() (common.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return common.Address{}, ErrBeaconPaused
	}
	return b.implementation, nil
}

func (b *Beacon) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Address:            b.address,
		Owner:              b.owner,
		Implementation:     b.implementation,
		Paused:             b.paused,
		PendingImpl:        b.pending,
		PendingUpgradeTime: b.pendingTime,
		Timelock:           b.timelock,
		RollbackImpl:       b.rollback,
	}
}

func (b *Beacon) Owner() common.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}

func (b *Beacon) onlyOwner(caller common.Address) error {
	if caller != b.owner {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrNotOwner)
	}
	return nil
}

// ScheduleUpgrade queues newImpl to become active once timelock has elapsed.
// Only one upgrade may be pending at a time.
func (b *Beacon) ScheduleUpgrade(ctx context.Context, caller, newImpl common.Address, timelock time.Duration) error {
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.pending != (common.Address{}) {
		b.mu.Unlock()
		return fmt.Errorf("pending %s: %w", b.pending.Hex(), ErrUpgradePending)
	}
	if timelock < 0 {
		b.mu.Unlock()
		return apperrors.NewInvalidRequest("timelock must not be negative")
	}
	if !b.code.IsContract(newImpl) {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", newImpl.Hex(), ErrNotContract)
	}
	b.pending = newImpl
	b.timelock = timelock
	b.pendingTime = b.clock.Now().Add(timelock)
	at := b.pendingTime
	b.mu.Unlock()

	b.record(ctx, events.UpgradeScheduled, map[string]any{
		"implementation": newImpl.Hex(),
		"executableAt":   at.Unix(),
	})
	return nil
}

// ExecuteUpgrade commits the pending implementation and keeps the outgoing
// one as the rollback target.
func (b *Beacon) ExecuteUpgrade(ctx context.Context, caller common.Address) error {
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.pending == (common.Address{}) {
		b.mu.Unlock()
		return ErrNoPendingUpgrade
	}
	if b.clock.Now().Before(b.pendingTime) {
		b.mu.Unlock()
		return fmt.Errorf("executable at %s: %w", b.pendingTime.UTC().Format(time.RFC3339), ErrTimelockActive)
	}
	prev, next := b.implementation, b.pending
	b.rollback = prev
	b.implementation = next
	b.clearPending()
	b.mu.Unlock()

	b.record(ctx, events.UpgradeExecuted, map[string]any{"previous": prev.Hex(), "implementation": next.Hex()})
	return nil
}

func (b *Beacon) CancelUpgrade(ctx context.Context, caller common.Address) error {
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.pending == (common.Address{}) {
		b.mu.Unlock()
		return ErrNoPendingUpgrade
	}
	cancelled := b.pending
	b.clearPending()
	b.mu.Unlock()

	b.record(ctx, events.UpgradeCancelled, map[string]any{"implementation": cancelled.Hex()})
	return nil
}

// Rollback restores the implementation replaced by the last upgrade. The
// target is consumed, so a rollback cannot itself be rolled back.
func (b *Beacon) Rollback(ctx context.Context, caller common.Address) error {
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.rollback == (common.Address{}) {
		b.mu.Unlock()
		return ErrNoRollback
	}
	from, to := b.implementation, b.rollback
	b.implementation = to
	b.rollback = common.Address{}
	b.mu.Unlock()

	b.record(ctx, events.UpgradeRolledBack, map[string]any{"from": from.Hex(), "implementation": to.Hex()})
	return nil
}

// EmergencyUpgrade commits newImpl immediately, discarding any pending upgrade.
func (b *Beacon) EmergencyUpgrade(ctx context.Context, caller, newImpl common.Address) error {
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	if !b.code.IsContract(newImpl) {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", newImpl.Hex(), ErrNotContract)
	}
	prev := b.implementation
	b.rollback = prev
	b.implementation = newImpl
	b.clearPending()
	b.mu.Unlock()

	b.log.Warn("emergency upgrade", "previous", prev.Hex(), "implementation", newImpl.Hex(), "by", caller.Hex())
	b.record(ctx, events.EmergencyUpgrade, map[string]any{"previous": prev.Hex(), "implementation": newImpl.Hex()})
	return nil
}

// Pause makes Implementation fail, halting every dependent wallet.
func (b *Beacon) Pause(ctx context.Context, caller common.Address) error {
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	if b.paused {
		b.mu.Unlock()
		return ErrBeaconPaused
	}
	b.paused = true
	b.mu.Unlock()

	b.record(ctx, events.BeaconPaused, map[string]any{"by": caller.Hex()})
	return nil
}

func (b *Beacon) Unpause(ctx context.Context, caller common.Address) error {
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	if !b.paused {
		b.mu.Unlock()
		return ErrNotPaused
	}
	b.paused = false
	b.mu.Unlock()

	b.record(ctx, events.BeaconUnpaused, map[string]any{"by": caller.Hex()})
	return nil
}

func (b *Beacon) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrZeroOwner
	}
	b.mu.Lock()
	if err := b.onlyOwner(caller); err != nil {
		b.mu.Unlock()
		return err
	}
	b.owner = newOwner
	b.mu.Unlock()

	b.log.Info("beacon ownership transferred", "from", caller.Hex(), "to", newOwner.Hex())
	b.record(ctx, events.OwnershipTransferred, map[string]any{"previous": caller.Hex(), "owner": newOwner.Hex()})
	return nil
}

func (b *Beacon) clearPending() {
	b.pending = common.Address{}
	b.pendingTime = time.Time{}
	b.timelock = 0
}

func (b *Beacon) record(ctx context.Context, t events.Type, payload map[string]any) {
	metrics.BeaconEvents.WithLabelValues(string(t)).Inc()
	payload["beacon"] = b.address.Hex()
	if err := b.bus.Publish(ctx, events.New(t, "beacon", b.clock.Now(), payload)); err != nil {
		b.log.Warn("event publish failed", "type", t, "error", err)
	}
}
